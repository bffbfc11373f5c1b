package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
)

var specValidator = validator.New()

// SizingConfig is the on-disk cluster sizing file. Per-environment
// profiles override the defaults field by field.
type SizingConfig struct {
	Defaults     SizingProfile                       `yaml:"defaults"`
	Environments map[types.Environment]SizingProfile `yaml:"environments"`
}

// SizingProfile mirrors types.ClusterSizing with optional fields, so a
// profile can override just the values it cares about.
type SizingProfile struct {
	NodeCount         *int    `yaml:"nodeCount"`
	MachineType       *string `yaml:"machineType"`
	DiskGB            *int    `yaml:"diskGB"`
	KubernetesVersion *string `yaml:"kubernetesVersion"`
}

// DefaultSizing is used when no sizing file is given
var DefaultSizing = types.ClusterSizing{
	NodeCount:   2,
	MachineType: "standard-2",
	DiskGB:      50,
}

// LoadSizing reads and parses a sizing configuration file
func LoadSizing(path string) (*SizingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read sizing file: %v", errdefs.ErrInvalidSpec, err)
	}
	var cfg SizingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse sizing file %s: %v", errdefs.ErrInvalidSpec, path, err)
	}
	return &cfg, nil
}

// For resolves the effective sizing for one environment: defaults first,
// then the environment profile on top
func (c *SizingConfig) For(env types.Environment) types.ClusterSizing {
	sizing := DefaultSizing
	c.Defaults.apply(&sizing)
	if profile, ok := c.Environments[env]; ok {
		profile.apply(&sizing)
	}
	return sizing
}

func (p SizingProfile) apply(s *types.ClusterSizing) {
	if p.NodeCount != nil {
		s.NodeCount = *p.NodeCount
	}
	if p.MachineType != nil {
		s.MachineType = *p.MachineType
	}
	if p.DiskGB != nil {
		s.DiskGB = *p.DiskGB
	}
	if p.KubernetesVersion != nil {
		s.KubernetesVersion = *p.KubernetesVersion
	}
}

// Options are the CLI inputs that build a deployment spec
type Options struct {
	Name          string
	Provider      string
	Environment   string
	Region        string
	GPUEnabled    bool
	CanaryEnabled bool
	SizingFile    string
}

// BuildSpec merges CLI options and the optional sizing file into a
// validated DeploymentSpec. Validation failures are invalid-spec errors.
func BuildSpec(opts Options) (types.DeploymentSpec, error) {
	sizing := DefaultSizing
	if opts.SizingFile != "" {
		cfg, err := LoadSizing(opts.SizingFile)
		if err != nil {
			return types.DeploymentSpec{}, err
		}
		sizing = cfg.For(types.Environment(opts.Environment))
	}

	spec := types.DeploymentSpec{
		Name:          opts.Name,
		Provider:      types.Provider(opts.Provider),
		Environment:   types.Environment(opts.Environment),
		Region:        opts.Region,
		GPUEnabled:    opts.GPUEnabled,
		CanaryEnabled: opts.CanaryEnabled,
		Sizing:        sizing,
	}
	if err := Validate(spec); err != nil {
		return types.DeploymentSpec{}, err
	}
	return spec, nil
}

// Validate checks a spec against its struct constraints
func Validate(spec types.DeploymentSpec) error {
	if err := specValidator.Struct(spec); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrInvalidSpec, err)
	}
	return nil
}
