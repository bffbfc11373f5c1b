package release

import (
	"context"
	"fmt"
	"sort"

	"github.com/canopyproj/canopy/pkg/types"
)

// Definition describes one chart release to apply to a cluster
type Definition struct {
	Name      string
	Chart     string
	Namespace string
	Values    map[string]string
}

// Applier installs and removes application releases on a provisioned
// cluster. Apply is idempotent in the helm upgrade --install sense:
// re-applying an unchanged release converges without side effects.
// Uninstall takes the namespace the release was installed into.
type Applier interface {
	Apply(ctx context.Context, endpoint string, rel Definition) (types.Release, error)
	Uninstall(ctx context.Context, endpoint, name, namespace string) error
}

// SetFor returns the releases a stage applies for a spec. The platform
// stage carries the shared services (metrics, tracing, log indexing,
// secret storage); the app stage carries the CI/CD workload itself.
func SetFor(spec types.DeploymentSpec, stage string) []Definition {
	var defs []Definition
	switch stage {
	case "platform":
		defs = []Definition{
			{Name: "prometheus", Chart: "prometheus-community/kube-prometheus-stack", Namespace: "monitoring"},
			{Name: "jaeger", Chart: "jaegertracing/jaeger", Namespace: "monitoring"},
			{Name: "elasticsearch", Chart: "elastic/elasticsearch", Namespace: "logging"},
			{Name: "vault", Chart: "hashicorp/vault", Namespace: "security"},
		}
		if spec.GPUEnabled {
			defs = append(defs, Definition{
				Name: "gpu-operator", Chart: "nvidia/gpu-operator", Namespace: "gpu-operator",
			})
		}
	case "app":
		jenkins := Definition{
			Name: "jenkins", Chart: "jenkins/jenkins", Namespace: "cicd",
			Values: map[string]string{
				"controller.installPlugins": "true",
				"environment":               string(spec.Environment),
			},
		}
		defs = []Definition{jenkins}
		if spec.CanaryEnabled {
			defs = append(defs, Definition{
				Name: "flagger", Chart: "flagger/flagger", Namespace: "cicd",
			})
		}
	}
	return defs
}

// sortedValues renders a Values map as deterministic key=value pairs
func sortedValues(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return out
}
