package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
)

func writeSizingFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sizing.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sizing file: %v", err)
	}
	return path
}

func TestLoadSizing_EnvironmentOverrides(t *testing.T) {
	path := writeSizingFile(t, `
defaults:
  nodeCount: 3
  machineType: standard-4
  diskGB: 80
environments:
  production:
    nodeCount: 6
    machineType: standard-8
  development:
    nodeCount: 1
`)

	cfg, err := LoadSizing(path)
	if err != nil {
		t.Fatalf("LoadSizing: %v", err)
	}

	prod := cfg.For(types.EnvProduction)
	if prod.NodeCount != 6 || prod.MachineType != "standard-8" {
		t.Errorf("production profile not applied: %+v", prod)
	}
	if prod.DiskGB != 80 {
		t.Errorf("production should inherit defaults diskGB, got %d", prod.DiskGB)
	}

	dev := cfg.For(types.EnvDevelopment)
	if dev.NodeCount != 1 || dev.MachineType != "standard-4" {
		t.Errorf("development profile wrong: %+v", dev)
	}

	// Unlisted environment gets the file defaults
	staging := cfg.For(types.EnvStaging)
	if staging.NodeCount != 3 || staging.DiskGB != 80 {
		t.Errorf("staging should match defaults: %+v", staging)
	}
}

func TestLoadSizing_MalformedYAML(t *testing.T) {
	path := writeSizingFile(t, "defaults: [not a map")
	_, err := LoadSizing(path)
	if !errors.Is(err, errdefs.ErrInvalidSpec) {
		t.Errorf("expected invalid-spec error, got %v", err)
	}
}

func TestLoadSizing_MissingFile(t *testing.T) {
	_, err := LoadSizing(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, errdefs.ErrInvalidSpec) {
		t.Errorf("an unreadable sizing file is an invalid argument, got %v", err)
	}
}

func TestBuildSpec_Valid(t *testing.T) {
	spec, err := BuildSpec(Options{
		Name:        "orders-api",
		Provider:    "aws",
		Environment: "staging",
		Region:      "us-east-1",
		GPUEnabled:  true,
	})
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	if spec.Provider != types.ProviderAWS || !spec.GPUEnabled {
		t.Errorf("spec fields lost: %+v", spec)
	}
	if spec.Sizing != DefaultSizing {
		t.Errorf("expected default sizing without a file, got %+v", spec.Sizing)
	}
}

func TestBuildSpec_UsesSizingFile(t *testing.T) {
	path := writeSizingFile(t, `
environments:
  production:
    nodeCount: 10
`)
	spec, err := BuildSpec(Options{
		Name:        "orders-api",
		Provider:    "gcp",
		Environment: "production",
		SizingFile:  path,
	})
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	if spec.Sizing.NodeCount != 10 {
		t.Errorf("sizing file not applied, got %+v", spec.Sizing)
	}
}

func TestBuildSpec_Invalid(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"empty name", Options{Provider: "aws", Environment: "staging"}},
		{"bad provider", Options{Name: "x", Provider: "digitalocean", Environment: "staging"}},
		{"bad environment", Options{Name: "x", Provider: "aws", Environment: "qa"}},
		{"uppercase name", Options{Name: "Orders_API", Provider: "aws", Environment: "staging"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildSpec(tc.opts); !errors.Is(err, errdefs.ErrInvalidSpec) {
				t.Errorf("expected invalid-spec error, got %v", err)
			}
		})
	}
}
