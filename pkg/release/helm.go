package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/types"
)

// HelmApplier applies releases by shelling out to the helm binary
// against the cluster named in the kubeconfig context.
type HelmApplier struct {
	// Binary is the helm executable (default "helm")
	Binary string

	// Kubeconfig is passed to every invocation when set
	Kubeconfig string
}

// NewHelmApplier creates an applier using the helm binary on PATH
func NewHelmApplier(kubeconfig string) *HelmApplier {
	return &HelmApplier{Binary: "helm", Kubeconfig: kubeconfig}
}

func (h *HelmApplier) upgradeArgs(rel Definition) []string {
	args := []string{"upgrade", "--install", rel.Name, rel.Chart,
		"--namespace", rel.Namespace, "--create-namespace", "--wait"}
	for _, kv := range sortedValues(rel.Values) {
		args = append(args, "--set", kv)
	}
	if h.Kubeconfig != "" {
		args = append(args, "--kubeconfig", h.Kubeconfig)
	}
	return args
}

// Apply runs helm upgrade --install and reads back the release revision
func (h *HelmApplier) Apply(ctx context.Context, endpoint string, rel Definition) (types.Release, error) {
	logger := log.WithComponent("helm")
	logger.Info().Str("release", rel.Name).Str("chart", rel.Chart).Msg("applying release")

	cmd := exec.CommandContext(ctx, h.Binary, h.upgradeArgs(rel)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return types.Release{}, fmt.Errorf("helm upgrade %s: %w: %s", rel.Name, err, stderr.String())
	}

	revision, err := h.revision(ctx, rel)
	if err != nil {
		return types.Release{}, err
	}

	return types.Release{
		Name:      rel.Name,
		Chart:     rel.Chart,
		Namespace: rel.Namespace,
		Revision:  revision,
		AppliedAt: time.Now().UTC(),
	}, nil
}

func (h *HelmApplier) revision(ctx context.Context, rel Definition) (int, error) {
	args := []string{"status", rel.Name, "--namespace", rel.Namespace, "-o", "json"}
	if h.Kubeconfig != "" {
		args = append(args, "--kubeconfig", h.Kubeconfig)
	}
	out, err := exec.CommandContext(ctx, h.Binary, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("helm status %s: %w", rel.Name, err)
	}
	var status struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return 0, fmt.Errorf("parse helm status for %s: %w", rel.Name, err)
	}
	return status.Version, nil
}

func (h *HelmApplier) uninstallArgs(name, namespace string) []string {
	args := []string{"uninstall", name}
	if namespace != "" {
		args = append(args, "--namespace", namespace)
	}
	if h.Kubeconfig != "" {
		args = append(args, "--kubeconfig", h.Kubeconfig)
	}
	return args
}

// Uninstall removes a release from the namespace it was installed into
func (h *HelmApplier) Uninstall(ctx context.Context, endpoint, name, namespace string) error {
	cmd := exec.CommandContext(ctx, h.Binary, h.uninstallArgs(name, namespace)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helm uninstall %s: %w: %s", name, err, stderr.String())
	}
	return nil
}
