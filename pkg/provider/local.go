package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/canopyproj/canopy/pkg/types"
)

// LocalAdapter provisions "infrastructure" as directories under a local
// root. It backs the local provider for development and is the adapter
// used by the test suites: it has real idempotence and teardown
// semantics without touching a cloud API.
type LocalAdapter struct {
	root string

	mu sync.Mutex
	// mutations counts state-changing operations, so tests can assert
	// that a repeated Provision made no additional changes
	mutations int
}

type localRecord struct {
	Result   types.ProvisionResult `json:"result"`
	SpecHash string                `json:"specHash"`
}

// NewLocalAdapter creates an adapter rooted at dir (created if absent)
func NewLocalAdapter(dir string) (*LocalAdapter, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "canopy-local")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local provider root: %w", err)
	}
	return &LocalAdapter{root: dir}, nil
}

// Name returns the provider this adapter targets
func (l *LocalAdapter) Name() types.Provider {
	return types.ProviderLocal
}

// Mutations returns the count of state-changing operations performed
func (l *LocalAdapter) Mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mutations
}

func (l *LocalAdapter) recordPath(id string) string {
	return filepath.Join(l.root, id, "cluster.json")
}

// Provision creates the cluster directory and record. A second call
// with an unchanged spec returns the stored result without mutating.
func (l *LocalAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hash := spec.Hash()
	existing, err := l.readRecord(spec.Name)
	if err == nil && existing.SpecHash == hash {
		res := existing.Result
		return &res, nil
	}

	result := types.ProvisionResult{
		ID:       spec.Name,
		Endpoint: fmt.Sprintf("local://%s", spec.Name),
		Registry: fmt.Sprintf("local://%s/registry", spec.Name),
		Network:  fmt.Sprintf("local://%s/network", spec.Name),
		Labels: map[string]string{
			"environment": string(spec.Environment),
			"nodes":       fmt.Sprintf("%d", spec.Sizing.NodeCount),
		},
	}
	if spec.GPUEnabled {
		result.Labels["gpu"] = "enabled"
	}

	if err := os.MkdirAll(filepath.Join(l.root, spec.Name), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cluster dir: %w", err)
	}
	data, err := json.Marshal(localRecord{Result: result, SpecHash: hash})
	if err != nil {
		return nil, err
	}
	tmp := l.recordPath(spec.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write cluster record: %w", err)
	}
	if err := os.Rename(tmp, l.recordPath(spec.Name)); err != nil {
		return nil, fmt.Errorf("failed to commit cluster record: %w", err)
	}
	l.mutations++

	return &result, nil
}

// Teardown removes the cluster directory
func (l *LocalAdapter) Teardown(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(l.root, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	l.mutations++
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("teardown of %s left resources behind: %w", id, err)
	}
	return nil
}

// Describe reads the stored cluster record
func (l *LocalAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.readRecord(id)
	if err != nil {
		return nil, ErrNotFound
	}
	res := rec.Result
	return &res, nil
}

func (l *LocalAdapter) readRecord(id string) (*localRecord, error) {
	data, err := os.ReadFile(l.recordPath(id))
	if err != nil {
		return nil, err
	}
	var rec localRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
