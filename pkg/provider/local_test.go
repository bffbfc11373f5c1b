package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyproj/canopy/pkg/types"
)

func localSpec(name string) types.DeploymentSpec {
	return types.DeploymentSpec{
		Name:        name,
		Provider:    types.ProviderLocal,
		Environment: types.EnvDevelopment,
		Sizing: types.ClusterSizing{
			NodeCount:   2,
			MachineType: "standard-2",
			DiskGB:      20,
		},
	}
}

func TestLocalAdapter_ProvisionIdempotent(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	spec := localSpec("test1")

	first, err := adapter.Provision(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.Mutations())

	// Second call with an identical spec: same result, no new mutations
	second, err := adapter.Provision(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, adapter.Mutations())
}

func TestLocalAdapter_ChangedSpecReprovisions(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	spec := localSpec("test1")

	_, err = adapter.Provision(ctx, spec)
	require.NoError(t, err)

	spec.Sizing.NodeCount = 5
	result, err := adapter.Provision(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "5", result.Labels["nodes"])
	assert.Equal(t, 2, adapter.Mutations())
}

func TestLocalAdapter_DescribeAfterProvision(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	provisioned, err := adapter.Provision(ctx, localSpec("test1"))
	require.NoError(t, err)

	described, err := adapter.Describe(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, provisioned, described)
}

func TestLocalAdapter_DescribeMissing(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	_, err = adapter.Describe(context.Background(), "never-provisioned")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalAdapter_TeardownComplete(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = adapter.Provision(ctx, localSpec("test1"))
	require.NoError(t, err)

	require.NoError(t, adapter.Teardown(ctx, "test1"))

	_, err = adapter.Describe(ctx, "test1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Teardown of already-removed infra is a no-op
	assert.NoError(t, adapter.Teardown(ctx, "test1"))
}

func TestLocalAdapter_CancelledContext(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = adapter.Provision(ctx, localSpec("test1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, adapter.Mutations())
}

func TestLocalAdapter_GPUFlagSurfaces(t *testing.T) {
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	spec := localSpec("gpu-deploy")
	spec.GPUEnabled = true

	result, err := adapter.Provision(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "enabled", result.Labels["gpu"])
}
