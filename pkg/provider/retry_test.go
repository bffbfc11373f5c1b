package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
)

func init() {
	retryInitialInterval = time.Millisecond
}

// flakyAdapter fails Provision a fixed number of times before succeeding
type flakyAdapter struct {
	failures int
	failWith error
	calls    int
}

func (f *flakyAdapter) Name() types.Provider { return types.ProviderLocal }

func (f *flakyAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failWith
	}
	return &types.ProvisionResult{ID: spec.Name}, nil
}

func (f *flakyAdapter) Teardown(ctx context.Context, id string) error { return nil }

func (f *flakyAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	return nil, ErrNotFound
}

func TestProvisionWithRetry_RecoversFromTransientFailures(t *testing.T) {
	adapter := &flakyAdapter{
		failures: 2,
		failWith: errdefs.TransientNetwork(errors.New("connection reset")),
	}

	result, err := ProvisionWithRetry(context.Background(), adapter, localSpec("test1"), 4)
	require.NoError(t, err)
	assert.Equal(t, "test1", result.ID)
	assert.Equal(t, 3, adapter.calls)
}

func TestProvisionWithRetry_AuthFailureNotRetried(t *testing.T) {
	adapter := &flakyAdapter{
		failures: 100,
		failWith: errdefs.Authentication(errors.New("expired token")),
	}

	_, err := ProvisionWithRetry(context.Background(), adapter, localSpec("test1"), 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrAuthentication))
	assert.Equal(t, 1, adapter.calls)
}

func TestProvisionWithRetry_BoundedAttempts(t *testing.T) {
	adapter := &flakyAdapter{
		failures: 100,
		failWith: errdefs.QuotaExceeded(errors.New("vCPU limit reached")),
	}

	_, err := ProvisionWithRetry(context.Background(), adapter, localSpec("test1"), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrQuotaExceeded))
	assert.Equal(t, 3, adapter.calls) // initial attempt + 2 retries
}
