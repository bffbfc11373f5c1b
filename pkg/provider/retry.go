package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/metrics"
	"github.com/canopyproj/canopy/pkg/types"
)

// DefaultProvisionRetries bounds how many times a recoverable provision
// failure (quota, transient network) is retried before surfacing.
const DefaultProvisionRetries = 4

// lowered by tests to keep retry loops fast
var retryInitialInterval = 2 * time.Second

// ProvisionWithRetry calls adapter.Provision under the standard retry
// policy: recoverable errors back off exponentially up to maxRetries
// additional attempts, everything else aborts immediately. Cancellation
// of ctx stops the retry loop between attempts.
func ProvisionWithRetry(ctx context.Context, a Adapter, spec types.DeploymentSpec, maxRetries uint64) (*types.ProvisionResult, error) {
	var result *types.ProvisionResult

	op := func() error {
		res, err := a.Provision(ctx, spec)
		if err != nil {
			if errdefs.Recoverable(err) {
				metrics.ProvisionRetries.WithLabelValues(string(a.Name())).Inc()
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = time.Minute

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
