package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopyproj/canopy/pkg/types"
)

// ErrNotFound is returned by Describe when no infrastructure exists for
// the given id
var ErrNotFound = errors.New("infrastructure not found")

// Adapter is the uniform provisioning contract over heterogeneous cloud
// backends. Credentials are obtained from each cloud's native mechanism
// (AWS profiles, Azure CLI session, gcloud auth) when the adapter is
// constructed and live only for the duration of one reconciliation run;
// they are never persisted.
type Adapter interface {
	// Name returns the provider this adapter targets
	Name() types.Provider

	// Provision creates or updates the cluster and supporting infra for
	// a spec. It is idempotent: a second call with the same spec makes
	// no additional changes and returns the same result. Long-running;
	// must honor ctx cancellation and leave infrastructure resumable,
	// not torn.
	Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error)

	// Teardown removes the infrastructure for an id. Best effort: on
	// partial failure it returns an error enumerating what remains,
	// never a silent partial success.
	Teardown(ctx context.Context, id string) error

	// Describe fetches current infrastructure state read-only, for
	// drift detection. Returns ErrNotFound when nothing exists.
	Describe(ctx context.Context, id string) (*types.ProvisionResult, error)
}

// Options carries the cloud-side settings that are not part of the
// deployment spec: account scoping and placement. Populated from
// environment and CLI flags.
type Options struct {
	// AWS
	AWSRegion      string
	AWSRoleArn     string
	AWSNodeRoleArn string
	AWSSubnetIDs   []string

	// Azure
	AzureSubscriptionID string
	AzureResourceGroup  string
	AzureLocation       string

	// GCP
	GCPProject  string
	GCPLocation string

	// Local
	LocalRoot string
}

// ForSpec returns the adapter matching the spec's provider selection
func ForSpec(ctx context.Context, spec types.DeploymentSpec, opts Options) (Adapter, error) {
	switch spec.Provider {
	case types.ProviderLocal:
		return NewLocalAdapter(opts.LocalRoot)
	case types.ProviderAWS:
		return NewAWSAdapter(ctx, opts)
	case types.ProviderAzure:
		return NewAzureAdapter(opts)
	case types.ProviderGCP:
		return NewGCPAdapter(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown provider %q", spec.Provider)
	}
}
