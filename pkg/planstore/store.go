package planstore

import (
	"github.com/canopyproj/canopy/pkg/types"
)

// Store defines the interface for durable deployment state storage.
// Save must be atomic: a crash mid-write leaves either the previous or
// the new record, never a torn one. Distinct deployment names must be
// safe to access concurrently.
type Store interface {
	// Load fetches the state record for a deployment. found is false
	// when the deployment has never been reconciled.
	Load(name string) (state *types.DeploymentState, found bool, err error)

	// Save atomically overwrites the state record for a deployment
	Save(name string, state *types.DeploymentState) error

	// Delete removes the state record for a deployment
	Delete(name string) error

	// List returns the names of all known deployments
	List() ([]string, error)

	// Close releases the backing store
	Close() error
}
