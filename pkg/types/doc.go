/*
Package types defines the core data structures used throughout Canopy.

This package contains the fundamental types of the deployment reconciler's
domain model: deployment specs, per-stage status records, provisioning
results, and validation targets. All other packages depend on it; it
depends on nothing but the standard library.

# Data Model

	DeploymentSpec    - user intent (provider, environment, sizing, flags);
	                    immutable once a reconciliation run starts
	DeploymentState   - persisted record per named deployment: phase,
	                    per-stage status table, spec hash, timestamps
	ProvisionResult   - outputs of a provider adapter's Provision call
	ValidationTarget  - one health contract probed after a stage applies

# Stage Lifecycle

A stage's status only ever moves along

	PENDING → APPLIED → VALIDATED

or from any status to FAILED. ValidTransition encodes this; SetStage
enforces it on every recorded mutation. A FAILED stage may be reset to
PENDING, but only through an explicit transition (rollback/retry), never
silently.

Specs are compared by Hash, a SHA-256 over the canonical JSON encoding.
A validated stage is skipped on re-reconciliation only while the hash is
unchanged.

All types are JSON-serializable; the plan store persists DeploymentState
as JSON records.

# See Also

  - pkg/planstore for persistence
  - pkg/reconciler for how state is mutated
*/
package types
