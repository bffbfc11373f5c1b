/*
Package provider isolates cloud-specific provisioning behind the Adapter
interface.

One adapter exists per backend:

  - aws   - EKS cluster plus a default managed nodegroup (aws-sdk-go-v2)
  - azure - AKS managed cluster (azure-sdk-for-go / armcontainerservice)
  - gcp   - GKE cluster (google.golang.org/api container/v1)
  - local - directory-backed fake infra for development and tests

# Contract

Provision is idempotent: every adapter checks for existing
infrastructure first and re-running with an unchanged spec makes no
additional mutating calls. Provision blocks until the infrastructure is
usable (cluster active/running) and honors context cancellation between
polls - a cancelled run leaves the cloud-side operation in progress and
resumable, never torn.

Teardown is best effort but never silently partial: when anything cannot
be removed, the returned error enumerates what remains.

Describe is strictly read-only and returns ErrNotFound when no
infrastructure exists; the reconciler uses it for drift detection.

# Failures

Adapters classify API failures with pkg/errdefs: credential problems are
ErrAuthentication (fatal), quota exhaustion is ErrQuotaExceeded and
5xx-class blips are ErrTransientNetwork (both recoverable).
ProvisionWithRetry applies the bounded exponential backoff policy for
the recoverable class; everything else aborts the attempt immediately.

Credentials come from each cloud's native mechanism and are held only in
the adapter for the life of one run.
*/
package provider
