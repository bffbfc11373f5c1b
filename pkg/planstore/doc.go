/*
Package planstore provides durable, crash-safe storage of deployment
state, keyed by deployment name.

Two backends implement the Store interface:

  - BoltStore - the default: a local BoltDB file under the data
    directory. Each Save runs in one write transaction, so a crash
    mid-write leaves either the previous record or the new one, never a
    torn mix. Bolt's own locking makes concurrent access across distinct
    deployment names safe within a process.

  - S3Store - a remote object store backend for operators who share
    deployment state across machines. One JSON object per deployment;
    S3's per-key atomic PUT provides the same overwrite guarantee.

Records are stored as JSON-encoded types.DeploymentState. Both backends
run CheckIntegrity on every read and surface failures as
errdefs.ErrStateCorrupted - corrupt state is reported for manual
intervention, never silently repaired.

The reconciler is the only writer; every other component receives state
snapshots by value.
*/
package planstore
