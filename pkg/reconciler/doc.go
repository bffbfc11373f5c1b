/*
Package reconciler drives deployment state toward a desired spec through
ordered stage execution.

The reconciler is the top-level control loop and the only component
permitted to write to the plan store. One run:

 1. Load the deployment's state record, or initialize it on first
    reconciliation.
 2. Derive the stage execution order by topological sort.
 3. For each stage in order: skip it when already VALIDATED and the
    spec hash is unchanged; otherwise hand it to the stage runner.
 4. Stop advancing on the first failure and surface the error - there
    is no automatic rollback; teardown is a separate operator-invoked
    action.
 5. When every stage validates, set the phase to COMPLETE.

A changed spec hash invalidates all previously validated stages, so the
whole graph re-runs against the new desired state.

# Failure Handling

The reconciler is the sole retry-vs-abort decision point. Recoverable
failures (quota, transient network) re-run the whole loop up to a
bounded retry count; everything already validated is skipped on the
re-run, so only the failing remainder is retried. Fatal failures (bad
credentials, ordering bugs, corrupt state) surface immediately.

# Concurrency

Runs are serialized per deployment name through in-process keyed locks;
distinct names reconcile concurrently against the same store. During a
run the state record is owned exclusively by the reconciler - other
components receive clones and never see the live record.

# Offshoots

Plan computes the skip/apply decision per stage without mutating
anything (--dry-run). Status reports persisted state plus a drift check
of the provider's actual infrastructure via Describe. Teardown rolls the
stage graph back in reverse order and deletes the state record.
*/
package reconciler
