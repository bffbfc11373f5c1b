/*
Package stage turns the deployment pipeline into an explicit, testable
data structure: a registry of named stage definitions with declared
dependencies, plus a runner that executes one stage at a time.

# Definitions

A Definition bundles a stage's apply operation, its post-apply
validation targets, and its rollback operation. Stages are registered
statically at startup; the standard graph is

	infra → platform → app → validate

Registry.Order derives the execution order by topological sort, with
deterministic tie-breaking by registration order. Unknown dependencies
and cycles fail fast.

# Execution

Runner.Run refuses to touch a stage whose dependencies are not all
VALIDATED (errdefs.ErrDependencyNotSatisfied - an ordering bug, fatal).
After a successful apply the stage becomes APPLIED, then its validation
targets are polled with capped exponential backoff until every check
passes (VALIDATED) or the window closes, in which case the stage is
FAILED and the error carries the last observed diagnostic
(errdefs.ErrValidationTimeout). Every error the runner propagates is
annotated with the stage name and attempt count.

The runner mutates only the state snapshot it is handed; persisting the
snapshot is the reconciler's job.
*/
package stage
