/*
Package validate confirms that a stage's deployed services satisfy their
health contract.

This is the programmatic form of the curl / kubectl-wait loops an
operator would otherwise script by hand. A Validator dispatches each
types.ValidationTarget to the prober matching its kind:

  - http - GET the target URL, pass on a 2xx/3xx status
  - tcp  - open a connection to the target address
  - exec - run a command, pass on exit code 0

Checks are deterministic and free of side effects beyond network reads,
bounded by a per-check timeout, and always respect the caller's context.
The validator never mutates deployment state; the reconciler alone acts
on its pass/fail result. Retry and backoff around failing checks live in
pkg/stage, not here.
*/
package validate
