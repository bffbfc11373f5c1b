/*
Package errdefs defines Canopy's error taxonomy.

Every failure the reconciler has to make a decision about maps onto one
of the sentinel errors here: authentication, quota, transient network,
validation timeout, dependency ordering, state corruption, invalid spec.
Provider adapters and validators wrap their underlying failures with the
matching sentinel; the reconciler classifies with Recoverable and Fatal
and is the only component that decides retry-vs-abort.

StageError carries stage name and attempt count through the chain so the
CLI can print which stage failed and how many times it was tried.
*/
package errdefs
