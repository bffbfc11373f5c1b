/*
Package events provides an in-memory broker for reconciliation events.

The reconciler publishes stage transitions (started, applied, validated,
failed, skipped) and run outcomes; the deploy command subscribes to
render progress as stages advance. Delivery is asynchronous and
non-blocking: a publisher never waits on a slow subscriber, and a
subscriber whose buffer is full drops events rather than stalling the
reconciliation.
*/
package events
