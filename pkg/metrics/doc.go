/*
Package metrics exposes Prometheus collectors for the reconciler.

Collectors cover reconciliation runs and durations, per-stage execution
times and failures, provisioning retries, and validation check results.
All collectors are registered in init; Handler returns the promhttp
handler the deploy command serves when --metrics-addr is set.
*/
package metrics
