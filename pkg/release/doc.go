/*
Package release applies application releases to a provisioned cluster.

The platform and app stages delegate here instead of provisioning infra:
an Applier converges a set of chart releases the way helm upgrade
--install does, idempotently per release. SetFor derives the release set
for a stage from the deployment spec's feature flags (GPU adds the GPU
operator, canary adds flagger).

HelmApplier shells out to the helm binary; FakeApplier records applies
in memory for the local provider and tests.
*/
package release
