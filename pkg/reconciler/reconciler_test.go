package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/events"
	"github.com/canopyproj/canopy/pkg/planstore"
	"github.com/canopyproj/canopy/pkg/provider"
	"github.com/canopyproj/canopy/pkg/release"
	"github.com/canopyproj/canopy/pkg/stage"
	"github.com/canopyproj/canopy/pkg/types"
	"github.com/canopyproj/canopy/pkg/validate"
)

type harness struct {
	store      *planstore.BoltStore
	adapter    *provider.LocalAdapter
	applier    *release.FakeApplier
	reconciler *Reconciler
	broker     *events.Broker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := planstore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adapter, err := provider.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	applier := release.NewFakeApplier()
	registry, err := StandardStages(adapter, applier)
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	runner := stage.NewRunner(validate.New()).
		WithValidationWindow(time.Millisecond, 5*time.Millisecond, 100*time.Millisecond)

	return &harness{
		store:   store,
		adapter: adapter,
		applier: applier,
		broker:  broker,
		reconciler: New(Config{
			Store:    store,
			Adapter:  adapter,
			Registry: registry,
			Runner:   runner,
			Broker:   broker,
		}),
	}
}

func devSpec(name string) types.DeploymentSpec {
	return types.DeploymentSpec{
		Name:        name,
		Provider:    types.ProviderLocal,
		Environment: types.EnvDevelopment,
		Sizing: types.ClusterSizing{
			NodeCount:   2,
			MachineType: "standard-2",
			DiskGB:      20,
		},
	}
}

func TestReconcile_FreshDeployRunsStagesInOrder(t *testing.T) {
	h := newHarness(t)
	sub := h.broker.Subscribe()
	defer h.broker.Unsubscribe(sub)

	st, err := h.reconciler.Reconcile(context.Background(), devSpec("test1"))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)

	for _, name := range []string{StageInfra, StagePlatform, StageApp, StageValidate} {
		assert.Equal(t, types.StageValidated, st.StageStatusOf(name), name)
	}

	// Stage start events arrive in topological order
	var started []string
	deadline := time.After(time.Second)
	for len(started) < 4 {
		select {
		case ev := <-sub:
			if ev.Type == events.EventStageStarted {
				started = append(started, ev.Stage)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for stage events, got %v", started)
		}
	}
	assert.Equal(t, []string{StageInfra, StagePlatform, StageApp, StageValidate}, started)

	// Infra provisioned once, platform and app releases applied
	assert.Equal(t, 1, h.adapter.Mutations())
	jenkins, ok := h.applier.Applied("jenkins")
	require.True(t, ok)
	assert.Equal(t, 1, jenkins.Revision)
}

func TestReconcile_SecondRunSkipsValidatedStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	_, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)

	st, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)

	// No additional provisioning or release mutations
	assert.Equal(t, 1, h.adapter.Mutations())
	jenkins, _ := h.applier.Applied("jenkins")
	assert.Equal(t, 1, jenkins.Revision)
}

func TestReconcile_ResumeAfterFailureRetriesOnlyRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	// First run: infra validates, platform fails
	h.applier.FailWith = errors.New("helm repo unreachable")
	_, err := h.reconciler.Reconcile(ctx, spec)
	require.Error(t, err)

	persisted, found, err := h.store.Load("test1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.PhaseFailed, persisted.Phase)
	assert.Equal(t, types.StageValidated, persisted.StageStatusOf(StageInfra))
	assert.Equal(t, types.StageFailed, persisted.StageStatusOf(StagePlatform))
	assert.Equal(t, types.StagePending, persisted.StageStatusOf(StageApp))

	// Second run: only platform onward executes
	h.applier.FailWith = nil
	st, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)
	assert.Equal(t, 1, h.adapter.Mutations(), "infra must not re-provision")
}

func TestReconcile_SpecChangeRerunsAllStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	_, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)

	spec.Sizing.NodeCount = 5
	st, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)
	assert.Equal(t, spec.Hash(), st.SpecHash)

	// Infra re-provisioned, releases re-applied
	assert.Equal(t, 2, h.adapter.Mutations())
	jenkins, _ := h.applier.Applied("jenkins")
	assert.Equal(t, 2, jenkins.Revision)
}

func TestReconcile_ConcurrentDistinctDeployments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	names := []string{"deploy-a", "deploy-b"}
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = h.reconciler.Reconcile(ctx, devSpec(name))
		}(i, name)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, names[i])
	}
	for _, name := range names {
		st, found, err := h.store.Load(name)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, types.PhaseComplete, st.Phase)
		assert.Equal(t, name, st.Name)
	}
}

func TestReconcile_FatalErrorNotRetried(t *testing.T) {
	h := newHarness(t)

	authAdapter := &failingAdapter{err: errdefs.Authentication(errors.New("expired session"))}
	registry, err := StandardStages(authAdapter, h.applier)
	require.NoError(t, err)

	rec := New(Config{
		Store:    h.store,
		Adapter:  authAdapter,
		Registry: registry,
		Runner: stage.NewRunner(validate.New()).
			WithValidationWindow(time.Millisecond, 5*time.Millisecond, 50*time.Millisecond),
	})

	_, err = rec.Reconcile(context.Background(), devSpec("test1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrAuthentication))
	assert.Equal(t, 1, authAdapter.calls, "fatal errors must not retry")
}

func TestReconcile_ValidateStageProbesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	h := newHarness(t)
	adapter := &endpointAdapter{inner: h.adapter, endpoint: server.URL}
	registry, err := StandardStages(adapter, h.applier)
	require.NoError(t, err)

	rec := New(Config{
		Store:    h.store,
		Adapter:  adapter,
		Registry: registry,
		Runner: stage.NewRunner(validate.New()).
			WithValidationWindow(time.Millisecond, 5*time.Millisecond, 100*time.Millisecond),
	})

	st, err := rec.Reconcile(context.Background(), devSpec("test1"))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)
	assert.Equal(t, types.StageValidated, st.StageStatusOf(StageValidate))
}

func TestPlan_DryRunDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	plan, err := h.reconciler.Plan(ctx, spec)
	require.NoError(t, err)
	require.Len(t, plan, 4)
	for _, p := range plan {
		assert.Equal(t, "apply", p.Action, p.Stage)
	}

	// Nothing happened
	assert.Equal(t, 0, h.adapter.Mutations())
	_, found, err := h.store.Load("test1")
	require.NoError(t, err)
	assert.False(t, found)

	// After a successful run the plan is all skips
	_, err = h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)
	plan, err = h.reconciler.Plan(ctx, spec)
	require.NoError(t, err)
	for _, p := range plan {
		assert.Equal(t, "skip", p.Action, p.Stage)
	}
}

func TestTeardown_RemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	_, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)

	require.NoError(t, h.reconciler.Teardown(ctx, spec, true))

	// State record gone
	_, found, err := h.store.Load("test1")
	require.NoError(t, err)
	assert.False(t, found)

	// Infrastructure gone
	_, err = h.adapter.Describe(ctx, "test1")
	assert.True(t, errors.Is(err, provider.ErrNotFound))

	// Releases gone
	assert.Equal(t, 0, h.applier.Count())
}

func TestTeardown_UninstallsRecordedReleases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Feature flags add gpu-operator and flagger to the release sets
	spec := devSpec("test1")
	spec.GPUEnabled = true
	spec.CanaryEnabled = true
	st, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)

	_, ok := h.applier.Applied("gpu-operator")
	require.True(t, ok)
	for _, rel := range st.Releases {
		assert.NotEmpty(t, rel.Namespace, rel.Name)
		assert.NotEmpty(t, rel.Stage, rel.Name)
	}

	// Teardown is driven from the persisted records, so a bare spec
	// (as the CLI synthesizes from the stored state) still removes the
	// flag-gated releases
	bare := types.DeploymentSpec{Name: "test1", Provider: types.ProviderLocal}
	require.NoError(t, h.reconciler.Teardown(ctx, bare, false))
	assert.Equal(t, 0, h.applier.Count())
}

func TestTeardown_UnknownDeployment(t *testing.T) {
	h := newHarness(t)
	err := h.reconciler.Teardown(context.Background(), devSpec("ghost"), false)
	assert.ErrorContains(t, err, "unknown deployment")
}

func TestStatus_ReportsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	_, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)

	report, err := h.reconciler.Status(ctx, "test1")
	require.NoError(t, err)
	assert.Empty(t, report.Drift)
	assert.Equal(t, types.PhaseComplete, report.State.Phase)

	// Remove the infra behind the reconciler's back
	require.NoError(t, h.adapter.Teardown(ctx, "test1"))

	report, err = h.reconciler.Status(ctx, "test1")
	require.NoError(t, err)
	assert.Contains(t, report.Drift, "no longer exists")
}

func TestReconcile_SaveFailureLeavesResumableState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := devSpec("test1")

	// Fail the save that opens the platform stage. The record in the
	// store must stay at the last successful write, never a torn one.
	fs := &faultStore{Store: h.store, failOn: 4}
	registry, err := StandardStages(h.adapter, h.applier)
	require.NoError(t, err)
	rec := New(Config{
		Store:    fs,
		Adapter:  h.adapter,
		Registry: registry,
		Runner: stage.NewRunner(validate.New()).
			WithValidationWindow(time.Millisecond, 5*time.Millisecond, 100*time.Millisecond),
	})

	_, err = rec.Reconcile(ctx, spec)
	require.Error(t, err)

	persisted, found, err := h.store.Load("test1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StageValidated, persisted.StageStatusOf(StageInfra))
	require.NoError(t, persisted.CheckIntegrity())

	// With the fault gone the run resumes and completes
	st, err := h.reconciler.Reconcile(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseComplete, st.Phase)
	assert.Equal(t, 1, h.adapter.Mutations(), "resume must not re-provision")
}

// faultStore fails the nth Save to exercise crash recovery
type faultStore struct {
	planstore.Store
	saves  int
	failOn int
}

func (f *faultStore) Save(name string, st *types.DeploymentState) error {
	f.saves++
	if f.saves == f.failOn {
		return errors.New("disk full")
	}
	return f.Store.Save(name, st)
}

// failingAdapter always fails Provision with a fixed error
type failingAdapter struct {
	err   error
	calls int
}

func (f *failingAdapter) Name() types.Provider { return types.ProviderLocal }

func (f *failingAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	f.calls++
	return nil, f.err
}

func (f *failingAdapter) Teardown(ctx context.Context, id string) error { return nil }

func (f *failingAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	return nil, provider.ErrNotFound
}

// endpointAdapter overrides the provisioned endpoint, so validation
// probes a real test server
type endpointAdapter struct {
	inner    *provider.LocalAdapter
	endpoint string
}

func (e *endpointAdapter) Name() types.Provider { return types.ProviderLocal }

func (e *endpointAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	res, err := e.inner.Provision(ctx, spec)
	if err != nil {
		return nil, err
	}
	res.Endpoint = e.endpoint
	return res, nil
}

func (e *endpointAdapter) Teardown(ctx context.Context, id string) error {
	return e.inner.Teardown(ctx, id)
}

func (e *endpointAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	return e.inner.Describe(ctx, id)
}
