package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/events"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/metrics"
	"github.com/canopyproj/canopy/pkg/planstore"
	"github.com/canopyproj/canopy/pkg/provider"
	"github.com/canopyproj/canopy/pkg/stage"
	"github.com/canopyproj/canopy/pkg/types"
)

// Config assembles a reconciler from its collaborators
type Config struct {
	Store    planstore.Store
	Adapter  provider.Adapter
	Registry *stage.Registry
	Runner   *stage.Runner

	// Broker receives stage transition events when set
	Broker *events.Broker

	// MaxRunRetries bounds reconciler-level re-runs after a recoverable
	// failure (default 1 retry)
	MaxRunRetries int
}

// Reconciler drives deployment state toward the desired spec through
// ordered stage execution. It is the only component that writes to the
// plan store; everything else sees snapshots.
type Reconciler struct {
	store    planstore.Store
	adapter  provider.Adapter
	registry *stage.Registry
	runner   *stage.Runner
	broker   *events.Broker
	retries  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a reconciler
func New(cfg Config) *Reconciler {
	retries := cfg.MaxRunRetries
	if retries == 0 {
		retries = 1
	}
	if cfg.Runner != nil && cfg.Broker != nil {
		cfg.Runner.OnApplied = func(deployment, stageName string) {
			cfg.Broker.Publish(events.New(events.EventStageApplied, deployment, stageName, "applied"))
		}
	}
	return &Reconciler{
		store:    cfg.Store,
		adapter:  cfg.Adapter,
		registry: cfg.Registry,
		runner:   cfg.Runner,
		broker:   cfg.Broker,
		retries:  retries,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockName serializes runs per deployment name. Distinct names proceed
// concurrently.
func (r *Reconciler) lockName(name string) func() {
	r.mu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (r *Reconciler) publish(ev *events.Event) {
	if r.broker != nil {
		r.broker.Publish(ev)
	}
}

// Reconcile runs one full reconciliation of a deployment toward spec.
// Recoverable failures re-run the whole loop up to the configured retry
// bound; fatal failures surface immediately. The returned state is a
// snapshot.
func (r *Reconciler) Reconcile(ctx context.Context, spec types.DeploymentSpec) (*types.DeploymentState, error) {
	unlock := r.lockName(spec.Name)
	defer unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

	var st *types.DeploymentState
	var err error
	for attempt := 0; ; attempt++ {
		st, err = r.reconcileOnce(ctx, spec)
		if err == nil {
			metrics.ReconcileRunsTotal.WithLabelValues("success").Inc()
			return st, nil
		}
		if errdefs.Recoverable(err) && attempt < r.retries && ctx.Err() == nil {
			logger := log.WithDeployment(spec.Name)
			logger.Warn().Err(err).Int("attempt", attempt+1).
				Msg("recoverable failure, retrying run")
			continue
		}
		metrics.ReconcileRunsTotal.WithLabelValues("failure").Inc()
		r.publish(events.New(events.EventRunFailed, spec.Name, "", err.Error()))
		return st, err
	}
}

// reconcileOnce executes one pass over the stage graph
func (r *Reconciler) reconcileOnce(ctx context.Context, spec types.DeploymentSpec) (*types.DeploymentState, error) {
	logger := log.WithDeployment(spec.Name)

	order, err := r.registry.Order()
	if err != nil {
		return nil, err
	}

	st, found, err := r.store.Load(spec.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Info().Msg("initializing deployment state")
		st = types.NewDeploymentState(spec, r.registry.Names())
		if err := r.store.Save(spec.Name, st); err != nil {
			return nil, err
		}
	}

	// A changed spec invalidates every previously validated stage
	if st.SpecHash != spec.Hash() {
		logger.Info().Msg("spec changed, re-running all stages")
		for _, name := range order {
			if st.StageStatusOf(name) != types.StagePending {
				st.ResetStage(name)
			}
		}
		st.SpecHash = spec.Hash()
	}

	for _, name := range order {
		if st.StageStatusOf(name) == types.StageValidated {
			metrics.StagesSkipped.Inc()
			r.publish(events.New(events.EventStageSkipped, spec.Name, name, "already validated"))
			continue
		}

		def, ok := r.registry.Get(name)
		if !ok {
			return st, fmt.Errorf("stage %s not registered", name)
		}

		st.Phase = name
		if err := r.store.Save(spec.Name, st); err != nil {
			return st, err
		}
		r.publish(events.New(events.EventStageStarted, spec.Name, name, "applying"))

		runErr := r.runner.Run(ctx, spec, def, st)

		// Persist the stage outcome whether it succeeded or not, so a
		// later run resumes from exactly where this one stopped
		if runErr != nil {
			st.Phase = types.PhaseFailed
		}
		if err := r.store.Save(spec.Name, st); err != nil {
			return st, err
		}

		if runErr != nil {
			r.publish(events.New(events.EventStageFailed, spec.Name, name, runErr.Error()))
			return st, runErr
		}
		r.publish(events.New(events.EventStageValidated, spec.Name, name, "validated"))
	}

	st.Phase = types.PhaseComplete
	if err := r.store.Save(spec.Name, st); err != nil {
		return st, err
	}
	r.publish(events.New(events.EventRunComplete, spec.Name, "", "deployment complete"))
	logger.Info().Msg("deployment complete")
	return st.Clone(), nil
}

// PlannedAction describes what a dry run would do with one stage
type PlannedAction struct {
	Stage  string
	Action string // "skip" or "apply"
}

// Plan computes the stages a reconciliation would run, without mutating
// anything.
func (r *Reconciler) Plan(ctx context.Context, spec types.DeploymentSpec) ([]PlannedAction, error) {
	order, err := r.registry.Order()
	if err != nil {
		return nil, err
	}

	st, found, err := r.store.Load(spec.Name)
	if err != nil {
		return nil, err
	}

	specChanged := !found || st.SpecHash != spec.Hash()
	plan := make([]PlannedAction, 0, len(order))
	for _, name := range order {
		action := "apply"
		if !specChanged && found && st.StageStatusOf(name) == types.StageValidated {
			action = "skip"
		}
		plan = append(plan, PlannedAction{Stage: name, Action: action})
	}
	return plan, nil
}

// StatusReport is the operator-facing view of one deployment
type StatusReport struct {
	State *types.DeploymentState
	Drift string // empty when persisted and observed infra agree
}

// Status returns the persisted state plus a drift check against the
// provider's view of the infrastructure.
func (r *Reconciler) Status(ctx context.Context, name string) (*StatusReport, error) {
	st, found, err := r.store.Load(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("unknown deployment %q", name)
	}

	report := &StatusReport{State: st.Clone()}
	if st.Provision != nil {
		observed, err := r.adapter.Describe(ctx, st.Provision.ID)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			report.Drift = "provisioned infrastructure no longer exists"
		case err != nil:
			report.Drift = fmt.Sprintf("drift check failed: %v", err)
		case observed.Endpoint != st.Provision.Endpoint:
			report.Drift = fmt.Sprintf("endpoint drifted: recorded %s, observed %s",
				st.Provision.Endpoint, observed.Endpoint)
		}
	}
	return report, nil
}

// Teardown rolls back all stages in reverse order and deletes the state
// record. Without force the first rollback failure aborts; with force
// every stage is attempted and the collected failures are returned.
func (r *Reconciler) Teardown(ctx context.Context, spec types.DeploymentSpec, force bool) error {
	unlock := r.lockName(spec.Name)
	defer unlock()

	logger := log.WithDeployment(spec.Name)

	st, found, err := r.store.Load(spec.Name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("unknown deployment %q", spec.Name)
	}

	order, err := r.registry.Order()
	if err != nil {
		return err
	}

	var failures []string
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		def, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		// Phase tracks the stage being rolled back, so an interrupted
		// teardown never leaves a COMPLETE record with regressed stages
		st.Phase = name
		if err := r.runner.Rollback(ctx, spec, def, st); err != nil {
			logger.Error().Err(err).Str("stage", name).Msg("rollback failed")
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			if !force {
				_ = r.store.Save(spec.Name, st)
				return fmt.Errorf("teardown stopped at stage %s: %v", name, err)
			}
			continue
		}
		if err := r.store.Save(spec.Name, st); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("teardown incomplete: %v", failures)
	}

	if err := r.store.Delete(spec.Name); err != nil {
		return err
	}
	r.publish(events.New(events.EventTeardownDone, spec.Name, "", "teardown complete"))
	logger.Info().Msg("teardown complete")
	return nil
}
