package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/metrics"
	"github.com/canopyproj/canopy/pkg/types"
	"github.com/canopyproj/canopy/pkg/validate"
)

// Runner executes one stage definition against deployment state. It
// enforces dependency ordering before applying and polls the stage's
// validation targets with bounded exponential backoff afterwards.
type Runner struct {
	validator *validate.Validator

	// OnApplied, when set, is invoked after a stage's apply succeeds
	// and before validation begins
	OnApplied func(deployment, stage string)

	// validation polling bounds
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
}

// NewRunner creates a runner with the default validation polling bounds
func NewRunner(v *validate.Validator) *Runner {
	return &Runner{
		validator:       v,
		initialInterval: 2 * time.Second,
		maxInterval:     30 * time.Second,
		maxElapsed:      5 * time.Minute,
	}
}

// WithValidationWindow overrides the validation polling bounds
func (r *Runner) WithValidationWindow(initial, max, elapsed time.Duration) *Runner {
	r.initialInterval = initial
	r.maxInterval = max
	r.maxElapsed = elapsed
	return r
}

// Run executes a single stage: dependency check, apply, validation.
// The state snapshot is mutated in place (stage record, stage outputs);
// the caller persists it. The returned error is annotated with stage
// name and attempt count.
func (r *Runner) Run(ctx context.Context, spec types.DeploymentSpec, def Definition, st *types.DeploymentState) error {
	logger := log.WithStage(st.Name, def.Name)
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.StageDuration.WithLabelValues(def.Name))
	}()

	// Never attempt a stage out of order
	for _, dep := range def.DependsOn {
		if st.StageStatusOf(dep) != types.StageValidated {
			err := fmt.Errorf("%w: %s requires %s to be VALIDATED, found %s",
				errdefs.ErrDependencyNotSatisfied, def.Name, dep, st.StageStatusOf(dep))
			return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts, err)
		}
	}

	logger.Info().Msg("applying stage")
	if def.Apply != nil {
		if err := def.Apply(ctx, spec, st); err != nil {
			r.fail(st, def.Name, err)
			// The record counts successful applies, so the failed
			// attempt itself is one past the stored count
			return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts+1, err)
		}
	}
	if err := st.SetStage(def.Name, types.StageApplied, ""); err != nil {
		return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts, err)
	}
	if r.OnApplied != nil {
		r.OnApplied(st.Name, def.Name)
	}

	if err := r.validateStage(ctx, spec, def, st); err != nil {
		r.fail(st, def.Name, err)
		return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts, err)
	}

	if err := st.SetStage(def.Name, types.StageValidated, ""); err != nil {
		return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts, err)
	}
	logger.Info().Msg("stage validated")
	return nil
}

// validateStage polls the stage's targets until all pass or the retry
// budget runs out
func (r *Runner) validateStage(ctx context.Context, spec types.DeploymentSpec, def Definition, st *types.DeploymentState) error {
	if def.Targets == nil {
		return nil
	}
	targets := def.Targets(spec, st)
	if len(targets) == 0 {
		return nil
	}

	var lastDiag string
	op := func() error {
		for _, target := range targets {
			ok, diag := r.validator.Check(ctx, target)
			if !ok {
				lastDiag = diag
				metrics.ValidationChecks.WithLabelValues("fail").Inc()
				return fmt.Errorf("validation pending: %s", diag)
			}
			metrics.ValidationChecks.WithLabelValues("pass").Inc()
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsed

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Carry the last observed diagnostic for the operator
		return fmt.Errorf("%w: last observed: %s", errdefs.ErrValidationTimeout, lastDiag)
	}
	return nil
}

func (r *Runner) fail(st *types.DeploymentState, name string, cause error) {
	metrics.StagesFailed.WithLabelValues(name).Inc()
	if err := st.SetStage(name, types.StageFailed, cause.Error()); err != nil {
		logger := log.WithStage(st.Name, name)
		logger.Error().Err(err).Msg("failed to record stage failure")
	}
}

// Rollback invokes a stage's rollback operation and resets its record
// to PENDING. Called by teardown in reverse topological order.
func (r *Runner) Rollback(ctx context.Context, spec types.DeploymentSpec, def Definition, st *types.DeploymentState) error {
	if def.Rollback != nil {
		if err := def.Rollback(ctx, spec, st); err != nil {
			return errdefs.WithStage(def.Name, st.Stages[def.Name].Attempts, err)
		}
	}
	st.ResetStage(def.Name)
	return nil
}
