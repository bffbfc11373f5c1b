package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
	"github.com/canopyproj/canopy/pkg/validate"
)

// scriptedProber fails a fixed number of probes before passing
type scriptedProber struct {
	failures int
	probes   int
}

func (p *scriptedProber) Probe(ctx context.Context, target types.ValidationTarget) validate.Result {
	p.probes++
	if p.probes <= p.failures {
		return validate.Result{OK: false, Diagnostic: "service not ready"}
	}
	return validate.Result{OK: true, Diagnostic: "ok"}
}

func (p *scriptedProber) Kind() types.CheckKind { return types.CheckHTTP }

func newTestRunner(prober validate.Prober) *Runner {
	v := validate.New()
	if prober != nil {
		v.Register(prober)
	}
	return NewRunner(v).WithValidationWindow(time.Millisecond, 5*time.Millisecond, 100*time.Millisecond)
}

func runnerSpec() types.DeploymentSpec {
	return types.DeploymentSpec{
		Name:        "test1",
		Provider:    types.ProviderLocal,
		Environment: types.EnvDevelopment,
	}
}

func httpTargets(spec types.DeploymentSpec, st *types.DeploymentState) []types.ValidationTarget {
	return []types.ValidationTarget{{Kind: types.CheckHTTP, URL: "http://unused.invalid/health"}}
}

func TestRunner_DependencyNotSatisfied(t *testing.T) {
	applied := false
	def := Definition{
		Name:      "platform",
		DependsOn: []string{"infra"},
		Apply: func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
			applied = true
			return nil
		},
	}

	st := types.NewDeploymentState(runnerSpec(), []string{"infra", "platform"})
	err := newTestRunner(nil).Run(context.Background(), runnerSpec(), def, st)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrDependencyNotSatisfied))
	assert.False(t, applied, "apply must not run out of order")
	assert.Equal(t, types.StagePending, st.StageStatusOf("platform"))
}

func TestRunner_ApplyFailureMarksStageFailed(t *testing.T) {
	def := Definition{
		Name: "infra",
		Apply: func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
			return errors.New("terraform blew up")
		},
	}

	st := types.NewDeploymentState(runnerSpec(), []string{"infra"})
	err := newTestRunner(nil).Run(context.Background(), runnerSpec(), def, st)

	require.Error(t, err)
	assert.Equal(t, types.StageFailed, st.StageStatusOf("infra"))
	assert.Contains(t, st.Stages["infra"].LastError, "terraform blew up")

	var se *errdefs.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "infra", se.Stage)
	assert.Equal(t, 1, se.Attempts, "a first-attempt failure is attempt 1")
}

func TestRunner_SuccessValidatesStage(t *testing.T) {
	def := Definition{
		Name: "infra",
		Apply: func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
			st.Provision = &types.ProvisionResult{ID: spec.Name}
			return nil
		},
		Targets: httpTargets,
	}

	st := types.NewDeploymentState(runnerSpec(), []string{"infra"})
	err := newTestRunner(&scriptedProber{}).Run(context.Background(), runnerSpec(), def, st)

	require.NoError(t, err)
	assert.Equal(t, types.StageValidated, st.StageStatusOf("infra"))
	require.NotNil(t, st.Provision)
	assert.Equal(t, "test1", st.Provision.ID)
}

func TestRunner_ValidationRetriesUntilPass(t *testing.T) {
	prober := &scriptedProber{failures: 3}
	def := Definition{Name: "app", Targets: httpTargets}

	st := types.NewDeploymentState(runnerSpec(), []string{"app"})
	err := newTestRunner(prober).Run(context.Background(), runnerSpec(), def, st)

	require.NoError(t, err)
	assert.Equal(t, types.StageValidated, st.StageStatusOf("app"))
	assert.Equal(t, 4, prober.probes)
}

func TestRunner_ValidationTimeout(t *testing.T) {
	prober := &scriptedProber{failures: 100000}
	def := Definition{Name: "app", Targets: httpTargets}

	st := types.NewDeploymentState(runnerSpec(), []string{"app"})
	err := newTestRunner(prober).Run(context.Background(), runnerSpec(), def, st)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrValidationTimeout))
	assert.Contains(t, err.Error(), "service not ready")
	assert.Equal(t, types.StageFailed, st.StageStatusOf("app"))
}

func TestRunner_FailedStageCanRerun(t *testing.T) {
	attempts := 0
	def := Definition{
		Name: "infra",
		Apply: func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
			attempts++
			if attempts == 1 {
				return errors.New("first attempt fails")
			}
			return nil
		},
	}

	st := types.NewDeploymentState(runnerSpec(), []string{"infra"})
	runner := newTestRunner(nil)

	require.Error(t, runner.Run(context.Background(), runnerSpec(), def, st))
	assert.Equal(t, types.StageFailed, st.StageStatusOf("infra"))

	require.NoError(t, runner.Run(context.Background(), runnerSpec(), def, st))
	assert.Equal(t, types.StageValidated, st.StageStatusOf("infra"))
}

func TestRunner_CancelledContextStopsValidation(t *testing.T) {
	prober := &scriptedProber{failures: 100000}
	def := Definition{Name: "app", Targets: httpTargets}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	st := types.NewDeploymentState(runnerSpec(), []string{"app"})
	runner := newTestRunner(prober).WithValidationWindow(time.Millisecond, 5*time.Millisecond, time.Hour)
	err := runner.Run(ctx, runnerSpec(), def, st)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
