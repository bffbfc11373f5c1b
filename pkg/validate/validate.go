package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/canopyproj/canopy/pkg/types"
)

// Result represents the outcome of probing one validation target
type Result struct {
	OK         bool
	Diagnostic string
	CheckedAt  time.Time
	Duration   time.Duration
}

// Prober probes one kind of validation target
type Prober interface {
	// Probe performs the check and returns the result. It must be free
	// of side effects beyond network reads and must respect ctx.
	Probe(ctx context.Context, target types.ValidationTarget) Result

	// Kind returns the target kind this prober handles
	Kind() types.CheckKind
}

// Validator confirms that a stage's deployed services satisfy their
// health contract. It never mutates state; only the reconciler acts on
// its result.
type Validator struct {
	probers map[types.CheckKind]Prober
	timeout time.Duration
}

// New creates a validator with the standard HTTP, TCP and exec probers
func New() *Validator {
	v := &Validator{
		probers: make(map[types.CheckKind]Prober),
		timeout: 10 * time.Second,
	}
	v.Register(NewHTTPProber())
	v.Register(NewTCPProber())
	v.Register(NewExecProber())
	return v
}

// Register adds or replaces the prober for a target kind
func (v *Validator) Register(p Prober) {
	v.probers[p.Kind()] = p
}

// WithTimeout sets the per-check execution bound
func (v *Validator) WithTimeout(d time.Duration) *Validator {
	v.timeout = d
	return v
}

// Check probes a single target. The boolean reports pass/fail; the
// string carries the diagnostic for the operator.
func (v *Validator) Check(ctx context.Context, target types.ValidationTarget) (bool, string) {
	p, ok := v.probers[target.Kind]
	if !ok {
		return false, fmt.Sprintf("no prober registered for target kind %q", target.Kind)
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res := p.Probe(checkCtx, target)
	return res.OK, res.Diagnostic
}
