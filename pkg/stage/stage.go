package stage

import (
	"context"
	"fmt"

	"github.com/canopyproj/canopy/pkg/types"
)

// ApplyFunc performs a stage's idempotent work. It may record outputs
// (provision results, applied releases) on the state snapshot it is
// handed; the reconciler persists the snapshot after the stage runs.
type ApplyFunc func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error

// TargetsFunc returns the validation targets for a stage. It runs after
// apply so targets can reference provisioned endpoints.
type TargetsFunc func(spec types.DeploymentSpec, st *types.DeploymentState) []types.ValidationTarget

// Definition is one statically registered unit of provisioning or
// validation work with declared dependencies.
type Definition struct {
	Name      string
	DependsOn []string

	// Apply converges the stage. Must be idempotent.
	Apply ApplyFunc

	// Targets supplies the post-apply health contract. May be nil for
	// stages with nothing to probe.
	Targets TargetsFunc

	// Rollback reverses the stage's work. Invoked only by explicit
	// teardown, in reverse topological order. May be nil.
	Rollback ApplyFunc
}

// Registry holds the registered stage definitions and derives their
// execution order.
type Registry struct {
	defs  map[string]Definition
	order []string // registration order, for deterministic sorting
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a stage definition. Registering the same name twice is
// a programming error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("stage definition without a name")
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("stage %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the definition for a stage name
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered stage names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Order returns the stage names in topological dependency order. The
// sort is deterministic: ties break by registration order. Unknown
// dependencies and cycles are errors.
func (r *Registry) Order() ([]string, error) {
	for _, def := range r.defs {
		for _, dep := range def.DependsOn {
			if _, ok := r.defs[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", def.Name, dep)
			}
		}
	}

	var sorted []string
	done := make(map[string]bool, len(r.defs))
	for len(sorted) < len(r.defs) {
		progressed := false
		for _, name := range r.order {
			if done[name] {
				continue
			}
			ready := true
			for _, dep := range r.defs[name].DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				sorted = append(sorted, name)
				done[name] = true
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among stages")
		}
	}
	return sorted, nil
}
