package release

import (
	"context"
	"sync"
	"time"

	"github.com/canopyproj/canopy/pkg/types"
)

// FakeApplier records applied releases in memory. It backs the local
// provider and the test suites.
type FakeApplier struct {
	mu       sync.Mutex
	applied  map[string]types.Release
	FailWith error
}

// NewFakeApplier creates an empty fake applier
func NewFakeApplier() *FakeApplier {
	return &FakeApplier{applied: make(map[string]types.Release)}
}

// Apply records the release, bumping its revision on re-apply
func (f *FakeApplier) Apply(ctx context.Context, endpoint string, rel Definition) (types.Release, error) {
	if err := ctx.Err(); err != nil {
		return types.Release{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailWith != nil {
		return types.Release{}, f.FailWith
	}

	prev := f.applied[rel.Name]
	next := types.Release{
		Name:      rel.Name,
		Chart:     rel.Chart,
		Namespace: rel.Namespace,
		Revision:  prev.Revision + 1,
		AppliedAt: time.Now().UTC(),
	}
	f.applied[rel.Name] = next
	return next, nil
}

// Uninstall removes the recorded release
func (f *FakeApplier) Uninstall(ctx context.Context, endpoint, name, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.applied, name)
	return nil
}

// Applied returns the recorded release by name
func (f *FakeApplier) Applied(name string) (types.Release, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.applied[name]
	return rel, ok
}

// Count returns how many releases are currently applied
func (f *FakeApplier) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}
