package finalizer

import (
	"fmt"
	"sync"

	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// Registry tracks finalizer policies by generation: the active policy a
// block's finality decisions are made under, plus any pending policy
// queued to become active once its installing block is irreversible.
type Registry struct {
	mu         sync.RWMutex
	byGen      map[uint32]*Policy
	activeGen  uint32
	pendingGen uint32 // 0 means no pending policy
}

// NewRegistry creates a registry seeded with the genesis policy as the
// active generation.
func NewRegistry(genesis *Policy) (*Registry, error) {
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		byGen:     map[uint32]*Policy{genesis.Generation: genesis},
		activeGen: genesis.Generation,
	}
	return r, nil
}

// Install registers a new policy generation. Generations must strictly
// increase; installing an already-known generation is a no-op only if
// byte-identical, otherwise it is rejected.
func (r *Registry) Install(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byGen[p.Generation]; ok {
		if existing.Digest() == p.Digest() {
			return nil
		}
		return fmt.Errorf("%w: generation %d already installed with a different policy", svnnerr.ErrInvalidPolicyDigest, p.Generation)
	}
	if p.Generation <= r.activeGen {
		return fmt.Errorf("%w: generation %d does not exceed active generation %d", svnnerr.ErrInvalidPolicyDigest, p.Generation, r.activeGen)
	}

	r.byGen[p.Generation] = p
	r.pendingGen = p.Generation
	return nil
}

// LookupByGeneration returns the policy at the given generation, if known.
func (r *Registry) LookupByGeneration(gen uint32) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byGen[gen]
	return p, ok
}

// Active returns the currently active policy.
func (r *Registry) Active() *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byGen[r.activeGen]
}

// Pending returns the pending policy and true, or nil and false if there
// is none queued.
func (r *Registry) Pending() (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pendingGen == 0 {
		return nil, false
	}
	return r.byGen[r.pendingGen], true
}

// PromoteIfFinal promotes the pending policy to active once the block
// that installed it is irreversible. Called by the finality engine on
// every LIB advance with the new LIB's block number; promotion itself
// is driven by the caller knowing which block installed the pending
// generation, so it takes that block's irreversibility as a given.
func (r *Registry) PromoteIfFinal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingGen == 0 {
		return
	}
	r.activeGen = r.pendingGen
	r.pendingGen = 0
}

// EnumerateActive returns the finalizer entries of the active policy.
func (r *Registry) EnumerateActive() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := r.byGen[r.activeGen]
	out := make([]Entry, len(active.Finalizers))
	copy(out, active.Finalizers)
	return out
}
