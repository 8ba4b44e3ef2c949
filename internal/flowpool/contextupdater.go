package flowpool

import (
	"errors"
	"sync"
)

// ErrInvalidFlowContextShape is returned when initFlowContext comes back
// empty or alternates between scalar and sequence shapes across calls —
// spec §4.7's "forced-stop with generalError" condition. An error returned
// by initFlowContext itself is passed through unchanged instead.
var ErrInvalidFlowContextShape = errors.New("flowpool: initFlowContext returned an inconsistent or empty shape")

// ContextUpdater owns the live FlowContext list across a scheduler's
// cycles (spec §4.7). initFlowContext may return either a single context
// (scalar mode, one call per concurrency slot) or a non-empty []any
// (fixed-concurrency mode, which pins concurrency regardless of the
// configured value).
type ContextUpdater struct {
	init            func(prev any) (any, error)
	removeRedundant bool

	mu               sync.Mutex
	contexts         []any
	fixedConcurrency bool
	firstCycle       bool
}

// NewContextUpdater wraps init (the validated InitFlowContext callback).
func NewContextUpdater(init func(prev any) (any, error), removeRedundant bool) *ContextUpdater {
	return &ContextUpdater{init: init, removeRedundant: removeRedundant, firstCycle: true}
}

// CycleStart runs the beforeCycleStart path: rebuild on the first cycle or
// when resetFlowContext is set, otherwise a no-op. concurrency is only
// consulted in scalar mode.
func (u *ContextUpdater) CycleStart(resetFlowContext bool, concurrency int) error {
	u.mu.Lock()
	rebuild := u.firstCycle || resetFlowContext
	u.firstCycle = false
	if !rebuild {
		u.mu.Unlock()
		return nil
	}

	var prevFirst any
	if len(u.contexts) > 0 {
		prevFirst = u.contexts[0]
	}
	u.mu.Unlock()

	// The first call also probes which shape this initializer produces.
	// In scalar mode its result is slot 0's context; the loop below only
	// derives slots 1..concurrency-1, so init is called exactly once per
	// slot per rebuild.
	probe, err := u.init(prevFirst)
	if err != nil {
		return err
	}
	if seq, ok := asSequence(probe); ok {
		if len(seq) == 0 {
			return ErrInvalidFlowContextShape
		}
		u.mu.Lock()
		u.fixedConcurrency = true
		u.contexts = seq
		u.mu.Unlock()
		return nil
	}
	if probe == nil {
		return ErrInvalidFlowContextShape
	}

	u.mu.Lock()
	oldContexts := u.contexts
	u.mu.Unlock()

	fresh := make([]any, concurrency)
	for i := 0; i < concurrency; i++ {
		if i == 0 {
			fresh[0] = probe
			continue
		}
		var prev any
		if i < len(oldContexts) {
			prev = oldContexts[i]
		}
		ctx, cerr := u.init(prev)
		if cerr != nil {
			return cerr
		}
		if _, ok := asSequence(ctx); ok {
			return ErrInvalidFlowContextShape
		}
		if ctx == nil {
			return ErrInvalidFlowContextShape
		}
		fresh[i] = ctx
	}

	if !u.removeRedundant && len(oldContexts) > len(fresh) {
		fresh = append(fresh, oldContexts[len(fresh):]...)
	}

	u.mu.Lock()
	u.fixedConcurrency = false
	u.contexts = fresh
	u.mu.Unlock()
	return nil
}

// TopUp runs the dispatch-tick path: in scalar mode, grow the list up to
// concurrency by calling init with no previous context; never shrinks.
// Fixed-concurrency mode ignores concurrency entirely.
func (u *ContextUpdater) TopUp(concurrency int) error {
	u.mu.Lock()
	fixed := u.fixedConcurrency
	n := len(u.contexts)
	u.mu.Unlock()
	if fixed {
		return nil
	}

	for n < concurrency {
		ctx, err := u.init(nil)
		if err != nil {
			return err
		}
		if _, ok := asSequence(ctx); ok {
			return ErrInvalidFlowContextShape
		}
		if ctx == nil {
			return ErrInvalidFlowContextShape
		}
		u.mu.Lock()
		u.contexts = append(u.contexts, ctx)
		n = len(u.contexts)
		u.mu.Unlock()
	}
	return nil
}

// Contexts returns a snapshot of the current live FlowContext list, safe
// to call concurrently with CycleStart/TopUp.
func (u *ContextUpdater) Contexts() []any {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]any, len(u.contexts))
	copy(out, u.contexts)
	return out
}

// FixedConcurrencyCount reports the pinned concurrency when initFlowContext
// last returned a sequence.
func (u *ContextUpdater) FixedConcurrencyCount() (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.fixedConcurrency {
		return 0, false
	}
	return len(u.contexts), true
}

func asSequence(v any) ([]any, bool) {
	seq, ok := v.([]any)
	return seq, ok
}
