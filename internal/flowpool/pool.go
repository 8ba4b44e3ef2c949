// Package flowpool implements the Worker Pool & Flow Scheduler from
// spec.md §4.5: it dispatches a pagination driver's executor across a
// bounded, possibly-growing set of FlowContexts, paces each worker against
// the configured interval, and retries failed attempts — preferring
// distinct flow contexts across retries of the same payload when the
// policy asks for it.
package flowpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m4w1s/scraperflow/internal/interval"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/sleeper"
)

// IntervalStrategy is interval.Strategy under this package's name; kept as
// an alias so flowpool, scheduleropts, and cycle all share one type.
type IntervalStrategy = interval.Strategy

const (
	Dynamic = interval.Dynamic
	Fixed   = interval.Fixed
)

// Config is the subset of validated scheduler options one cycle's Pool
// needs. FlowContext values must be comparable (typically pointers) since
// the pool tracks dispatch state by identity.
type Config struct {
	Concurrency        int
	RetryLimit         int
	RetryDistinctFlows bool
	Interval           any
	IntervalStrategy   IntervalStrategy
	OnIntervalError    func(error)
	OnGeneralError     func(error)
}

// pendingRetry is one still-retryable failed attempt. attemptedFlows
// records which flow contexts have already tried this payload, so
// distinct-flows matching can avoid repeating a context that just failed
// on it.
type pendingRetry struct {
	payload        any
	attemptedFlows map[any]struct{}
	attemptsLeft   int
}

// Pool runs one pagination cycle to completion. Call Run once; a Pool is
// not reusable across cycles.
type Pool struct {
	cfg     Config
	driver  pagination.Driver
	exec    pagination.Executor
	updater *ContextUpdater
	global  any

	mu             sync.Mutex
	flows          map[any]struct{}
	pendingRetries []*pendingRetry
	lastExec       map[any]time.Time
	executorDone   bool
	resolved       bool

	resolveOnce sync.Once
	resolveCh   chan struct{}
	wake        chan struct{}
	wg          sync.WaitGroup

	forcedStopErr error
}

// New builds a Pool for one cycle. driver must already have been produced
// by Kind.NewDriver for this cycle; updater is shared across the
// scheduler's cycles.
func New(cfg Config, driver pagination.Driver, updater *ContextUpdater, global any) *Pool {
	return &Pool{
		cfg:       cfg,
		driver:    driver,
		exec:      driver.Executor(),
		updater:   updater,
		global:    global,
		flows:     make(map[any]struct{}),
		lastExec:  make(map[any]time.Time),
		resolveCh: make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Run drives the cycle under ctx, which is cancelled only on a forced stop
// (spec §4.8): cancellation stops new dispatches but lets in-flight
// executor calls finish before Run returns. It reports the driver's
// Finalize() completion verdict and, if the Context Updater's
// initFlowContext produced an inconsistent or failing shape mid-cycle, the
// error that caused the forced stop.
func (p *Pool) Run(ctx context.Context) (completed bool, forcedStopErr error) {
	if err := p.driver.Prepare(p.global); err != nil {
		return false, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			p.resolve()
		case <-p.resolveCh:
		}
	}()

	p.dispatchLoop(ctx)
	<-p.resolveCh
	p.wg.Wait()

	return p.driver.Finalize(), p.forcedStopErr
}

func (p *Pool) dispatchLoop(ctx context.Context) {
	for {
		p.startFlows(ctx)
		if p.isResolved() {
			return
		}
		select {
		case <-p.wake:
		case <-ctx.Done():
			p.resolve()
			return
		}
	}
}

// startFlows is the single dispatch tick: top up the flow context list,
// assign pending retries, fill any remaining free contexts with fresh
// tasks, and launch one goroutine per assignment. It never recurses —
// each worker re-enters the tick by signalling wake, bounding stack depth
// regardless of cycle length (spec §5).
func (p *Pool) startFlows(ctx context.Context) {
	p.mu.Lock()

	if p.executorDone && len(p.flows) == 0 && len(p.pendingRetries) == 0 {
		p.mu.Unlock()
		p.resolve()
		return
	}

	concurrency := p.effectiveConcurrencyLocked()
	if err := p.updater.TopUp(concurrency); err != nil {
		p.forcedStopErr = err
		p.mu.Unlock()
		if p.cfg.OnGeneralError != nil {
			p.cfg.OnGeneralError(err)
		}
		p.resolve()
		return
	}
	if fixedN, ok := p.updater.FixedConcurrencyCount(); ok {
		concurrency = fixedN
	}

	contexts := p.updater.Contexts()
	free := make([]any, 0, len(contexts))
	for _, c := range contexts {
		if _, busy := p.flows[c]; !busy {
			free = append(free, c)
		}
	}

	freeSlots := concurrency - len(p.flows)
	if freeSlots > len(free) {
		freeSlots = len(free)
	}
	if freeSlots <= 0 {
		p.mu.Unlock()
		return
	}

	type dispatch struct {
		ctx   any
		retry *pendingRetry
	}
	var toDispatch []dispatch
	used := make(map[any]struct{}, freeSlots)

	if p.cfg.RetryDistinctFlows {
		// A retry's attempted set is reset only once it has tried every flow
		// context; one that has tried every free context but not every
		// context stays queued until an untried context frees up.
		candidates := make([]*pendingRetry, 0, len(p.pendingRetries))
		for _, r := range p.pendingRetries {
			if allAttempted(r, contexts) {
				r.attemptedFlows = make(map[any]struct{})
			}
			if !allAttempted(r, free) {
				candidates = append(candidates, r)
			}
		}
		assignment := assignRetriesDistinct(candidates, free, freeSlots)
		assigned := make(map[*pendingRetry]int, len(assignment))
		for i, ctxIdx := range assignment {
			assigned[candidates[i]] = ctxIdx
		}
		remaining := p.pendingRetries[:0:0]
		for _, r := range p.pendingRetries {
			if ctxIdx, ok := assigned[r]; ok {
				ctx := free[ctxIdx]
				toDispatch = append(toDispatch, dispatch{ctx: ctx, retry: r})
				used[ctx] = struct{}{}
			} else {
				remaining = append(remaining, r)
			}
		}
		p.pendingRetries = remaining
	} else {
		for len(p.pendingRetries) > 0 && len(toDispatch) < freeSlots {
			var chosen any
			for _, c := range free {
				if _, taken := used[c]; !taken {
					chosen = c
					break
				}
			}
			if chosen == nil {
				break
			}
			r := p.pendingRetries[0]
			p.pendingRetries = p.pendingRetries[1:]
			toDispatch = append(toDispatch, dispatch{ctx: chosen, retry: r})
			used[chosen] = struct{}{}
		}
	}

	if !p.executorDone {
		for _, c := range free {
			if len(toDispatch) >= freeSlots {
				break
			}
			if _, taken := used[c]; taken {
				continue
			}
			toDispatch = append(toDispatch, dispatch{ctx: c})
			used[c] = struct{}{}
		}
	}

	for _, d := range toDispatch {
		p.flows[d.ctx] = struct{}{}
	}
	p.mu.Unlock()

	for _, d := range toDispatch {
		p.wg.Add(1)
		go p.handleFlowExecution(ctx, d.ctx, d.retry)
	}
}

// effectiveConcurrencyLocked computes the concurrency ceiling for this
// tick: 1 for strategies that don't fan out, 1 until the prefetch gate
// opens, or the fixed count a sequence-shaped initFlowContext pinned.
// Callers must hold p.mu.
func (p *Pool) effectiveConcurrencyLocked() int {
	base := p.cfg.Concurrency
	if !p.driver.SupportsConcurrency() {
		base = 1
	}
	if p.driver.NeedsPrefetchGate() && !p.driver.FirstPageReady() {
		base = 1
	}
	if n, ok := p.updater.FixedConcurrencyCount(); ok {
		base = n
	}
	return base
}

func (p *Pool) handleFlowExecution(ctx context.Context, flowCtx any, retry *pendingRetry) {
	defer p.wg.Done()

	p.mu.Lock()
	last, hasLast := p.lastExec[flowCtx]
	p.mu.Unlock()

	if hasLast {
		wait := p.computeWait(flowCtx, last)
		cancelled := sleeper.Sleep(ctx, wait)

		p.mu.Lock()
		stale := p.executorDone && retry == nil
		p.mu.Unlock()

		if cancelled || stale {
			p.releaseFlow(flowCtx)
			p.requestDispatch()
			return
		}
	}

	attemptsLeft := p.cfg.RetryLimit
	var payload any
	if retry != nil {
		attemptsLeft = retry.attemptsLeft
		payload = retry.payload
	}

	p.mu.Lock()
	p.lastExec[flowCtx] = time.Now()
	p.mu.Unlock()

	var doneCalled int32
	done := func() {
		if atomic.CompareAndSwapInt32(&doneCalled, 0, 1) {
			p.mu.Lock()
			p.executorDone = true
			p.mu.Unlock()
		}
	}

	result := p.exec(p.global, flowCtx, attemptsLeft, done, payload)

	p.mu.Lock()
	switch {
	case !result.Retry:
		// success, nothing to requeue
	case attemptsLeft > 0:
		if retry != nil {
			retry.payload = result.Payload
			retry.attemptsLeft = attemptsLeft - 1
			retry.attemptedFlows[flowCtx] = struct{}{}
			p.pendingRetries = append(p.pendingRetries, retry)
		} else {
			p.pendingRetries = append(p.pendingRetries, &pendingRetry{
				payload:        result.Payload,
				attemptedFlows: map[any]struct{}{flowCtx: {}},
				attemptsLeft:   attemptsLeft - 1,
			})
		}
	}
	delete(p.flows, flowCtx)
	p.mu.Unlock()

	p.requestDispatch()
}

// computeWait resolves the configured interval for flowCtx and translates
// it into a wait duration per the configured strategy: dynamic measures
// from the last exec and waits only the remainder, fixed always waits the
// full resolved interval.
func (p *Pool) computeWait(flowCtx any, last time.Time) time.Duration {
	ms := interval.Resolve(p.cfg.Interval, p.global, flowCtx, p.cfg.OnIntervalError)

	waitMs := ms
	if p.cfg.IntervalStrategy != Fixed {
		elapsed := int(time.Since(last).Milliseconds())
		waitMs = ms - elapsed
	}
	if waitMs < 0 {
		waitMs = 0
	}
	return time.Duration(waitMs) * time.Millisecond
}

func (p *Pool) releaseFlow(flowCtx any) {
	p.mu.Lock()
	delete(p.flows, flowCtx)
	p.mu.Unlock()
}

func (p *Pool) requestDispatch() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) resolve() {
	p.resolveOnce.Do(func() {
		p.mu.Lock()
		p.resolved = true
		p.mu.Unlock()
		close(p.resolveCh)
	})
}

func (p *Pool) isResolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}
