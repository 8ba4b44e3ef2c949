// Package cycle implements the Cycle Loop from spec.md §4.8: it repeats
// cycles — each one a full pagination run through the Worker Pool — until
// a graceful or forced stop is requested.
package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m4w1s/scraperflow/internal/events"
	"github.com/m4w1s/scraperflow/internal/failcounter"
	"github.com/m4w1s/scraperflow/internal/flowpool"
	"github.com/m4w1s/scraperflow/internal/interval"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/scheduleropts"
	"github.com/m4w1s/scraperflow/internal/sleeper"
	"github.com/m4w1s/scraperflow/internal/summary"
)

// GlobalContext is how the loop reads and, when resetThisContext is set,
// rebuilds the scheduler's shared global context between cycles.
type GlobalContext interface {
	Get() any
	Reset() error
}

// Config is everything one Loop needs; the root façade builds this once
// per Start() from a Validated options record.
type Config struct {
	Kind   pagination.Kind
	Policy scheduleropts.ValidatedPolicy

	Interval              any
	IntervalStrategy      interval.Strategy
	CycleInterval         any
	CycleIntervalStrategy interval.Strategy

	ResetThisContext bool
	ResetFlowContext bool

	ResponseHandler func(resp any)
	SummaryHandler  func(summary.CycleSummary) error

	Concurrency int

	Global  GlobalContext
	Updater *flowpool.ContextUpdater
	Bus     *events.Bus
}

// Loop runs repeated cycles until Stop is called. A Loop is single-use:
// construct one per Run.
type Loop struct {
	cfg Config

	mu              sync.Mutex
	stopRequested   bool
	forcedRequested bool
	cycleCancel     context.CancelFunc

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	firstCycle bool
}

// New builds a Loop ready to Run.
func New(cfg Config) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{cfg: cfg, lifecycleCtx: ctx, lifecycleCancel: cancel, firstCycle: true}
}

// Stop requests a graceful (forced=false) or forced (forced=true) stop.
// Repeated calls with the same forcedness are no-ops; escalating from
// graceful to forced cancels the active per-cycle controller immediately
// (spec §5 cancellation semantics).
func (l *Loop) Stop(forced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.stopRequested {
		l.stopRequested = true
		l.lifecycleCancel()
	}
	if forced && !l.forcedRequested {
		l.forcedRequested = true
		if l.cycleCancel != nil {
			l.cycleCancel()
		}
	}
}

// Run executes cycles until a stop is requested, then returns. It never
// emits started/stopped itself — spec §4.9's enqueueing rules for those
// are a façade-level concern.
func (l *Loop) Run() {
	for {
		// The first iteration always runs, even if Stop was already called
		// before this goroutine got scheduled: spec §4.9's startOnce()
		// guarantee ("a graceful stop request made before the first cycle
		// completes causes exactly one cycle to run") depends on it.
		// stopRequested is only consulted below, gating the *next*
		// iteration.
		l.mu.Lock()
		cycleCtx, cancel := context.WithCancel(context.Background())
		l.cycleCancel = cancel
		forcedAlready := l.forcedRequested
		l.mu.Unlock()

		if forcedAlready {
			cancel()
		}

		cycleStartedAt := time.Now()
		l.runOneCycle(cycleCtx)
		cancel()

		l.mu.Lock()
		stop := l.stopRequested
		l.mu.Unlock()
		if stop {
			return
		}

		if !l.sleepCycleInterval(cycleStartedAt) {
			return
		}
	}
}

func (l *Loop) runOneCycle(ctx context.Context) {
	if !l.firstCycle && l.cfg.ResetThisContext {
		if err := l.cfg.Global.Reset(); err != nil {
			l.cfg.Bus.EmitGeneralError(err)
			l.Stop(true)
			return
		}
	}
	l.firstCycle = false
	global := l.cfg.Global.Get()

	concurrency := l.cfg.Concurrency
	if err := l.cfg.Updater.CycleStart(l.cfg.ResetFlowContext, concurrency); err != nil {
		l.cfg.Bus.EmitGeneralError(err)
		l.Stop(true)
		return
	}

	acc := summary.New()
	fc := failcounter.New(failcounter.Policy{
		SkipPageIfPossible:      l.cfg.Policy.SkipPageIfPossible,
		MaxTotalPageFails:       l.cfg.Policy.MaxTotalPageFails,
		MaxConsecutivePageFails: l.cfg.Policy.MaxConsecutivePageFails,
	})

	hooks := pagination.Hooks{
		Accumulator: acc,
		FailCounter: fc,
		OnFetchError: func(err error, page any) {
			l.cfg.Bus.EmitFetchError(err, page)
		},
		OnResolveError: func(err error) {
			l.cfg.Bus.EmitResolveError(err)
		},
		OnResponseError: func(err error) {
			l.cfg.Bus.EmitResponseHandleError(err)
		},
	}
	if l.cfg.ResponseHandler != nil {
		hooks.OnResponse = l.cfg.ResponseHandler
	}

	driver := l.cfg.Kind.NewDriver(hooks, l.cfg.Policy.PaginationStart, l.cfg.Policy.PaginationPrefetch)

	poolCfg := flowpool.Config{
		Concurrency:        concurrency,
		RetryLimit:         l.cfg.Policy.RetryLimit,
		RetryDistinctFlows: l.cfg.Policy.RetryDistinctFlows,
		Interval:           l.cfg.Interval,
		IntervalStrategy:   l.cfg.IntervalStrategy,
		OnIntervalError: func(err error) {
			l.cfg.Bus.EmitGeneralError(err)
		},
		OnGeneralError: func(err error) {
			l.cfg.Bus.EmitGeneralError(err)
		},
	}

	pool := flowpool.New(poolCfg, driver, l.cfg.Updater, global)
	completed, forcedStopErr := pool.Run(ctx)
	if forcedStopErr != nil {
		l.Stop(true)
	}

	summ := acc.Summarize(completed)
	l.invokeSummaryHandler(summ)
	l.cfg.Bus.EmitCycleSummary(summ)
}

func (l *Loop) invokeSummaryHandler(summ summary.CycleSummary) {
	if l.cfg.SummaryHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.cfg.Bus.EmitSummaryHandleError(fmt.Errorf("summary handler panicked: %v", r))
		}
	}()
	if err := l.cfg.SummaryHandler(summ); err != nil {
		l.cfg.Bus.EmitSummaryHandleError(err)
	}
}

// sleepCycleInterval waits cycleInterval under cycleIntervalStrategy,
// measured from the start of the cycle that just finished. It reports
// false if the wait was cut short by a stop request, so Run can exit
// without starting another iteration.
func (l *Loop) sleepCycleInterval(startedAt time.Time) bool {
	ms := interval.Resolve(l.cfg.CycleInterval, l.globalSnapshot(), nil, func(err error) {
		l.cfg.Bus.EmitGeneralError(err)
	})

	waitMs := ms
	if l.cfg.CycleIntervalStrategy != interval.Fixed {
		elapsed := int(time.Since(startedAt).Milliseconds())
		waitMs = ms - elapsed
	}
	if waitMs < 0 {
		waitMs = 0
	}

	cancelled := sleeper.Sleep(l.lifecycleCtx, time.Duration(waitMs)*time.Millisecond)
	return !cancelled
}

func (l *Loop) globalSnapshot() any {
	if l.cfg.Global == nil {
		return nil
	}
	return l.cfg.Global.Get()
}
