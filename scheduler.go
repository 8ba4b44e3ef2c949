// Package scheduler is the public façade from spec.md §4.9: a single
// factory, New, builds an opaque Scheduler from Options; Start/StartOnce/
// Stop drive its Cycle Loop, and a handful of read-only accessors and
// event subscriptions let an embedder observe it.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/m4w1s/scraperflow/internal/cycle"
	"github.com/m4w1s/scraperflow/internal/events"
	"github.com/m4w1s/scraperflow/internal/flowpool"
	"github.com/m4w1s/scraperflow/internal/scheduleropts"
)

// Field name used when initThisContext itself fails or returns nil.
const fieldInitThisContext = "initThisContext"

// globalHolder owns the scheduler's shared global context and knows how
// to rebuild it via the validated initThisContext callback.
type globalHolder struct {
	mu    sync.RWMutex
	init  func() (any, error)
	value any
}

func (g *globalHolder) Get() any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

func (g *globalHolder) Reset() error {
	if g.init == nil {
		return nil
	}
	v, err := g.init()
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
	return nil
}

// Scheduler is the opaque handle spec.md §6's create(options) returns.
// It is safe for concurrent use.
type Scheduler struct {
	validated scheduleropts.Validated
	bus       *events.Bus
	updater   *flowpool.ContextUpdater
	global    *globalHolder

	mu      sync.Mutex
	running bool
	loop    *cycle.Loop
	done    chan struct{}
}

// New validates opts, runs initThisContext once if supplied, and returns
// an idle Scheduler. A *scheduleropts.ConfigError covers the constructor-
// time failures spec §6 requires to throw: missing fetchHandler, missing
// kind-specific resolver, or initThisContext returning no value.
func New(opts Options) (*Scheduler, error) {
	var warnings []struct{ key, msg string }
	validated, err := scheduleropts.Validate(opts, func(key, msg string) {
		warnings = append(warnings, struct{ key, msg string }{key, msg})
	})
	if err != nil {
		return nil, err
	}

	bus := events.New(nil, validated.LoggerPolicy)
	for _, w := range warnings {
		bus.EmitValidationWarning(w.key, w.msg)
	}

	global := &globalHolder{init: validated.InitThisContext}
	if validated.InitThisContext != nil {
		v, err := validated.InitThisContext()
		if err != nil {
			return nil, &scheduleropts.ConfigError{
				Field: fieldInitThisContext,
				Err:   fmt.Errorf("%w: %v", scheduleropts.ErrInvalidInitThisContext, err),
			}
		}
		if v == nil {
			return nil, &scheduleropts.ConfigError{Field: fieldInitThisContext, Err: scheduleropts.ErrInvalidInitThisContext}
		}
		global.value = v
	}

	updater := flowpool.NewContextUpdater(validated.InitFlowContext, validated.RemoveContextForRedundantFlows)

	return &Scheduler{
		validated: validated,
		bus:       bus,
		updater:   updater,
		global:    global,
	}, nil
}

// Start launches the Cycle Loop and reports true, or reports false
// without doing anything if the scheduler is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}

	loop := cycle.New(cycle.Config{
		Kind:                  s.validated.Kind,
		Policy:                s.validated.Policy,
		Interval:              s.validated.Interval,
		IntervalStrategy:      s.validated.IntervalStrategy,
		CycleInterval:         s.validated.CycleInterval,
		CycleIntervalStrategy: s.validated.CycleIntervalStrategy,
		ResetThisContext:      s.validated.ResetThisContext,
		ResetFlowContext:      s.validated.ResetFlowContext,
		ResponseHandler:       s.validated.ResponseHandler,
		SummaryHandler:        s.validated.SummaryHandler,
		Concurrency:           s.validated.Concurrency,
		Global:                s.global,
		Updater:               s.updater,
		Bus:                   s.bus,
	})

	s.running = true
	s.loop = loop
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.bus.SetRunID(events.RunID())

	// started is enqueued for the next tick, not emitted synchronously
	// from inside Start (spec §4.9's emission-ordering guarantee).
	go s.bus.EmitStarted()

	go func() {
		loop.Run()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		s.bus.EmitStopped()
		close(done)
	}()

	return true
}

// StartOnce starts the scheduler and immediately requests a graceful
// stop, so exactly one cycle runs before the returned channel closes. If
// the scheduler was already running, it returns the in-progress run's
// completion channel unchanged — StartOnce never forces an unrelated run
// to stop early.
func (s *Scheduler) StartOnce() <-chan struct{} {
	if !s.Start() {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()
		if done != nil {
			return done
		}
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	return s.Stop(false)
}

// Stop requests a graceful (forced=false) or forced (forced=true) stop
// and returns a channel that closes once the Cycle Loop has fully exited.
// Calling Stop when not running returns an already-closed channel.
func (s *Scheduler) Stop(forced bool) <-chan struct{} {
	s.mu.Lock()
	loop := s.loop
	done := s.done
	s.mu.Unlock()

	if loop == nil || done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	loop.Stop(forced)
	return done
}

// RunID returns the correlation id attached to every log line the event
// bus prints during the current (or most recent) run, or "" before the
// first Start().
func (s *Scheduler) RunID() string {
	return s.bus.CurrentRunID()
}

// IsRunning reports whether the Cycle Loop is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Options returns the defaulted, type-checked record this scheduler was
// built from.
func (s *Scheduler) Options() Validated {
	return s.validated
}

// GlobalContext returns the current shared global context, or nil if none
// was configured.
func (s *Scheduler) GlobalContext() any {
	return s.global.Get()
}

// FlowsContexts returns a snapshot of the current live flow contexts.
func (s *Scheduler) FlowsContexts() []any {
	return s.updater.Contexts()
}

// Events: thin passthroughs to the internal bus, so embedders only ever
// import this package.

func (s *Scheduler) OnStarted(fn func())                         { s.bus.OnStarted(fn) }
func (s *Scheduler) OnStopped(fn func())                         { s.bus.OnStopped(fn) }
func (s *Scheduler) OnCycleSummary(fn func(CycleSummary))        { s.bus.OnCycleSummary(fn) }
func (s *Scheduler) OnValidationWarning(fn func(key, msg string)) { s.bus.OnValidationWarning(fn) }
func (s *Scheduler) OnGeneralError(fn func(err error))           { s.bus.OnGeneralError(fn) }
func (s *Scheduler) OnFetchError(fn func(err error, page any))   { s.bus.OnFetchError(fn) }
func (s *Scheduler) OnResolveError(fn func(err error))           { s.bus.OnResolveError(fn) }
func (s *Scheduler) OnResponseHandleError(fn func(err error))    { s.bus.OnResponseHandleError(fn) }
func (s *Scheduler) OnSummaryHandleError(fn func(err error))     { s.bus.OnSummaryHandleError(fn) }
