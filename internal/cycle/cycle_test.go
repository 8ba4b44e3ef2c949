package cycle

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m4w1s/scraperflow/internal/events"
	"github.com/m4w1s/scraperflow/internal/flowpool"
	"github.com/m4w1s/scraperflow/internal/interval"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/scheduleropts"
	"github.com/m4w1s/scraperflow/internal/summary"
)

type fakeGlobal struct {
	value      any
	resetCalls int32
	resetErr   error
}

func (g *fakeGlobal) Get() any { return g.value }
func (g *fakeGlobal) Reset() error {
	atomic.AddInt32(&g.resetCalls, 1)
	if g.resetErr != nil {
		return g.resetErr
	}
	g.value = "reset"
	return nil
}

func basePolicy() scheduleropts.ValidatedPolicy {
	return scheduleropts.ValidatedPolicy{
		RetryLimit:              1,
		RetryDistinctFlows:      true,
		MaxTotalPageFails:       1 << 30,
		MaxConsecutivePageFails: 1 << 30,
		PaginationStart:         1,
	}
}

func TestLoopGracefulStopRunsExactlyOneCycle(t *testing.T) {
	var fetches int32
	kind := pagination.NoneKind{Fetch: func(global, flow any) (any, error) {
		atomic.AddInt32(&fetches, 1)
		return "ok", nil
	}}

	var summaries []summary.CycleSummary
	bus := events.New(nil, &events.LoggerPolicy{Disabled: true})

	loop := New(Config{
		Kind:                  kind,
		Policy:                basePolicy(),
		CycleInterval:         5000,
		CycleIntervalStrategy: interval.Fixed,
		Concurrency:           1,
		Global:                &fakeGlobal{value: "g"},
		Updater:               flowpool.NewContextUpdater(func(prev any) (any, error) { return "flow", nil }, true),
		Bus:                   bus,
		SummaryHandler: func(s summary.CycleSummary) error {
			summaries = append(summaries, s)
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	// startOnce semantics: request a graceful stop immediately; exactly
	// one cycle must still complete before Run returns.
	loop.Stop(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after graceful stop")
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&fetches))
	require.Len(t, summaries, 1)
	require.True(t, summaries[0].Completed)
}

func TestLoopForcedStopAbortsInFlightCycle(t *testing.T) {
	release := make(chan struct{})
	kind := pagination.NoneKind{Fetch: func(global, flow any) (any, error) {
		<-release
		return "ok", nil
	}}

	bus := events.New(nil, &events.LoggerPolicy{Disabled: true})
	var generalErrors []error
	bus.OnGeneralError(func(err error) { generalErrors = append(generalErrors, err) })

	loop := New(Config{
		Kind:                  kind,
		Policy:                basePolicy(),
		CycleInterval:         5000,
		CycleIntervalStrategy: interval.Fixed,
		Concurrency:           1,
		Global:                &fakeGlobal{value: "g"},
		Updater:               flowpool.NewContextUpdater(func(prev any) (any, error) { return "flow", nil }, true),
		Bus:                   bus,
	})

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	loop.Stop(true)
	close(release) // let the in-flight fetch return so Run can drain and exit

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after forced stop")
	}
}

func TestLoopResetThisContextRebuildsGlobalAfterFirstCycle(t *testing.T) {
	kind := pagination.NoneKind{Fetch: func(global, flow any) (any, error) { return global, nil }}
	g := &fakeGlobal{value: "initial"}

	bus := events.New(nil, &events.LoggerPolicy{Disabled: true})
	cycles := int32(0)

	var loop *Loop
	loop = New(Config{
		Kind:                  kind,
		Policy:                basePolicy(),
		CycleInterval:         1,
		CycleIntervalStrategy: interval.Fixed,
		ResetThisContext:      true,
		Concurrency:           1,
		Global:                g,
		Updater:               flowpool.NewContextUpdater(func(prev any) (any, error) { return "flow", nil }, true),
		Bus:                   bus,
		SummaryHandler: func(s summary.CycleSummary) error {
			if atomic.AddInt32(&cycles, 1) >= 2 {
				loop.Stop(false)
			}
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	require.GreaterOrEqual(t, atomic.LoadInt32(&g.resetCalls), int32(1), "resetThisContext should rebuild the global context after the first cycle")
}

func TestLoopSummaryHandlerErrorSurfacesAsEvent(t *testing.T) {
	kind := pagination.NoneKind{Fetch: func(global, flow any) (any, error) { return "ok", nil }}
	bus := events.New(nil, &events.LoggerPolicy{Disabled: true})

	var handleErrs []error
	bus.OnSummaryHandleError(func(err error) { handleErrs = append(handleErrs, err) })

	loop := New(Config{
		Kind:                  kind,
		Policy:                basePolicy(),
		CycleInterval:         5000,
		CycleIntervalStrategy: interval.Fixed,
		Concurrency:           1,
		Global:                &fakeGlobal{value: "g"},
		Updater:               flowpool.NewContextUpdater(func(prev any) (any, error) { return "flow", nil }, true),
		Bus:                   bus,
		SummaryHandler: func(s summary.CycleSummary) error {
			return errors.New("handler failed")
		},
	})

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()
	loop.Stop(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	require.Len(t, handleErrs, 1)
	require.EqualError(t, handleErrs[0], "handler failed")
}
