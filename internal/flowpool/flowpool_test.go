package flowpool

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m4w1s/scraperflow/internal/failcounter"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/summary"
)

func permissiveHooks() (pagination.Hooks, *summary.Accumulator) {
	acc := summary.New()
	fc := failcounter.New(failcounter.Policy{
		SkipPageIfPossible:      true,
		MaxTotalPageFails:       math.MaxInt,
		MaxConsecutivePageFails: math.MaxInt,
	})
	return pagination.Hooks{Accumulator: acc, FailCounter: fc}, acc
}

func scalarUpdater(n int) *ContextUpdater {
	next := 0
	return NewContextUpdater(func(prev any) (any, error) {
		next++
		return next, nil
	}, true)
}

func fixedConfig() Config {
	return Config{
		Concurrency:        3,
		RetryLimit:         2,
		RetryDistinctFlows: true,
		Interval:           0,
		IntervalStrategy:   Fixed,
	}
}

func TestPoolTotalPagesRunsToCompletion(t *testing.T) {
	h, acc := permissiveHooks()
	var fetched int32
	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			atomic.AddInt32(&fetched, 1)
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 5, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, false)
	updater := scalarUpdater(3)

	p := New(fixedConfig(), driver, updater, nil)
	completed, forced := p.Run(context.Background())

	require.NoError(t, forced)
	require.True(t, completed)
	require.Equal(t, 5, acc.TotalPageCount())
	require.EqualValues(t, 5, atomic.LoadInt32(&fetched))
}

func TestPoolConcurrencyNeverExceedsConfigured(t *testing.T) {
	h, _ := permissiveHooks()
	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex

	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			mu.Lock()
			if n > maxInFlight {
				maxInFlight = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 20, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, true) // prefetch so concurrency isn't gated to 1
	updater := scalarUpdater(4)

	cfg := fixedConfig()
	cfg.Concurrency = 4
	p := New(cfg, driver, updater, nil)
	completed, forced := p.Run(context.Background())

	require.NoError(t, forced)
	require.True(t, completed)
	require.LessOrEqual(t, maxInFlight, int32(4))
}

func TestPoolRetryDistinctFlowsUsesDistinctContexts(t *testing.T) {
	h, acc := permissiveHooks()
	var mu sync.Mutex
	attempts := map[any][]any{} // page -> flow contexts that tried it

	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			mu.Lock()
			attempts[page] = append(attempts[page], flow)
			mu.Unlock()
			if page == 2 {
				return nil, errors.New("flaky")
			}
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 3, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, false)
	updater := scalarUpdater(3)

	cfg := fixedConfig()
	cfg.Concurrency = 3 // one context per attempt of page 2 (RetryLimit+1 = 3)
	p := New(cfg, driver, updater, nil)
	completed, forced := p.Run(context.Background())

	require.NoError(t, forced)
	require.True(t, completed) // page 2 exhausts its retries, but the permissive budget lets the cycle skip it

	mu.Lock()
	defer mu.Unlock()
	tries := attempts[2]
	require.Len(t, tries, cfg.RetryLimit+1)
	seen := make(map[any]bool)
	for _, ctx := range tries {
		require.False(t, seen[ctx], "page 2 should not repeat a flow context across retries")
		seen[ctx] = true
	}
	require.Contains(t, acc.Summarize(completed).Stats.FailedPageList, 2)
}

func TestPoolForcedStopOnInvalidFlowContextShape(t *testing.T) {
	h, _ := permissiveHooks()
	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) { return page, nil },
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 1000, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, false)

	calls := 0
	updater := NewContextUpdater(func(prev any) (any, error) {
		calls++
		if calls > 1 {
			return nil, nil // second slot fails to initialize
		}
		return calls, nil
	}, true)

	cfg := fixedConfig()
	cfg.Concurrency = 3
	var reported error
	cfg.OnGeneralError = func(err error) { reported = err }

	p := New(cfg, driver, updater, nil)
	_, forced := p.Run(context.Background())

	require.ErrorIs(t, forced, ErrInvalidFlowContextShape)
	require.ErrorIs(t, reported, ErrInvalidFlowContextShape)
}

func TestPoolCancelStopsNewDispatchesButDrainsInFlight(t *testing.T) {
	h, _ := permissiveHooks()
	var started int32
	var finished int32

	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			atomic.AddInt32(&started, 1)
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 50, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, true)
	updater := scalarUpdater(4)

	cfg := fixedConfig()
	cfg.Concurrency = 4
	p := New(cfg, driver, updater, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	p.Run(ctx)
	require.Equal(t, atomic.LoadInt32(&started), atomic.LoadInt32(&finished), "Run must not return until in-flight executor calls drain")
}

func TestPoolRetryFIFOWhenNotDistinct(t *testing.T) {
	h, _ := permissiveHooks()
	fail := int32(1)
	kind := pagination.TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			if page == 1 && atomic.CompareAndSwapInt32(&fail, 1, 0) {
				return nil, errors.New("once")
			}
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 2, true, nil
		},
	}
	driver := kind.NewDriver(h, 1, false)
	updater := scalarUpdater(1)

	cfg := fixedConfig()
	cfg.Concurrency = 1
	cfg.RetryDistinctFlows = false
	p := New(cfg, driver, updater, nil)
	completed, forced := p.Run(context.Background())

	require.NoError(t, forced)
	require.True(t, completed)
}

func TestAssignRetriesDistinctPrefersUnattemptedContexts(t *testing.T) {
	retries := []*pendingRetry{
		{payload: "a", attemptedFlows: map[any]struct{}{"ctx1": {}}},
		{payload: "b", attemptedFlows: map[any]struct{}{}},
	}
	contexts := []any{"ctx1", "ctx2"}

	assignment := assignRetriesDistinct(retries, contexts, 2)
	require.Len(t, assignment, 2)
	require.NotEqual(t, "ctx1", contexts[assignment[0]])
}

func TestAssignRetriesDistinctResetsWhenAllAttempted(t *testing.T) {
	retries := []*pendingRetry{
		{payload: "a", attemptedFlows: map[any]struct{}{"ctx1": {}, "ctx2": {}}},
	}
	contexts := []any{"ctx1", "ctx2"}

	assignment := assignRetriesDistinct(retries, contexts, 1)
	require.Len(t, assignment, 1)
	require.Empty(t, retries[0].attemptedFlows, "attempted set should be cleared once every context was tried")
}

func TestAssignRetriesDistinctRespectsFreeSlotCap(t *testing.T) {
	retries := []*pendingRetry{
		{payload: "a", attemptedFlows: map[any]struct{}{}},
		{payload: "b", attemptedFlows: map[any]struct{}{}},
	}
	contexts := []any{"ctx1", "ctx2"}

	assignment := assignRetriesDistinct(retries, contexts, 1)
	require.Len(t, assignment, 1)
}
