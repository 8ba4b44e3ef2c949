package pagination

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m4w1s/scraperflow/internal/failcounter"
	"github.com/m4w1s/scraperflow/internal/summary"
	"github.com/stretchr/testify/require"
)

func hooksFor(policy failcounter.Policy) (Hooks, *summary.Accumulator, *failcounter.Counter) {
	acc := summary.New()
	fc := failcounter.New(policy)
	return Hooks{Accumulator: acc, FailCounter: fc}, acc, fc
}

func permissivePolicy() failcounter.Policy {
	return failcounter.Policy{SkipPageIfPossible: true, MaxTotalPageFails: math.MaxInt, MaxConsecutivePageFails: math.MaxInt}
}

func noRetryPolicy() failcounter.Policy {
	return failcounter.Policy{SkipPageIfPossible: false}
}

func TestNoneKindSuccess(t *testing.T) {
	h, acc, _ := hooksFor(permissivePolicy())
	d := NoneKind{Fetch: func(global, flow any) (any, error) {
		return "resp", nil
	}}.NewDriver(h, 1, false)

	require.NoError(t, d.Prepare(nil))
	var doneCalled bool
	res := d.Executor()(nil, nil, 0, func() { doneCalled = true }, nil)
	require.False(t, res.Retry)
	require.True(t, doneCalled)
	require.True(t, d.Finalize())
	require.Equal(t, 1, acc.TotalPageCount())
}

func TestNoneKindTerminalFailure(t *testing.T) {
	h, acc, fc := hooksFor(noRetryPolicy())
	d := NoneKind{Fetch: func(global, flow any) (any, error) {
		return nil, errors.New("boom")
	}}.NewDriver(h, 1, false)

	require.NoError(t, d.Prepare(nil))
	res := d.Executor()(nil, nil, 0, func() {}, nil)
	require.True(t, res.Retry)
	require.False(t, d.Finalize())
	require.Equal(t, 1, fc.TotalPageFails())
	require.Len(t, acc.Summarize(false).Stats.FailedPageList, 1)
}

func TestTotalPagesConcurrentSuccess(t *testing.T) {
	h, acc, _ := hooksFor(permissivePolicy())
	d := TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) { return page, nil },
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 3, true, nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	var doneCount int32
	done := func() { atomic.AddInt32(&doneCount, 1) }
	exec := d.Executor()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec(nil, nil, 0, done, nil)
		}()
	}
	wg.Wait()

	require.True(t, d.Finalize())
	require.Equal(t, 3, acc.TotalPageCount())
	require.GreaterOrEqual(t, atomic.LoadInt32(&doneCount), int32(1))
}

func TestTotalPagesSequentialFetchesAllPagesIncludingLast(t *testing.T) {
	h, acc, _ := hooksFor(permissivePolicy())
	var fetched []int
	d := TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			fetched = append(fetched, page)
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 5, true, nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	var doneCalls int
	done := func() { doneCalls++ }

	// Single in-flight slot, one fresh allocation per call: mirrors a
	// sequential trace of paginationStart=1 against a 5-page total.
	for i := 0; i < 5; i++ {
		res := exec(nil, nil, 0, done, nil)
		require.False(t, res.Retry)
	}

	require.Equal(t, []int{1, 2, 3, 4, 5}, fetched)
	require.Equal(t, 1, doneCalls)
	require.True(t, d.Finalize())
	require.Equal(t, 5, acc.TotalPageCount())
}

func TestTotalPagesRetryExhaustionExceedsZeroBudget(t *testing.T) {
	h, acc, fc := hooksFor(failcounter.Policy{SkipPageIfPossible: true, MaxTotalPageFails: 0, MaxConsecutivePageFails: 0})
	calls := 0
	d := TotalPagesKind{
		Fetch: func(global, flow any, page int) (any, error) {
			calls++
			if page == 2 {
				return nil, errors.New("flaky")
			}
			return page, nil
		},
		ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
			return 3, true, nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	var doneCalled bool
	done := func() { doneCalled = true }

	exec(nil, nil, 0, done, 1)
	res := exec(nil, nil, 0, done, 2)
	require.True(t, res.Retry)
	exec(nil, nil, 0, done, 3)

	require.True(t, doneCalled)
	completed := d.Finalize()
	require.False(t, completed)
	require.Equal(t, 1, fc.TotalPageFails())
	summ := acc.Summarize(completed)
	require.Contains(t, summ.Stats.FailedPageList, 2)
}

func TestHasMoreConcurrencyEarlyStop(t *testing.T) {
	h, acc, _ := hooksFor(permissivePolicy())
	d := HasMoreKind{
		Fetch: func(global, flow any, page int) (any, error) { return page, nil },
		ResolveMore: func(global, flow any, resp any) (bool, error) {
			return resp.(int) < 2, nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	var doneCount int32
	done := func() { atomic.AddInt32(&doneCount, 1) }

	exec(nil, nil, 0, done, nil) // page 1, more=true
	exec(nil, nil, 0, done, nil) // page 2, more=false -> natural end

	require.True(t, d.Finalize())
	require.Equal(t, 2, acc.TotalPageCount())
	require.GreaterOrEqual(t, atomic.LoadInt32(&doneCount), int32(1))
}

func TestHasMoreRaceDiscard(t *testing.T) {
	h, _, _ := hooksFor(permissivePolicy())
	var discarded []int
	d := HasMoreKind{
		Fetch:       func(global, flow any, page int) (any, error) { return page, nil },
		ResolveMore: func(global, flow any, resp any) (bool, error) { return false, nil },
		OnRaceDiscard: func(page int) {
			discarded = append(discarded, page)
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	exec(nil, nil, 0, func() {}, nil) // page 1, more=false, lastPage=1
	exec(nil, nil, 0, func() {}, 5)   // stale retry beyond lastPage

	require.Equal(t, []int{5}, discarded)
}

func TestCursorSequential(t *testing.T) {
	h, acc, _ := hooksFor(permissivePolicy())
	cursors := map[any]any{
		nil: "c1",
		"c1": "c2",
		"c2": nil,
	}
	d := CursorKind{
		Fetch: func(global, flow any, cursor any, pageNum int) (any, error) { return cursor, nil },
		Resolve: func(global, flow any, resp any) (any, error) {
			return cursors[resp], nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	var doneCalled bool
	done := func() { doneCalled = true }

	exec(nil, nil, 0, done, nil) // cursor nil -> c1
	exec(nil, nil, 0, done, nil) // cursor c1 -> c2
	exec(nil, nil, 0, done, nil) // cursor c2 -> nil, natural end

	require.True(t, doneCalled)
	require.True(t, d.Finalize())
	require.Equal(t, 3, acc.TotalPageCount())
}

func TestCursorTerminalFailureEndsCycle(t *testing.T) {
	h, acc, fc := hooksFor(noRetryPolicy())
	d := CursorKind{
		Fetch: func(global, flow any, cursor any, pageNum int) (any, error) {
			return nil, errors.New("dead cursor")
		},
		Resolve: func(global, flow any, resp any) (any, error) { return nil, nil },
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	var doneCalled bool
	res := d.Executor()(nil, nil, 0, func() { doneCalled = true }, nil)
	require.True(t, res.Retry)
	require.True(t, doneCalled)
	require.False(t, d.Finalize())
	require.Equal(t, 1, fc.TotalPageFails())
	require.Equal(t, 1, acc.TotalPageCount())
}

func TestListResolveEmptyReturnsError(t *testing.T) {
	h, _, _ := hooksFor(permissivePolicy())
	var resolveErr error
	h.OnResolveError = func(err error) { resolveErr = err }
	d := ListKind{
		ResolveList: func(global any) ([]any, error) { return nil, nil },
		Fetch:       func(global, flow any, item any, index int) (any, error) { return item, nil },
	}.NewDriver(h, 1, false)

	err := d.Prepare(nil)
	require.ErrorIs(t, err, ErrEmptyList)
	require.ErrorIs(t, resolveErr, ErrEmptyList)
}

func TestListWithMidItemRetry(t *testing.T) {
	h, acc, fc := hooksFor(permissivePolicy())
	items := []any{"a", "b", "c"}
	attempt := 0
	d := ListKind{
		ResolveList: func(global any) ([]any, error) { return items, nil },
		Fetch: func(global, flow any, item any, index int) (any, error) {
			if item == "b" && attempt == 0 {
				attempt++
				return nil, errors.New("transient")
			}
			return item, nil
		},
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	exec := d.Executor()
	var doneCalled bool
	done := func() { doneCalled = true }

	exec(nil, nil, 1, done, nil) // index 0 "a" -> success
	res := exec(nil, nil, 1, done, nil) // index 1 "b" -> fails, attemptsLeft>0, retry
	require.True(t, res.Retry)
	payload := res.Payload
	exec(nil, nil, 1, done, payload) // retry "b" -> success
	exec(nil, nil, 1, done, nil)     // index 2 "c" -> success, natural end

	require.True(t, doneCalled)
	require.True(t, d.Finalize())
	require.Equal(t, 3, acc.TotalPageCount())
	require.Equal(t, 0, fc.TotalPageFails())
}

func TestKindValidateMissingCallbacks(t *testing.T) {
	require.ErrorIs(t, NoneKind{}.Validate(), ErrMissingFetchHandler)
	require.ErrorIs(t, TotalPagesKind{}.Validate(), ErrMissingFetchHandler)
	require.ErrorIs(t, TotalPagesKind{Fetch: func(any, any, int) (any, error) { return nil, nil }}.Validate(), ErrMissingResolver)
	require.ErrorIs(t, HasMoreKind{}.Validate(), ErrMissingFetchHandler)
	require.ErrorIs(t, CursorKind{}.Validate(), ErrMissingFetchHandler)
	require.ErrorIs(t, ListKind{}.Validate(), ErrMissingFetchHandler)
	require.NoError(t, NoneKind{Fetch: func(any, any) (any, error) { return nil, nil }}.Validate())
}

func TestListOutOfRangeRetryIsGuarded(t *testing.T) {
	h, _, _ := hooksFor(permissivePolicy())
	d := ListKind{
		ResolveList: func(global any) ([]any, error) { return []any{"a"}, nil },
		Fetch:       func(global, flow any, item any, index int) (any, error) { return item, nil },
	}.NewDriver(h, 1, false)
	require.NoError(t, d.Prepare(nil))

	var doneCalled bool
	res := d.Executor()(nil, nil, 0, func() { doneCalled = true }, listIndexPayload{index: 99})
	require.False(t, res.Retry)
	require.True(t, doneCalled)
}
