// Package summary accumulates per-page timings and counters over one
// cycle and produces an immutable CycleSummary snapshot at the end.
package summary

import (
	"sort"
	"sync"
	"time"
)

// TimingKind selects which running average a timing sample belongs to.
type TimingKind int

const (
	TimingAll TimingKind = iota
	TimingSuccessful
	TimingFailed
)

// Timings reports millisecond averages over a cycle.
type Timings struct {
	StartedAt int64
	Total     int64
	AvgAll    int64
	AvgOK     int64
	AvgFailed int64
}

// Stats is the immutable statistics block of a CycleSummary.
type Stats struct {
	TotalPageCount  int
	FailedPageList  []any
	TotalErrorCount int
	Timings         Timings
}

// CycleSummary is the deeply immutable result of one cycle.
type CycleSummary struct {
	Completed bool
	Stats     Stats
}

type avgPair struct {
	sum   int64
	count int64
}

func (p avgPair) mean() int64 {
	if p.count == 0 {
		return 0
	}
	return p.sum / p.count
}

// Accumulator holds the mutable running totals for one in-flight cycle.
type Accumulator struct {
	mu sync.Mutex

	startedAt   time.Time
	total       time.Duration
	totalSet    bool
	totalPages  int
	totalErrors int
	failedPages map[any]struct{}
	failedOrder []any

	avg [3]avgPair
}

// New creates an Accumulator with startedAt recorded as now.
func New() *Accumulator {
	return &Accumulator{
		startedAt:   time.Now(),
		failedPages: make(map[any]struct{}),
	}
}

// AddPage increments the total page counter.
func (a *Accumulator) AddPage() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPages++
}

// AddError increments the total error counter. Counts every fetch/resolve
// failure, including intermediate retry attempts, per spec §3.
func (a *Accumulator) AddError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalErrors++
}

// AddFailedPage records a page id that exhausted its retries or the
// distinct-flows budget. Deduplicated: a page id is recorded once.
func (a *Accumulator) AddFailedPage(page any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.failedPages[page]; ok {
		return
	}
	a.failedPages[page] = struct{}{}
	a.failedOrder = append(a.failedOrder, page)
}

// AddAvgTiming increments the (sum, count) pair for kind by ms.
func (a *Accumulator) AddAvgTiming(kind TimingKind, ms time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &a.avg[kind]
	p.sum += ms.Milliseconds()
	p.count++
}

// SetTotalPageCount overrides the total page count directly (used by
// drivers that know the final count independent of AddPage calls, e.g.
// TotalPages/Cursor/List finalizing on a known index).
func (a *Accumulator) SetTotalPageCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPages = n
}

// TotalPageCount returns the current running total page count.
func (a *Accumulator) TotalPageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalPages
}

// Summarize finalizes total duration (if not already fixed) and produces
// an immutable CycleSummary. completed is supplied by the caller (driver +
// fail-counter decide cycle completion; the accumulator only tracks
// timings/counters).
func (a *Accumulator) Summarize(completed bool) CycleSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.totalSet {
		a.total = time.Since(a.startedAt)
		a.totalSet = true
	}

	failed := make([]any, len(a.failedOrder))
	copy(failed, a.failedOrder)
	sortFailedPages(failed)

	return CycleSummary{
		Completed: completed,
		Stats: Stats{
			TotalPageCount:  a.totalPages,
			FailedPageList:  failed,
			TotalErrorCount: a.totalErrors,
			Timings: Timings{
				StartedAt: a.startedAt.UnixMilli(),
				Total:     a.total.Milliseconds(),
				AvgAll:    a.avg[TimingAll].mean(),
				AvgOK:     a.avg[TimingSuccessful].mean(),
				AvgFailed: a.avg[TimingFailed].mean(),
			},
		},
	}
}

// sortFailedPages orders failed pages by their natural ordering when every
// element is an int (TotalPages/HasMore/List use int page ids); any other
// payload type is left in first-failure order.
func sortFailedPages(pages []any) {
	allInts := true
	for _, p := range pages {
		if _, ok := p.(int); !ok {
			allInts = false
			break
		}
	}
	if !allInts {
		return
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].(int) < pages[j].(int)
	})
}
