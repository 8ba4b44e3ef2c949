package pagination

import "sync"

// TotalPagesFetch fetches a single numbered page.
type TotalPagesFetch func(global, flow any, page int) (resp any, err error)

// TotalPagesResolve inspects a fetched response and reports the total page
// count if known. ok=false means the total is still unknown from this
// response (e.g. it only appears on page 1).
type TotalPagesResolve func(global, flow any, resp any) (total int, ok bool, err error)

// TotalPagesKind drives pagination where the source reports (or implies) a
// fixed total page count.
type TotalPagesKind struct {
	Fetch        TotalPagesFetch
	ResolveTotal TotalPagesResolve
}

func (TotalPagesKind) Name() string { return "total_pages" }

// Validate reports an error when Fetch or ResolveTotal is unset.
func (k TotalPagesKind) Validate() error {
	if k.Fetch == nil {
		return ErrMissingFetchHandler
	}
	if k.ResolveTotal == nil {
		return ErrMissingResolver
	}
	return nil
}

func (k TotalPagesKind) NewDriver(h Hooks, start int, prefetch bool) Driver {
	return &totalPagesDriver{
		hooks:    h,
		fetch:    k.Fetch,
		resolve:  k.ResolveTotal,
		nextPage: start,
		prefetch: prefetch,
	}
}

type totalPagesDriver struct {
	hooks   Hooks
	fetch   TotalPagesFetch
	resolve TotalPagesResolve

	mu            sync.Mutex
	nextPage      int
	lastPageKnown bool
	lastPage      int
	firstDone     bool
	naturalEnd    bool
	prefetch      bool
}

func (d *totalPagesDriver) Prepare(global any) error { return nil }

func (d *totalPagesDriver) SupportsConcurrency() bool { return true }

// NeedsPrefetchGate reports whether concurrency must wait for the first
// page before fanning out: true unless prefetch was explicitly enabled,
// in which case workers may race ahead of a known total page count.
func (d *totalPagesDriver) NeedsPrefetchGate() bool { return !d.prefetch }
func (d *totalPagesDriver) FirstPageReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstDone
}

func (d *totalPagesDriver) Executor() Executor {
	return func(global, flow any, attemptsLeft int, done func(), retryPayload any) ExecResult {
		page, isLastFresh := d.allocatePage(retryPayload)
		if page == -1 {
			// Every page through the known last page was already
			// allocated; nothing left for this slot.
			done()
			return Success
		}

		resp, err := d.fetch(global, flow, page)
		if err != nil {
			d.hooks.Accumulator.AddError()
			if d.hooks.OnFetchError != nil {
				d.hooks.OnFetchError(err, page)
			}
			if attemptsLeft == 0 {
				d.hooks.Accumulator.AddFailedPage(page)
				if cannotSkipMore := d.hooks.FailCounter.Fail(page); cannotSkipMore {
					done()
				}
			}
			return ExecResult{Retry: true, Payload: page}
		}

		d.hooks.Accumulator.AddPage()
		d.hooks.FailCounter.Success()
		d.markFirstDone()
		if d.hooks.OnResponse != nil {
			go safeResponse(d.hooks, resp)
		}

		if total, ok, rerr := d.resolve(global, flow, resp); rerr != nil {
			if d.hooks.OnResolveError != nil {
				d.hooks.OnResolveError(rerr)
			}
		} else if ok {
			d.recordLastPage(total)
		}

		if isLastFresh {
			done()
			d.mu.Lock()
			d.naturalEnd = true
			d.mu.Unlock()
		}
		return Success
	}
}

// allocatePage returns the page to fetch for this attempt: the retry's
// carried page, or the next fresh page. It reports whether this fresh
// allocation is (as currently known) the final one.
func (d *totalPagesDriver) allocatePage(retryPayload any) (page int, isLastFresh bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if retryPayload != nil {
		return retryPayload.(int), false
	}

	if d.lastPageKnown && d.nextPage > d.lastPage {
		return -1, false
	}

	page = d.nextPage
	d.nextPage++
	if d.lastPageKnown && page >= d.lastPage {
		isLastFresh = true
	}
	return page, isLastFresh
}

func (d *totalPagesDriver) recordLastPage(total int) {
	d.mu.Lock()
	d.lastPageKnown = true
	d.lastPage = total
	d.mu.Unlock()
	d.hooks.Accumulator.SetTotalPageCount(total)
}

func (d *totalPagesDriver) markFirstDone() {
	d.mu.Lock()
	d.firstDone = true
	d.mu.Unlock()
}

func (d *totalPagesDriver) Finalize() bool {
	d.mu.Lock()
	lastKnown := d.lastPageKnown
	last := d.lastPage
	// Every page through the known last page was handed out, even if some
	// were allocated before the total was resolved.
	natural := d.naturalEnd || (lastKnown && d.nextPage > last)
	d.mu.Unlock()

	var lastArg any
	if lastKnown {
		lastArg = last
	}
	return natural && d.hooks.FailCounter.Complete(lastArg)
}
