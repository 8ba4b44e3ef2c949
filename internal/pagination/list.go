package pagination

import (
	"errors"
	"sync"
)

// ErrEmptyList is returned by Prepare when resolveList yields no items;
// the cycle ends immediately with an empty, incomplete summary.
var ErrEmptyList = errors.New("pagination: resolveList returned no items")

// ListResolve produces the full item sequence once, before the flow
// scheduler starts.
type ListResolve func(global any) (items []any, err error)

// ListFetch fetches the page for one list item.
type ListFetch func(global, flow any, item any, index int) (resp any, err error)

// ListKind drives pagination over a pre-resolved, finite list of items
// (e.g. a sitemap, a search-result page, an id list).
type ListKind struct {
	ResolveList ListResolve
	Fetch       ListFetch
}

func (ListKind) Name() string { return "list" }

// Validate reports an error when Fetch or ResolveList is unset.
func (k ListKind) Validate() error {
	if k.Fetch == nil {
		return ErrMissingFetchHandler
	}
	if k.ResolveList == nil {
		return ErrMissingResolver
	}
	return nil
}

func (k ListKind) NewDriver(h Hooks, start int, prefetch bool) Driver {
	return &listDriver{hooks: h, resolveList: k.ResolveList, fetch: k.Fetch}
}

type listIndexPayload struct{ index int }

type listDriver struct {
	hooks       Hooks
	resolveList ListResolve
	fetch       ListFetch

	mu         sync.Mutex
	items      []any
	nextIndex  int
	naturalEnd bool
}

func (d *listDriver) Prepare(global any) error {
	items, err := d.resolveList(global)
	if err != nil {
		if d.hooks.OnResolveError != nil {
			d.hooks.OnResolveError(err)
		}
		return err
	}
	if len(items) == 0 {
		if d.hooks.OnResolveError != nil {
			d.hooks.OnResolveError(ErrEmptyList)
		}
		return ErrEmptyList
	}
	d.items = items
	return nil
}

func (d *listDriver) SupportsConcurrency() bool { return true }
func (d *listDriver) NeedsPrefetchGate() bool   { return false }
func (d *listDriver) FirstPageReady() bool      { return true }

func (d *listDriver) Executor() Executor {
	return func(global, flow any, attemptsLeft int, done func(), retryPayload any) ExecResult {
		index, item, ok, isLastFresh := d.allocate(retryPayload)
		if !ok {
			done()
			return Success
		}

		resp, err := d.fetch(global, flow, item, index)
		if err != nil {
			d.hooks.Accumulator.AddError()
			if d.hooks.OnFetchError != nil {
				d.hooks.OnFetchError(err, index)
			}
			if attemptsLeft == 0 {
				d.hooks.Accumulator.AddFailedPage(index)
				if cannotSkipMore := d.hooks.FailCounter.Fail(nil); cannotSkipMore {
					done()
				}
			}
			return ExecResult{Retry: true, Payload: listIndexPayload{index: index}}
		}

		d.hooks.Accumulator.AddPage()
		d.hooks.FailCounter.Success()
		if d.hooks.OnResponse != nil {
			go safeResponse(d.hooks, resp)
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

func (d *listDriver) allocate(retryPayload any) (index int, item any, ok bool, isLastFresh bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if retryPayload != nil {
		p := retryPayload.(listIndexPayload)
		if p.index < 0 || p.index >= len(d.items) {
			return 0, nil, false, false
		}
		return p.index, d.items[p.index], true, false
	}

	if d.nextIndex >= len(d.items) {
		return 0, nil, false, false
	}
	index = d.nextIndex
	item = d.items[index]
	d.nextIndex++
	isLastFresh = d.nextIndex >= len(d.items)
	return index, item, true, isLastFresh
}

func (d *listDriver) Finalize() bool {
	d.mu.Lock()
	natural := d.naturalEnd
	count := d.nextIndex
	d.mu.Unlock()

	d.hooks.Accumulator.SetTotalPageCount(count)
	return natural && d.hooks.FailCounter.Complete(nil)
}
