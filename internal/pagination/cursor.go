package pagination

import "sync"

// CursorFetch fetches the page identified by cursor (nil for the first
// page) and its 1-based sequence number.
type CursorFetch func(global, flow any, cursor any, pageNum int) (resp any, err error)

// CursorResolve extracts the next cursor from a fetched response. A nil
// cursor means there is no further page.
type CursorResolve func(global, flow any, resp any) (nextCursor any, err error)

// CursorKind drives strictly sequential, cursor-linked pagination.
// skipPageIfPossible does not apply: a terminal failure always ends the
// cycle, since there is no way to continue without the cursor.
type CursorKind struct {
	Fetch   CursorFetch
	Resolve CursorResolve
}

func (CursorKind) Name() string { return "cursor" }

// Validate reports an error when Fetch or Resolve is unset.
func (k CursorKind) Validate() error {
	if k.Fetch == nil {
		return ErrMissingFetchHandler
	}
	if k.Resolve == nil {
		return ErrMissingResolver
	}
	return nil
}

func (k CursorKind) NewDriver(h Hooks, start int, prefetch bool) Driver {
	return &cursorDriver{hooks: h, fetch: k.Fetch, resolve: k.Resolve, nextPageNum: 1}
}

type cursorRetryPayload struct {
	cursor  any
	pageNum int
}

type cursorDriver struct {
	hooks   Hooks
	fetch   CursorFetch
	resolve CursorResolve

	mu          sync.Mutex
	cursor      any
	nextPageNum int
	naturalEnd  bool
}

func (d *cursorDriver) Prepare(global any) error { return nil }

func (d *cursorDriver) SupportsConcurrency() bool { return false }
func (d *cursorDriver) NeedsPrefetchGate() bool   { return false }
func (d *cursorDriver) FirstPageReady() bool { return true }

func (d *cursorDriver) Executor() Executor {
	return func(global, flow any, attemptsLeft int, done func(), retryPayload any) ExecResult {
		cursor, pageNum := d.allocate(retryPayload)

		resp, err := d.fetch(global, flow, cursor, pageNum)
		if err == nil {
			var nextCursor any
			nextCursor, err = d.resolve(global, flow, resp)
			if err == nil {
				if d.hooks.OnResponse != nil {
					go safeResponse(d.hooks, resp)
				}
				if nextCursor == nil {
					done()
					d.mu.Lock()
					d.naturalEnd = true
					d.mu.Unlock()
					return Success
				}
				d.mu.Lock()
				d.cursor = nextCursor
				d.mu.Unlock()
				return Success
			}
			if d.hooks.OnResolveError != nil {
				d.hooks.OnResolveError(err)
			}
		} else if d.hooks.OnFetchError != nil {
			d.hooks.OnFetchError(err, pageNum)
		}

		d.hooks.Accumulator.AddError()
		if attemptsLeft == 0 {
			done() // cannot continue without the cursor
			d.hooks.Accumulator.AddFailedPage(pageNum)
			d.hooks.FailCounter.Fail(pageNum)
		}
		return ExecResult{Retry: true, Payload: cursorRetryPayload{cursor: cursor, pageNum: pageNum}}
	}
}

func (d *cursorDriver) allocate(retryPayload any) (cursor any, pageNum int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if retryPayload != nil {
		p := retryPayload.(cursorRetryPayload)
		return p.cursor, p.pageNum
	}

	cursor = d.cursor
	pageNum = d.nextPageNum
	d.nextPageNum++
	return cursor, pageNum
}

func (d *cursorDriver) Finalize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks.Accumulator.SetTotalPageCount(d.nextPageNum - 1)
	return d.naturalEnd
}
