package pagination

// NoneFetch is the single-page fetch callback for the None strategy.
type NoneFetch func(global, flow any) (resp any, err error)

// NoneKind is the single-page pagination strategy: one fetch per cycle,
// concurrency forced to 1.
type NoneKind struct {
	Fetch NoneFetch
}

func (NoneKind) Name() string { return "none" }

// Validate reports an error when Fetch is unset.
func (k NoneKind) Validate() error {
	if k.Fetch == nil {
		return ErrMissingFetchHandler
	}
	return nil
}

func (k NoneKind) NewDriver(h Hooks, start int, prefetch bool) Driver {
	return &noneDriver{hooks: h, fetch: k.Fetch}
}

type noneDriver struct {
	hooks Hooks
	fetch NoneFetch

	completed bool
	dispatched bool
}

func (d *noneDriver) Prepare(global any) error { return nil }

func (d *noneDriver) SupportsConcurrency() bool { return false }
func (d *noneDriver) NeedsPrefetchGate() bool   { return false }
func (d *noneDriver) FirstPageReady() bool      { return d.dispatched }

func (d *noneDriver) Executor() Executor {
	return func(global, flow any, attemptsLeft int, done func(), retryPayload any) ExecResult {
		done()
		d.dispatched = true

		resp, err := d.fetch(global, flow)
		if err != nil {
			d.hooks.Accumulator.AddError()
			if d.hooks.OnFetchError != nil {
				d.hooks.OnFetchError(err, 1)
			}
			if attemptsLeft == 0 {
				d.hooks.FailCounter.Fail(1)
				d.hooks.Accumulator.AddFailedPage(1)
			}
			return ExecResult{Retry: true, Payload: struct{}{}}
		}

		d.hooks.Accumulator.AddPage()
		d.completed = true
		if d.hooks.OnResponse != nil {
			go safeResponse(d.hooks, resp)
		}
		return Success
	}
}

func (d *noneDriver) Finalize() bool {
	return d.completed
}

func safeResponse(h Hooks, resp any) {
	defer func() {
		if r := recover(); r != nil && h.OnResponseError != nil {
			h.OnResponseError(errRecovered{r})
		}
	}()
	h.OnResponse(resp)
}

type errRecovered struct{ v any }

func (e errRecovered) Error() string { return "response handler panicked" }
