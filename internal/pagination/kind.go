// Package pagination implements the five page-enumeration strategies from
// spec.md §4.6: None, TotalPages, HasMore, Cursor, and List. Each driver
// translates its strategy-specific page identifier stream into the generic
// executor shape the flow scheduler consumes.
package pagination

import (
	"errors"

	"github.com/m4w1s/scraperflow/internal/failcounter"
)

// Configuration errors a Kind.Validate() implementation returns. These are
// constructor-time failures (spec §6/§7 taxonomy category 1), never
// validationWarnings.
var (
	ErrMissingFetchHandler = errors.New("pagination: fetchHandler is required")
	ErrMissingResolver     = errors.New("pagination: kind-specific resolver is required")
)

// ExecResult is what an executor call returns for one attempt:
// Retry=false means the attempt succeeded; Retry=true carries the payload
// the pool should remember if attemptsLeft (passed into the call) was > 0.
type ExecResult struct {
	Retry   bool
	Payload any
}

// Success is the canonical result for a successful attempt.
var Success = ExecResult{Retry: false}

// Executor is invoked once per dispatched attempt (fresh task or retry).
// attemptsLeft is the number of retries still available after this one if
// it fails; retryPayload is nil for a fresh task and the carried payload
// for a retried one. The executor must never propagate a user error — all
// fetch/resolve failures are caught and converted into an ExecResult plus
// event emissions by the driver itself (spec §7 propagation rule).
type Executor func(global, flow any, attemptsLeft int, done func(), retryPayload any) ExecResult

// Hooks are the driver-independent collaborators every driver needs:
// counters, the done-callback is supplied separately per cycle by the
// caller, and error/response reporting goes through the event callbacks.
type Hooks struct {
	Accumulator interface {
		AddPage()
		AddError()
		AddFailedPage(page any)
		SetTotalPageCount(n int)
	}
	FailCounter *failcounter.Counter

	OnFetchError    func(err error, page any)
	OnResolveError  func(err error)
	OnResponse      func(resp any) // fire-and-forget, driver launches the goroutine
	OnResponseError func(err error)
}

// Driver is one cycle's worth of pagination state and behavior.
type Driver interface {
	// Prepare runs before the flow scheduler starts. Returning an error
	// means the cycle ends immediately with an empty, incomplete summary
	// (used by List when resolveList fails up front).
	Prepare(global any) error

	// Executor returns the closure the flow scheduler calls per attempt.
	Executor() Executor

	// SupportsConcurrency reports whether this strategy fans work out
	// across more than one flow context (false for None and Cursor).
	SupportsConcurrency() bool

	// NeedsPrefetchGate is true only for TotalPages: concurrency is
	// clamped to 1 until the total page count is known, unless prefetch
	// is enabled.
	NeedsPrefetchGate() bool

	// FirstPageReady reports whether the prefetch gate (if any) has
	// opened, i.e. at least one page has completed.
	FirstPageReady() bool

	// Finalize runs after the flow scheduler has quiesced and returns
	// whether the cycle counts as completed.
	Finalize() bool
}

// Kind is the sealed tagged variant from spec.md §3: exactly one of these
// is attached to a scheduler's validated options.
type Kind interface {
	// NewDriver builds a fresh Driver for one cycle.
	NewDriver(h Hooks, start int, prefetch bool) Driver
	// Name identifies the strategy for diagnostics.
	Name() string
	// Validate reports a configuration error when a required callback is
	// missing (spec §6: "missing fetchHandler, missing kind-specific
	// resolver" must throw, not warn).
	Validate() error
}
