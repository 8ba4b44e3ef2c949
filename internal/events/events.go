// Package events implements the typed subscription registry backing
// spec.md §4.9/§6: started/stopped/cycleSummary plus one event per log
// category, with the specific emission-ordering guarantees the scheduler
// depends on.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/m4w1s/scraperflow/internal/summary"
)

// Category names a log-backed event, matching spec.md §6's set.
type Category string

const (
	ValidationWarning  Category = "validationWarning"
	GeneralError       Category = "generalError"
	FetchError         Category = "fetchError"
	ResolveError       Category = "resolveError"
	ResponseHandleErr  Category = "responseHandleError"
	SummaryHandleError Category = "summaryHandleError"
)

// AllCategories enumerates every log category, for policy resolution.
var AllCategories = []Category{
	ValidationWarning, GeneralError, FetchError, ResolveError, ResponseHandleErr, SummaryHandleError,
}

// LoggerPolicy decides which categories are printed. A nil policy means
// the spec's default: {validationWarning, generalError}.
type LoggerPolicy struct {
	All      bool
	Enabled  map[Category]bool
	Disabled bool // explicit false: nothing printed
}

func (p *LoggerPolicy) enabled(c Category) bool {
	if p == nil {
		return c == ValidationWarning || c == GeneralError
	}
	if p.Disabled {
		return false
	}
	if p.All {
		return true
	}
	return p.Enabled[c]
}

// Bus is the per-scheduler typed event registry. Every public emission
// method is safe for concurrent use; subscriber callbacks run
// synchronously on the emitting goroutine (callers of Started/Stopped
// already schedule those onto a separate goroutine, see Scheduler.Start).
type Bus struct {
	logger *slog.Logger
	policy *LoggerPolicy

	mu                sync.Mutex
	runID             string
	onStarted         []func()
	onStopped         []func()
	onCycleSummary    []func(summary.CycleSummary)
	onValidationWarn  []func(key, msg string)
	onGeneralError    []func(err error)
	onFetchError      []func(err error, page any)
	onResolveError    []func(err error)
	onResponseErr     []func(err error)
	onSummaryHandleEr []func(err error)
}

// New creates a Bus that logs through logger according to policy (nil
// policy falls back to the spec default set).
func New(logger *slog.Logger, policy *LoggerPolicy) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "events"), policy: policy}
}

// RunID returns a fresh correlation id. Once set with SetRunID it is
// attached to every log line the bus prints during one Start()/StartOnce()
// lifetime; subscriber callbacks do not receive it.
func RunID() string { return uuid.NewString() }

// SetRunID attaches the correlation id for the run currently in progress.
// Called once per Start() so every log line from that run carries it.
func (b *Bus) SetRunID(id string) {
	b.mu.Lock()
	b.runID = id
	b.mu.Unlock()
}

// CurrentRunID returns the run id set by the most recent SetRunID call, or
// "" before the first Start().
func (b *Bus) CurrentRunID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runID
}

func (b *Bus) logWith() *slog.Logger {
	b.mu.Lock()
	id := b.runID
	b.mu.Unlock()
	if id == "" {
		return b.logger
	}
	return b.logger.With("run_id", id)
}

func (b *Bus) OnStarted(fn func()) {
	b.mu.Lock()
	b.onStarted = append(b.onStarted, fn)
	b.mu.Unlock()
}

func (b *Bus) OnStopped(fn func()) {
	b.mu.Lock()
	b.onStopped = append(b.onStopped, fn)
	b.mu.Unlock()
}

func (b *Bus) OnCycleSummary(fn func(summary.CycleSummary)) {
	b.mu.Lock()
	b.onCycleSummary = append(b.onCycleSummary, fn)
	b.mu.Unlock()
}

func (b *Bus) OnValidationWarning(fn func(key, msg string)) {
	b.mu.Lock()
	b.onValidationWarn = append(b.onValidationWarn, fn)
	b.mu.Unlock()
}

func (b *Bus) OnGeneralError(fn func(err error)) {
	b.mu.Lock()
	b.onGeneralError = append(b.onGeneralError, fn)
	b.mu.Unlock()
}

func (b *Bus) OnFetchError(fn func(err error, page any)) {
	b.mu.Lock()
	b.onFetchError = append(b.onFetchError, fn)
	b.mu.Unlock()
}

func (b *Bus) OnResolveError(fn func(err error)) {
	b.mu.Lock()
	b.onResolveError = append(b.onResolveError, fn)
	b.mu.Unlock()
}

func (b *Bus) OnResponseHandleError(fn func(err error)) {
	b.mu.Lock()
	b.onResponseErr = append(b.onResponseErr, fn)
	b.mu.Unlock()
}

func (b *Bus) OnSummaryHandleError(fn func(err error)) {
	b.mu.Lock()
	b.onSummaryHandleEr = append(b.onSummaryHandleEr, fn)
	b.mu.Unlock()
}

// EmitStarted notifies subscribers. Callers are responsible for deferring
// this to the next tick per spec §4.9's ordering guarantee.
func (b *Bus) EmitStarted() {
	b.mu.Lock()
	subs := append([]func(){}, b.onStarted...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// EmitStopped notifies subscribers; callers defer this until after the
// cycle loop's goroutine has fully exited.
func (b *Bus) EmitStopped() {
	b.mu.Lock()
	subs := append([]func(){}, b.onStopped...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// EmitCycleSummary fires synchronously inside the cycle loop, after the
// summary handler, per spec §4.9.
func (b *Bus) EmitCycleSummary(s summary.CycleSummary) {
	b.mu.Lock()
	subs := append([]func(summary.CycleSummary){}, b.onCycleSummary...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (b *Bus) EmitValidationWarning(key, msg string) {
	if b.policy.enabled(ValidationWarning) {
		b.logWith().Warn("validation warning", "tag", "[ValidationWarning]", "key", key, "msg", msg)
	}
	b.mu.Lock()
	subs := append([]func(key, msg string){}, b.onValidationWarn...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(key, msg)
	}
}

func (b *Bus) EmitGeneralError(err error) {
	if b.policy.enabled(GeneralError) {
		b.logWith().Error("general error", "tag", "[GeneralError]", "err", err)
	}
	b.mu.Lock()
	subs := append([]func(error){}, b.onGeneralError...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (b *Bus) EmitFetchError(err error, page any) {
	if b.policy.enabled(FetchError) {
		b.logWith().Error("fetch error", "tag", "[FetchError]", "err", err, "page", page)
	}
	b.mu.Lock()
	subs := append([]func(error, any){}, b.onFetchError...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err, page)
	}
}

func (b *Bus) EmitResolveError(err error) {
	if b.policy.enabled(ResolveError) {
		b.logWith().Error("resolve error", "tag", "[ResolveError]", "err", err)
	}
	b.mu.Lock()
	subs := append([]func(error){}, b.onResolveError...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (b *Bus) EmitResponseHandleError(err error) {
	if b.policy.enabled(ResponseHandleErr) {
		b.logWith().Error("response handler error", "tag", "[ResponseHandleError]", "err", err)
	}
	b.mu.Lock()
	subs := append([]func(error){}, b.onResponseErr...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (b *Bus) EmitSummaryHandleError(err error) {
	if b.policy.enabled(SummaryHandleError) {
		b.logWith().Error("summary handler error", "tag", "[SummaryHandleError]", "err", err)
	}
	b.mu.Lock()
	subs := append([]func(error){}, b.onSummaryHandleEr...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
