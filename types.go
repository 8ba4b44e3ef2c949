package scheduler

import (
	"github.com/m4w1s/scraperflow/internal/events"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/scheduleropts"
	"github.com/m4w1s/scraperflow/internal/summary"
)

// Options is the raw, user-supplied configuration record New accepts.
// internal/scheduleropts.Raw does the validation; this package only
// re-exports the name so embedders never need to import an internal
// package.
type Options = scheduleropts.Raw

// Policy groups the error-handling options from spec.md §3: retry budget,
// fail-skip behavior, and the pagination start/prefetch knobs.
type Policy = scheduleropts.Policy

// ValidatedPolicy is Policy after defaulting, returned by Scheduler.Options.
type ValidatedPolicy = scheduleropts.ValidatedPolicy

// Validated is the defaulted, type-checked record Scheduler.Options
// returns.
type Validated = scheduleropts.Validated

// ConfigError wraps a constructor-time validation failure.
type ConfigError = scheduleropts.ConfigError

// IntervalStrategy selects how a resolved interval maps to an actual wait.
type IntervalStrategy = scheduleropts.IntervalStrategy

const (
	Dynamic = scheduleropts.Dynamic
	Fixed   = scheduleropts.Fixed
)

// Category names a log-backed event.
type Category = events.Category

const (
	ValidationWarning  = events.ValidationWarning
	GeneralError       = events.GeneralError
	FetchError         = events.FetchError
	ResolveError       = events.ResolveError
	ResponseHandleErr  = events.ResponseHandleErr
	SummaryHandleError = events.SummaryHandleError
)

// CycleSummary is the immutable result of one completed (or aborted)
// cycle, delivered to the summary handler and the cycleSummary event.
type CycleSummary = summary.CycleSummary

// Kind is the sealed pagination strategy attached to Options.Kind: exactly
// one of NoneKind, TotalPagesKind, HasMoreKind, CursorKind, or ListKind.
type Kind = pagination.Kind

type (
	NoneKind       = pagination.NoneKind
	TotalPagesKind = pagination.TotalPagesKind
	HasMoreKind    = pagination.HasMoreKind
	CursorKind     = pagination.CursorKind
	ListKind       = pagination.ListKind
)

type (
	NoneFetch         = pagination.NoneFetch
	TotalPagesFetch   = pagination.TotalPagesFetch
	TotalPagesResolve = pagination.TotalPagesResolve
	HasMoreFetch      = pagination.HasMoreFetch
	HasMoreResolve    = pagination.HasMoreResolve
	CursorFetch       = pagination.CursorFetch
	CursorResolve     = pagination.CursorResolve
	ListResolve       = pagination.ListResolve
	ListFetch         = pagination.ListFetch
)

// ErrEmptyList is returned (wrapped in a cycle ending immediately) when a
// ListKind's ResolveList yields no items.
var ErrEmptyList = pagination.ErrEmptyList

// ErrMissingKind is wrapped by a *ConfigError when Options.Kind is nil.
var ErrMissingKind = scheduleropts.ErrMissingKind

// ErrInvalidInitThisContext is wrapped by a *ConfigError when
// Options.InitThisContext errors or returns a nil value.
var ErrInvalidInitThisContext = scheduleropts.ErrInvalidInitThisContext
