// Package scheduleropts implements the Options Validator named as an
// external collaborator in spec.md §1: a pure transform from raw,
// user-supplied options to a defaulted, type-checked record, emitting
// validationWarning for each rejected field and a ConfigError for the
// handful of conditions spec.md §6 requires to throw outright.
package scheduleropts

import (
	"errors"
	"fmt"
	"math"

	"github.com/m4w1s/scraperflow/internal/events"
	"github.com/m4w1s/scraperflow/internal/interval"
	"github.com/m4w1s/scraperflow/internal/pagination"
	"github.com/m4w1s/scraperflow/internal/summary"
)

// IntervalStrategy is interval.Strategy under this package's name; kept as
// an alias so scheduleropts, flowpool, and cycle all share one type.
type IntervalStrategy = interval.Strategy

const (
	Dynamic = interval.Dynamic
	Fixed   = interval.Fixed
)

// Policy groups the error-handling fields from spec.md §3. MaxTotalPageFails,
// MaxConsecutivePageFails, and PaginationStart are pointers so Validate can
// tell "unset, use the documented default" apart from an explicit zero or
// negative value. For the fail budgets, zero/negative is a deliberate
// "terminate on first failure" setting rather than a synonym for unlimited;
// for PaginationStart, spec §8 boundary behavior requires zero or negative
// to be accepted verbatim rather than defaulted to 1.
type Policy struct {
	RetryLimit int
	// RetryDistinctFlows defaults to true (spec §6); nil means unset.
	RetryDistinctFlows      *bool
	SkipPageIfPossible      bool
	MaxTotalPageFails       *int
	MaxConsecutivePageFails *int
	PaginationStart         *int
	PaginationPrefetch      bool
}

// ValidatedPolicy is Policy after defaulting: the +Inf fallback is resolved
// to math.MaxInt so failcounter.Policy can consume it directly.
type ValidatedPolicy struct {
	RetryLimit              int
	RetryDistinctFlows      bool
	SkipPageIfPossible      bool
	MaxTotalPageFails       int
	MaxConsecutivePageFails int
	PaginationStart         int
	PaginationPrefetch      bool
}

// Raw is what an embedder builds by hand (or a CLI layer populates from
// viper-loaded config plus wired-up Go callbacks). Any zero-valued field
// that has a documented default is filled in by Validate; fields with no
// sensible default that are missing cause a ConfigError.
type Raw struct {
	Kind pagination.Kind

	InitThisContext func() (any, error)
	ResetThisContext bool

	// InitFlowContext returns either a single context (scalar mode) or a
	// non-empty []any (fixed-concurrency mode). prev is the corresponding
	// slot's previous-cycle context, or nil on the first call for that slot.
	InitFlowContext func(prev any) (any, error)
	ResetFlowContext bool

	ResponseHandler func(resp any)
	SummaryHandler  func(summary.CycleSummary) error

	Concurrency                    int
	RemoveContextForRedundantFlows *bool

	Interval              any
	IntervalStrategy      IntervalStrategy
	CycleInterval         any
	CycleIntervalStrategy IntervalStrategy

	Policy Policy

	Logger any // nil, bool, or []events.Category
}

// Validated is the defaulted, type-checked record the scheduler consumes.
// Identical in shape to Raw except every optional field now carries its
// effective value.
type Validated struct {
	Kind pagination.Kind

	InitThisContext  func() (any, error)
	ResetThisContext bool
	InitFlowContext  func(prev any) (any, error)
	ResetFlowContext bool

	ResponseHandler func(resp any)
	SummaryHandler  func(summary.CycleSummary) error

	Concurrency                    int
	RemoveContextForRedundantFlows bool

	Interval              any
	IntervalStrategy      IntervalStrategy
	CycleInterval         any
	CycleIntervalStrategy IntervalStrategy

	Policy ValidatedPolicy

	LoggerPolicy *events.LoggerPolicy
}

// ConfigError wraps a constructor-time validation failure (spec §7
// taxonomy category 1): missing required callbacks or an invalid kind.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scraperflow: invalid option %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	ErrMissingKind            = errors.New("pagination kind is required")
	ErrInvalidInitThisContext = errors.New("initThisContext returned an error")
)

// warner receives a validationWarning for every rejected field; Validate
// still fills in the default in that case.
type warner func(key, msg string)

// Validate maps raw to a Validated record, reporting every rejected field
// through warn and returning a *ConfigError for the handful of conditions
// that must throw instead of warn.
func Validate(raw Raw, warn warner) (Validated, error) {
	if warn == nil {
		warn = func(string, string) {}
	}

	if raw.Kind == nil {
		return Validated{}, &ConfigError{Field: "kind", Err: ErrMissingKind}
	}
	if err := raw.Kind.Validate(); err != nil {
		return Validated{}, &ConfigError{Field: "kind", Err: err}
	}

	v := Validated{
		Kind:             raw.Kind,
		InitThisContext:  raw.InitThisContext,
		ResetThisContext: raw.ResetThisContext,
		InitFlowContext:  raw.InitFlowContext,
		ResetFlowContext: raw.ResetFlowContext,
		ResponseHandler:  raw.ResponseHandler,
		SummaryHandler:   raw.SummaryHandler,
	}

	if v.InitFlowContext == nil {
		// Keep a slot's previous context; otherwise hand out a fresh,
		// distinct pointer (the flow context list rejects nil).
		v.InitFlowContext = func(prev any) (any, error) {
			if prev != nil {
				return prev, nil
			}
			return new(int), nil
		}
	}

	if raw.Concurrency < 1 {
		if raw.Concurrency != 0 {
			warn("concurrency", "must be >= 1, using default 1")
		}
		v.Concurrency = 1
	} else {
		v.Concurrency = raw.Concurrency
	}

	if raw.RemoveContextForRedundantFlows == nil {
		v.RemoveContextForRedundantFlows = true
	} else {
		v.RemoveContextForRedundantFlows = *raw.RemoveContextForRedundantFlows
	}

	v.Interval = raw.Interval
	switch raw.IntervalStrategy {
	case Dynamic, Fixed:
		v.IntervalStrategy = raw.IntervalStrategy
	case "":
		v.IntervalStrategy = Dynamic
	default:
		warn("intervalStrategy", fmt.Sprintf("unknown strategy %q, using dynamic", raw.IntervalStrategy))
		v.IntervalStrategy = Dynamic
	}

	v.CycleInterval = raw.CycleInterval
	if v.CycleInterval == nil {
		v.CycleInterval = raw.Interval
	}
	switch raw.CycleIntervalStrategy {
	case Dynamic, Fixed:
		v.CycleIntervalStrategy = raw.CycleIntervalStrategy
	case "":
		v.CycleIntervalStrategy = Fixed
	default:
		warn("cycleIntervalStrategy", fmt.Sprintf("unknown strategy %q, using fixed", raw.CycleIntervalStrategy))
		v.CycleIntervalStrategy = Fixed
	}

	v.Policy = validatePolicy(raw.Policy, warn)
	v.LoggerPolicy = validateLogger(raw.Logger, warn)

	return v, nil
}

func validatePolicy(p Policy, warn warner) ValidatedPolicy {
	out := ValidatedPolicy{
		SkipPageIfPossible: p.SkipPageIfPossible,
		PaginationPrefetch: p.PaginationPrefetch,
	}

	if p.RetryDistinctFlows == nil {
		out.RetryDistinctFlows = true
	} else {
		out.RetryDistinctFlows = *p.RetryDistinctFlows
	}

	if p.RetryLimit < 0 {
		warn("retryLimit", "must be >= 0, using default 2")
		out.RetryLimit = 2
	} else {
		out.RetryLimit = p.RetryLimit
	}

	if p.MaxTotalPageFails == nil {
		out.MaxTotalPageFails = math.MaxInt
	} else {
		out.MaxTotalPageFails = *p.MaxTotalPageFails
	}

	if p.MaxConsecutivePageFails == nil {
		out.MaxConsecutivePageFails = math.MaxInt
	} else {
		out.MaxConsecutivePageFails = *p.MaxConsecutivePageFails
	}

	if p.PaginationStart == nil {
		out.PaginationStart = 1
	} else {
		out.PaginationStart = *p.PaginationStart
	}

	return out
}

func validateLogger(raw any, warn warner) *events.LoggerPolicy {
	switch v := raw.(type) {
	case nil:
		return nil // Bus falls back to the spec default set
	case bool:
		if v {
			return &events.LoggerPolicy{All: true}
		}
		return &events.LoggerPolicy{Disabled: true}
	case []events.Category:
		enabled := make(map[events.Category]bool, len(v))
		for _, c := range v {
			valid := false
			for _, known := range events.AllCategories {
				if c == known {
					valid = true
					break
				}
			}
			if !valid {
				warn("logger", fmt.Sprintf("unknown category %q ignored", c))
				continue
			}
			enabled[c] = true
		}
		return &events.LoggerPolicy{Enabled: enabled}
	default:
		warn("logger", "must be a bool or a set of categories, using default")
		return nil
	}
}
