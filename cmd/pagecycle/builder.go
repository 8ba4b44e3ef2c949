package main

import (
	"fmt"

	scraperflow "github.com/m4w1s/scraperflow"
)

// buildKind turns the CLI's JSON-over-HTTP config into one of the five
// pagination.Kind values, wiring fetch/resolve closures around httpJSONClient
// instead of requiring the operator to write Go.
func buildKind(cfg *CLIConfig, hc *httpJSONClient) (scraperflow.Kind, error) {
	switch cfg.Kind {
	case "none":
		return scraperflow.NoneKind{
			Fetch: func(global, flow any) (any, error) {
				return hc.fetch(cfg.URL, 0, nil)
			},
		}, nil

	case "total_pages":
		return scraperflow.TotalPagesKind{
			Fetch: func(global, flow any, page int) (any, error) {
				return hc.fetch(cfg.URL, page, nil)
			},
			ResolveTotal: func(global, flow any, resp any) (int, bool, error) {
				r := resp.(*jsonResponse)
				total, ok := fieldAsInt(r.Body, cfg.TotalPagesField)
				return total, ok, nil
			},
		}, nil

	case "has_more":
		return scraperflow.HasMoreKind{
			Fetch: func(global, flow any, page int) (any, error) {
				return hc.fetch(cfg.URL, page, nil)
			},
			ResolveMore: func(global, flow any, resp any) (bool, error) {
				r := resp.(*jsonResponse)
				more, ok := fieldAsBool(r.Body, cfg.HasMoreField)
				if !ok {
					return false, fmt.Errorf("has_more field %q missing or not a bool", cfg.HasMoreField)
				}
				return more, nil
			},
		}, nil

	case "cursor":
		return scraperflow.CursorKind{
			Fetch: func(global, flow any, cursor any, pageNum int) (any, error) {
				return hc.fetch(cfg.URL, pageNum, cursor)
			},
			Resolve: func(global, flow any, resp any) (any, error) {
				r := resp.(*jsonResponse)
				next, ok := fieldAsString(r.Body, cfg.ListField)
				if !ok || next == "" {
					return nil, nil
				}
				return next, nil
			},
		}, nil

	case "list":
		return scraperflow.ListKind{
			ResolveList: func(global any) ([]any, error) {
				resp, err := hc.fetch(cfg.URL, 0, nil)
				if err != nil {
					return nil, err
				}
				items, ok := fieldAsSlice(resp.Body, cfg.ListField)
				if !ok {
					return nil, fmt.Errorf("list field %q missing or not an array", cfg.ListField)
				}
				return items, nil
			},
			Fetch: func(global, flow any, item any, index int) (any, error) {
				itemURL, ok := fieldAsString(item, cfg.ItemURLField)
				if !ok {
					if s, isStr := item.(string); isStr {
						itemURL = s
					} else {
						return nil, fmt.Errorf("list item %d missing url field %q", index, cfg.ItemURLField)
					}
				}
				return hc.fetch(itemURL, index, nil)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown kind %q (want none, total_pages, has_more, cursor, or list)", cfg.Kind)
	}
}

func buildOptions(cfg *CLIConfig) (scraperflow.Options, error) {
	hc := newHTTPJSONClient(cfg)
	kind, err := buildKind(cfg, hc)
	if err != nil {
		return scraperflow.Options{}, err
	}

	var maxTotal, maxConsecutive *int
	if cfg.MaxTotalPageFails > 0 {
		maxTotal = &cfg.MaxTotalPageFails
	}
	if cfg.MaxConsecutivePageFails > 0 {
		maxConsecutive = &cfg.MaxConsecutivePageFails
	}
	retryDistinct := cfg.RetryDistinctFlows

	opts := scraperflow.Options{
		Kind:                  kind,
		Concurrency:           cfg.Concurrency,
		Interval:              cfg.IntervalMS,
		IntervalStrategy:      scraperflow.IntervalStrategy(cfg.IntervalStrategy),
		CycleInterval:         cfg.CycleIntervalMS,
		CycleIntervalStrategy: scraperflow.IntervalStrategy(cfg.CycleIntervalStrategy),
		Policy: scraperflow.Policy{
			RetryLimit:              cfg.RetryLimit,
			RetryDistinctFlows:      &retryDistinct,
			SkipPageIfPossible:      cfg.SkipPageIfPossible,
			MaxTotalPageFails:       maxTotal,
			MaxConsecutivePageFails: maxConsecutive,
			PaginationStart:         &cfg.PaginationStart,
			PaginationPrefetch:      cfg.PaginationPrefetch,
		},
	}
	if cfg.LogAll {
		opts.Logger = true
	}

	return opts, nil
}
