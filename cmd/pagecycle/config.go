package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CLIConfig is the raw, YAML/env-friendly record cmd/pagecycle builds a
// scraperflow.Options value from. It only covers the JSON-over-HTTP
// pagination shapes the CLI drives generically; embedders wiring their
// own fetch/resolve closures in Go use scraperflow.Options directly and
// never touch this type.
type CLIConfig struct {
	Kind        string        `mapstructure:"kind"         yaml:"kind"`
	URL         string        `mapstructure:"url"          yaml:"url"`
	Method      string        `mapstructure:"method"       yaml:"method"`
	Headers     []string      `mapstructure:"headers"      yaml:"headers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// TotalPagesField/HasMoreField/ListField are dot-separated JSON field
	// paths read out of each response body for their respective kinds.
	TotalPagesField string `mapstructure:"total_pages_field" yaml:"total_pages_field"`
	HasMoreField    string `mapstructure:"has_more_field"    yaml:"has_more_field"`
	ListField       string `mapstructure:"list_field"        yaml:"list_field"`
	ItemURLField    string `mapstructure:"item_url_field"    yaml:"item_url_field"`

	Concurrency           int    `mapstructure:"concurrency"              yaml:"concurrency"`
	RetryLimit            int    `mapstructure:"retry_limit"              yaml:"retry_limit"`
	RetryDistinctFlows    bool   `mapstructure:"retry_distinct_flows"     yaml:"retry_distinct_flows"`
	SkipPageIfPossible    bool   `mapstructure:"skip_page_if_possible"    yaml:"skip_page_if_possible"`
	MaxTotalPageFails     int    `mapstructure:"max_total_page_fails"     yaml:"max_total_page_fails"`
	MaxConsecutivePageFails int  `mapstructure:"max_consecutive_page_fails" yaml:"max_consecutive_page_fails"`
	PaginationStart       int    `mapstructure:"pagination_start"         yaml:"pagination_start"`
	PaginationPrefetch    bool   `mapstructure:"pagination_prefetch"      yaml:"pagination_prefetch"`

	IntervalMS      int    `mapstructure:"interval_ms"       yaml:"interval_ms"`
	CycleIntervalMS int    `mapstructure:"cycle_interval_ms" yaml:"cycle_interval_ms"`
	IntervalStrategy      string `mapstructure:"interval_strategy"       yaml:"interval_strategy"`
	CycleIntervalStrategy string `mapstructure:"cycle_interval_strategy" yaml:"cycle_interval_strategy"`

	MaxCycles int `mapstructure:"max_cycles" yaml:"max_cycles"` // 0 = unlimited

	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"    yaml:"metrics_addr"`

	LogAll bool `mapstructure:"log_all" yaml:"log_all"`
}

func defaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Kind:                  "none",
		Method:                "GET",
		RequestTimeout:        15 * time.Second,
		Concurrency:           1,
		RetryLimit:            2,
		RetryDistinctFlows:    true,
		MaxTotalPageFails:     0,
		MaxConsecutivePageFails: 0,
		PaginationStart:       1,
		IntervalMS:            1000,
		CycleIntervalMS:       60000,
		IntervalStrategy:      "dynamic",
		CycleIntervalStrategy: "fixed",
		MetricsAddr:           ":9090",
	}
}

// loadCLIConfig layers env vars > config file > defaults. No command-line
// flag is bound here; --max-cycles is combined with max_cycles in runRun.
func loadCLIConfig(configPath string) (*CLIConfig, error) {
	cfg := defaultCLIConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setCLIDefaults(v, cfg)

	v.SetEnvPrefix("PAGECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pagecycle")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pagecycle"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setCLIDefaults(v *viper.Viper, cfg *CLIConfig) {
	v.SetDefault("kind", cfg.Kind)
	v.SetDefault("method", cfg.Method)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("concurrency", cfg.Concurrency)
	v.SetDefault("retry_limit", cfg.RetryLimit)
	v.SetDefault("retry_distinct_flows", cfg.RetryDistinctFlows)
	v.SetDefault("pagination_start", cfg.PaginationStart)
	v.SetDefault("interval_ms", cfg.IntervalMS)
	v.SetDefault("cycle_interval_ms", cfg.CycleIntervalMS)
	v.SetDefault("interval_strategy", cfg.IntervalStrategy)
	v.SetDefault("cycle_interval_strategy", cfg.CycleIntervalStrategy)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
}

func (c *CLIConfig) headerMap() map[string]string {
	out := make(map[string]string, len(c.Headers))
	for _, h := range c.Headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
