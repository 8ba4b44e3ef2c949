package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	scraperflow "github.com/m4w1s/scraperflow"
	"github.com/m4w1s/scraperflow/internal/observability"
)

var (
	cfgFile string
	verbose bool
	maxCycles int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagecycle",
		Short: "pagecycle — pagination cycle scheduler for JSON HTTP APIs",
		Long: `pagecycle drives a reusable pagination cycle scheduler against a JSON HTTP
endpoint, repeating none/total_pages/has_more/cursor/list-style pagination on
an interval, reporting each cycle's summary, and optionally exposing
Prometheus metrics.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the cycle scheduler and run until stopped",
		RunE:  runRun,
	}
	cmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "stop after this many cycles (0 = run forever)")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadCLIConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return fmt.Errorf("build scheduler options: %w", err)
	}

	sched, err := scraperflow.New(opts)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	printer := newReportPrinter(os.Stdout)
	printer.attach(sched)

	var cyclesSeen int
	stopAfterN := maxCycles
	if cfg.MaxCycles > 0 && (stopAfterN == 0 || cfg.MaxCycles < stopAfterN) {
		stopAfterN = cfg.MaxCycles
	}
	if stopAfterN > 0 {
		sched.OnCycleSummary(func(scraperflow.CycleSummary) {
			cyclesSeen++
			if cyclesSeen >= stopAfterN {
				go sched.Stop(false)
			}
		})
	}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg, logger)
		metrics.Attach(sched)
		metrics.RegisterConcurrencyGauge(reg, sched)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server exited", "err", err)
			}
		}()
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
	}

	stopped := make(chan struct{})
	sched.OnStopped(func() {
		select {
		case <-stopped:
		default:
			close(stopped)
		}
	})

	if !sched.Start() {
		return fmt.Errorf("scheduler failed to start")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, stopping", "signal", sig)
		<-sched.Stop(false)
	case <-stopped:
	}

	return nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without running the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			opts, err := buildOptions(cfg)
			if err != nil {
				return fmt.Errorf("build scheduler options: %w", err)
			}

			var warnings []string
			sched, err := scraperflow.New(opts)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			sched.OnValidationWarning(func(key, msg string) {
				warnings = append(warnings, fmt.Sprintf("%s: %s", key, msg))
			})

			fmt.Println("config OK")
			fmt.Printf("  kind:        %s\n", cfg.Kind)
			fmt.Printf("  concurrency: %d\n", sched.Options().Concurrency)
			fmt.Printf("  retryLimit:  %d\n", sched.Options().Policy.RetryLimit)
			for _, w := range warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pagecycle %s\n", Version)
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
