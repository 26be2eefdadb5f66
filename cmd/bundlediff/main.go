package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/app"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Global flags
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bundlediff",
	Short: "Bundlediff - Compare JavaScript bundle analysis reports",
	Long: `Bundlediff stores bundle analysis reports per commit and compares the
bundles of two commits: which bundles were added, removed or modified, by
how many bytes, and how much longer they take to download.

Commands that talk to storage read their configuration from BUNDLEDIFF_*
environment variables. compare-files works on report files alone.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("log-level") {
			os.Setenv("BUNDLEDIFF_LOG_LEVEL", logLevel)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Bundlediff %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// openApp loads CLI configuration and opens the configured stores.
func openApp(ctx context.Context) (context.Context, *app.App, error) {
	if os.Getenv("BUNDLEDIFF_LOG_LEVEL") == "" {
		os.Setenv("BUNDLEDIFF_LOG_LEVEL", logLevel)
	}

	cfg, err := config.Load(config.ModeCLI)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logctx.Init(cfg.LogLevel, true)
	if err != nil {
		return ctx, nil, err
	}
	ctx = logctx.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, a, nil
}

// parseRepo splits a service/owner/name slug.
func parseRepo(slug string) (service, owner, name string, err error) {
	parts := strings.Split(slug, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid repository %q (expected service/owner/name)", slug)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("invalid repository %q (expected service/owner/name)", slug)
		}
	}
	return parts[0], parts[1], parts[2], nil
}
