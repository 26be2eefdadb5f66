package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/app"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/queue"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/worker"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bundlediff-worker",
	Short: "Bundlediff Worker - Report validation and comparison service",
	Long: `Bundlediff Worker consumes report upload messages from the message queue.

For every uploaded report it checks that the stored blob can be read and,
when the upload named a base commit, compares the two reports and writes a
Markdown summary to stdout.

All configuration is loaded from environment variables.`,
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Bundlediff Worker %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.ModeWorker)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logctx.Init(cfg.LogLevel, cfg.LogHuman)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logctx.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	defer q.Close()

	w, err := worker.New(worker.Config{
		Queue:    q,
		Meta:     a.Meta,
		Loader:   a.Loader,
		Comparer: a.Comparer,
		Output:   os.Stdout,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", version).
		Str("queue", string(cfg.Queue.Type)).
		Str("storage", string(cfg.Storage.Type)).
		Msg("starting bundlediff worker")

	return w.Run(ctx)
}
