package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/api"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/app"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/queue"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/server"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/worker"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// CLI flags
	port     int
	logLevel string
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bundlediff-server",
	Short: "Bundlediff Server - Bundle analysis upload and comparison API",
	Long: `Bundlediff Server accepts bundle analysis report uploads and serves
comparisons between the reports of two commits or of a pull request.

Uploads are announced on the configured message queue. With the in-memory
queue the server also runs the worker in-process, which is intended for
local development. For production deployments, run bundlediff-worker
separately against Redis or Pub/Sub.`,
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Bundlediff Server %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	// Override environment variables with CLI flags if they were explicitly set
	if cmd.Flags().Changed("port") {
		os.Setenv("BUNDLEDIFF_PORT", fmt.Sprintf("%d", port))
	}
	if cmd.Flags().Changed("log-level") {
		os.Setenv("BUNDLEDIFF_LOG_LEVEL", logLevel)
	}

	cfg, err := config.Load(config.ModeServer)
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	defer q.Close()

	uploader, err := a.NewUploader(q)
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Meta:     a.Meta,
		Uploader: uploader,
		Comparer: a.Comparer,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Logger:   logger,
		Gatherer: reg,
	})
	handler.Register(srv.Mux())

	logger.Info().
		Str("version", version).
		Str("queue", string(cfg.Queue.Type)).
		Str("storage", string(cfg.Storage.Type)).
		Str("metadata", string(cfg.Metadata.Type)).
		Msg("starting bundlediff server")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	if cfg.Queue.Type == config.QueueTypeInMemory {
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
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
