// Package worker processes report upload notifications from the queue.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/format"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/queue"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

// ErrUnknownRepository is returned for messages naming a repository the
// metadata store does not know.
var ErrUnknownRepository = errors.New("unknown repository")

// ErrReportNotFound is returned when the announced report cannot be loaded.
var ErrReportNotFound = errors.New("report not found")

// Config holds the dependencies of a Worker.
type Config struct {
	Queue    queue.MessageQueue
	Meta     metadata.Store
	Loader   *bundle.Loader
	Comparer *bundle.Comparer
	// Output receives a Markdown summary per comparison. Optional.
	Output io.Writer
}

// Worker validates uploaded reports and compares them against the base
// commit named in the upload.
type Worker struct {
	queue     queue.MessageQueue
	meta      metadata.Store
	loader    *bundle.Loader
	comparer  *bundle.Comparer
	formatter format.Formatter

	mu  sync.Mutex
	out io.Writer
}

// New creates a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if cfg.Comparer == nil {
		return nil, errors.New("comparer is required")
	}
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}

	return &Worker{
		queue:     cfg.Queue,
		meta:      cfg.Meta,
		loader:    cfg.Loader,
		comparer:  cfg.Comparer,
		formatter: &format.MarkdownFormatter{},
		out:       out,
	}, nil
}

// Run consumes messages until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	logctx.FromContext(ctx).Info().Msg("worker started")
	err := w.queue.Subscribe(ctx, w.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("subscription stopped: %w", err)
	}
	logctx.FromContext(ctx).Info().Msg("worker stopped")
	return nil
}

// Handle processes a single message. Corrupt reports are logged and
// acknowledged since retrying cannot fix them.
func (w *Worker) Handle(ctx context.Context, msg *queue.ReportUploaded) error {
	ctx = logctx.WithLogger(ctx, logctx.FromContext(ctx).With().
		Str("repo", msg.Service+"/"+msg.Owner+"/"+msg.Repo).
		Str("commit", msg.Commit).
		Str("report_id", msg.ReportID).
		Logger())
	logger := logctx.FromContext(ctx)

	repo, err := w.meta.GetRepository(ctx, msg.Service, msg.Owner, msg.Repo)
	if err != nil {
		return fmt.Errorf("failed to get repository: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrUnknownRepository, msg.Service, msg.Owner, msg.Repo)
	}

	r, err := w.loader.LoadByID(ctx, repo, msg.ReportID)
	if err != nil {
		if report.IsCorrupt(err) {
			logger.Warn().Err(err).Msg("uploaded report is corrupt")
			return nil
		}
		return fmt.Errorf("failed to load report: %w", err)
	}
	if r == nil {
		return fmt.Errorf("%w: %s", ErrReportNotFound, msg.ReportID)
	}
	logger.Info().Int("bundles", r.Len()).Msg("validated uploaded report")

	if msg.BaseCommit == "" {
		return nil
	}

	out, err := w.comparer.CompareCommits(ctx, repo, msg.BaseCommit, msg.Commit)
	if err != nil {
		return fmt.Errorf("failed to compare against %s: %w", msg.BaseCommit, err)
	}

	event := logger.Info().Str("base_commit", msg.BaseCommit)
	if out.Unavailable != nil {
		event.Str("reason", string(out.Unavailable.Reason)).Msg("bundle comparison unavailable")
	} else {
		event.Int64("size_delta", out.Comparison.SizeDelta).
			Int64("size_total", out.Comparison.SizeTotal).
			Dur("load_time_delta", out.Comparison.LoadTimeDelta).
			Msg("bundle comparison")
	}

	return w.write(&out)
}

func (w *Worker) write(out *bundle.Outcome) error {
	var buf bytes.Buffer
	if err := w.formatter.Format(out, &buf); err != nil {
		return fmt.Errorf("failed to format comparison: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write comparison: %w", err)
	}
	return nil
}
