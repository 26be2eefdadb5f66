// Package local compares two report files on disk without any storage or
// metadata backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/format"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

// Config holds configuration for local mode.
type Config struct {
	// BasePath and HeadPath are report files (SQLite, optionally zstd).
	BasePath string
	HeadPath string
	// Format is the output format (Text, Markdown, JSON)
	Format string
	// Throughput is the assumed bytes per second; defaults to
	// bundle.DefaultThroughput.
	Throughput int64
}

// Runner handles local report comparison.
type Runner struct {
	config Config
	fs     afero.Fs
	out    io.Writer
}

// Option is a functional option for configuring Runner.
type Option func(*Runner)

// WithFs sets the filesystem reports are read from.
func WithFs(fs afero.Fs) Option {
	return func(r *Runner) {
		r.fs = fs
	}
}

// WithOutput sets where results are written.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// NewRunner creates a new Runner with the given configuration.
func NewRunner(config Config, opts ...Option) *Runner {
	r := &Runner{
		config: config,
		fs:     afero.NewOsFs(),
		out:    os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run compares the two report files and writes the formatted outcome.
// Missing or corrupt files produce an unavailable outcome, not an error.
func (r *Runner) Run(ctx context.Context) error {
	formatter, err := format.New(r.config.Format)
	if err != nil {
		return fmt.Errorf("failed to create formatter: %w", err)
	}

	throughput := r.config.Throughput
	if throughput == 0 {
		throughput = bundle.DefaultThroughput
	}
	est, err := bundle.NewEstimator(throughput)
	if err != nil {
		return err
	}

	out, err := r.compare(ctx, est)
	if err != nil {
		return err
	}

	if err := formatter.Format(out, r.out); err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	return nil
}

func (r *Runner) compare(ctx context.Context, est *bundle.Estimator) (*bundle.Outcome, error) {
	base, err := r.open(ctx, r.config.BasePath)
	if err != nil && !report.IsCorrupt(err) {
		return nil, err
	}
	if err != nil {
		return &bundle.Outcome{Unavailable: &bundle.Unavailable{Reason: bundle.ReasonCorruptReport, Side: bundle.SideBase, Err: err}}, nil
	}

	head, err := r.open(ctx, r.config.HeadPath)
	if err != nil && !report.IsCorrupt(err) {
		return nil, err
	}
	if err != nil {
		return &bundle.Outcome{Unavailable: &bundle.Unavailable{Reason: bundle.ReasonCorruptReport, Side: bundle.SideHead, Err: err}}, nil
	}

	switch {
	case base == nil:
		return &bundle.Outcome{Unavailable: &bundle.Unavailable{Reason: bundle.ReasonNoBaseReport, Side: bundle.SideBase}}, nil
	case head == nil:
		return &bundle.Outcome{Unavailable: &bundle.Unavailable{Reason: bundle.ReasonNoHeadReport, Side: bundle.SideHead}}, nil
	}

	return &bundle.Outcome{Comparison: bundle.Compare(base, head, est)}, nil
}

// open reads and opens the report at path. A missing file yields nil, nil.
func (r *Runner) open(ctx context.Context, path string) (*report.Report, error) {
	if path == "" {
		return nil, errors.New("report path is required")
	}

	info, err := r.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access report %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("report path is a directory: %s", path)
	}

	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	return report.Open(ctx, data)
}
