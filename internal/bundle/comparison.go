package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metrics"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

// BundleComparison is a BundleChange with its estimated load times.
type BundleComparison struct {
	BundleChange
	LoadTimeDelta time.Duration `json:"load_time_delta"`
	LoadTimeTotal time.Duration `json:"load_time_total"`
}

// Comparison is the result of comparing a base report with a head report.
type Comparison struct {
	// BundleChanges is ordered by bundle name.
	BundleChanges []BundleComparison `json:"bundle_changes"`
	SizeDelta     int64              `json:"size_delta"`
	SizeTotal     int64              `json:"size_total"`
	LoadTimeDelta time.Duration      `json:"load_time_delta"`
	LoadTimeTotal time.Duration      `json:"load_time_total"`
}

// Change returns the entry for the named bundle.
func (c *Comparison) Change(name string) (BundleComparison, bool) {
	for _, bc := range c.BundleChanges {
		if bc.BundleName == name {
			return bc, true
		}
	}
	return BundleComparison{}, false
}

// UnavailableReason explains why no comparison could be produced.
type UnavailableReason string

const (
	ReasonNoBaseReport  UnavailableReason = "no_base_report"
	ReasonNoHeadReport  UnavailableReason = "no_head_report"
	ReasonCorruptReport UnavailableReason = "corrupt_report"
)

// Side identifies one of the two compared reports.
type Side string

const (
	SideBase Side = "base"
	SideHead Side = "head"
)

// Unavailable describes a comparison that could not be produced.
type Unavailable struct {
	Reason UnavailableReason `json:"reason"`
	Side   Side              `json:"side"`
	// Err holds the corruption error for ReasonCorruptReport.
	Err error `json:"-"`
}

// Message returns a user-facing explanation.
func (u *Unavailable) Message() string {
	switch u.Reason {
	case ReasonNoBaseReport:
		return "No bundle analysis report found for the base commit."
	case ReasonNoHeadReport:
		return "No bundle analysis report found for the head commit."
	case ReasonCorruptReport:
		return fmt.Sprintf("The bundle analysis report for the %s commit could not be read.", u.Side)
	default:
		return string(u.Reason)
	}
}

// Outcome holds exactly one of Comparison or Unavailable.
type Outcome struct {
	Comparison  *Comparison
	Unavailable *Unavailable
}

// Compare builds the comparison of two opened reports. It is a pure function
// of its inputs.
func Compare(base, head *report.Report, est *Estimator) *Comparison {
	changes := Classify(base.Bundles(), head.Bundles())

	c := &Comparison{BundleChanges: make([]BundleComparison, 0, len(changes))}
	for _, change := range changes {
		bc := BundleComparison{
			BundleChange:  change,
			LoadTimeDelta: est.Estimate(change.SizeDelta),
			LoadTimeTotal: est.Estimate(change.SizeTotal),
		}
		c.BundleChanges = append(c.BundleChanges, bc)

		c.SizeDelta += bc.SizeDelta
		c.SizeTotal += bc.SizeTotal
		c.LoadTimeDelta += bc.LoadTimeDelta
		c.LoadTimeTotal += bc.LoadTimeTotal
	}
	return c
}

// Comparer loads two reports and compares them.
type Comparer struct {
	loader    *Loader
	estimator *Estimator
	metrics   *metrics.Metrics
}

// NewComparer creates a Comparer. A nil m disables metrics.
func NewComparer(loader *Loader, estimator *Estimator, m *metrics.Metrics) (*Comparer, error) {
	if loader == nil {
		return nil, errors.New("loader is required")
	}
	if estimator == nil {
		return nil, errors.New("estimator is required")
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Comparer{loader: loader, estimator: estimator, metrics: m}, nil
}

// CompareCommits compares the bundle reports of two commits of repo.
//
// Missing or corrupt reports produce an Outcome with Unavailable set. The
// returned error is reserved for infrastructure failures and cancellation.
func (c *Comparer) CompareCommits(ctx context.Context, repo *metadata.Repository, baseCommit, headCommit string) (Outcome, error) {
	return c.compare(ctx,
		func(ctx context.Context) (*report.Report, error) { return c.loader.Load(ctx, repo, baseCommit) },
		func(ctx context.Context) (*report.Report, error) { return c.loader.Load(ctx, repo, headCommit) },
	)
}

// CompareReports compares two reports of repo identified by external id.
func (c *Comparer) CompareReports(ctx context.Context, repo *metadata.Repository, baseReportID, headReportID string) (Outcome, error) {
	return c.compare(ctx,
		func(ctx context.Context) (*report.Report, error) { return c.loader.LoadByID(ctx, repo, baseReportID) },
		func(ctx context.Context) (*report.Report, error) { return c.loader.LoadByID(ctx, repo, headReportID) },
	)
}

type loadFunc func(ctx context.Context) (*report.Report, error)

type loadResult struct {
	report  *report.Report
	corrupt error
}

func (c *Comparer) compare(ctx context.Context, loadBase, loadHead loadFunc) (Outcome, error) {
	var base, head loadResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return load(gctx, loadBase, &base) })
	g.Go(func() error { return load(gctx, loadHead, &head) })
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		return Outcome{}, err
	}

	if u := unavailable(base, head); u != nil {
		c.metrics.Comparisons.WithLabelValues(string(u.Reason)).Inc()
		logctx.FromContext(ctx).Info().
			Str("reason", string(u.Reason)).
			Str("side", string(u.Side)).
			Msg("bundle comparison unavailable")
		return Outcome{Unavailable: u}, nil
	}

	comparison := Compare(base.report, head.report, c.estimator)
	c.metrics.Comparisons.WithLabelValues("ok").Inc()
	logctx.FromContext(ctx).Debug().
		Int("bundles", len(comparison.BundleChanges)).
		Int64("size_delta", comparison.SizeDelta).
		Msg("bundle comparison complete")
	return Outcome{Comparison: comparison}, nil
}

// load runs fn and records its result. Corruption is kept as a value so it
// does not cancel the other side.
func load(ctx context.Context, fn loadFunc, dst *loadResult) error {
	r, err := fn(ctx)
	if err != nil {
		if report.IsCorrupt(err) {
			dst.corrupt = err
			return nil
		}
		return err
	}
	dst.report = r
	return nil
}

// unavailable reports why base and head cannot be compared. Corruption is
// checked before absence, base before head.
func unavailable(base, head loadResult) *Unavailable {
	switch {
	case base.corrupt != nil:
		return &Unavailable{Reason: ReasonCorruptReport, Side: SideBase, Err: base.corrupt}
	case head.corrupt != nil:
		return &Unavailable{Reason: ReasonCorruptReport, Side: SideHead, Err: head.corrupt}
	case base.report == nil:
		return &Unavailable{Reason: ReasonNoBaseReport, Side: SideBase}
	case head.report == nil:
		return &Unavailable{Reason: ReasonNoHeadReport, Side: SideHead}
	default:
		return nil
	}
}
