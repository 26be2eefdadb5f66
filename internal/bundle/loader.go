package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/keys"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metrics"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/storage"
)

// DefaultCacheSize is the number of opened reports a Loader keeps.
const DefaultCacheSize = 64

// maxJoinAttempts bounds how often a caller re-joins a fetch after the
// goroutine running it was cancelled.
const maxJoinAttempts = 3

// Loader resolves commits to opened reports.
//
// Opened reports are cached by storage key. Concurrent loads of the same key
// share a single fetch and open. Only successfully opened reports are cached;
// absent and corrupt results are looked up again on the next call.
type Loader struct {
	meta    metadata.Store
	blobs   storage.Store
	cache   *lru.Cache[string, *report.Report]
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewLoader creates a Loader. A nil m disables metrics.
func NewLoader(meta metadata.Store, blobs storage.Store, cacheSize int, m *metrics.Metrics) (*Loader, error) {
	if meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if m == nil {
		m = metrics.Nop()
	}

	cache, err := lru.New[string, *report.Report](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create report cache: %w", err)
	}

	return &Loader{
		meta:    meta,
		blobs:   blobs,
		cache:   cache,
		metrics: m,
	}, nil
}

// Load returns the bundle report of commit in repo.
//
// It returns nil, nil when the commit has no bundle analysis record or the
// record's blob is missing from storage. A blob that cannot be opened yields
// an error matching report.ErrCorrupt.
func (l *Loader) Load(ctx context.Context, repo *metadata.Repository, commit string) (*report.Report, error) {
	rec, err := l.meta.FindReportRecord(ctx, repo.ID, commit, metadata.BundleAnalysis)
	if err != nil {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadError).Inc()
		return nil, fmt.Errorf("failed to find report record for %s: %w", commit, err)
	}
	if rec == nil {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadNoRecord).Inc()
		logctx.FromContext(ctx).Debug().Str("commit", commit).Msg("no bundle report recorded for commit")
		return nil, nil
	}

	return l.LoadRecord(ctx, repo, rec)
}

// LoadByID returns the report with the given external id. Like Load, a
// missing record or blob yields nil, nil. Records owned by another
// repository or of another kind count as missing.
func (l *Loader) LoadByID(ctx context.Context, repo *metadata.Repository, externalID string) (*report.Report, error) {
	rec, err := l.meta.GetReportRecord(ctx, externalID)
	if err != nil {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadError).Inc()
		return nil, fmt.Errorf("failed to get report record %s: %w", externalID, err)
	}
	if rec == nil || rec.RepositoryID != repo.ID || rec.Kind != metadata.BundleAnalysis {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadNoRecord).Inc()
		return nil, nil
	}

	return l.LoadRecord(ctx, repo, rec)
}

// LoadRecord fetches and opens the blob that rec points at.
func (l *Loader) LoadRecord(ctx context.Context, repo *metadata.Repository, rec *metadata.ReportRecord) (*report.Report, error) {
	key := keys.BundleReportPath(repo.Key, rec.ExternalID)

	if r, ok := l.cache.Get(key); ok {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadCacheHit).Inc()
		return r, nil
	}

	for attempt := 1; ; attempt++ {
		ch := l.group.DoChan(key, func() (any, error) {
			return l.fetch(ctx, key)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			// The goroutine that ran the fetch was cancelled but this
			// caller was not: join a fresh fetch instead of failing.
			if res.Err != nil && res.Shared && ctx.Err() == nil && isContextError(res.Err) && attempt < maxJoinAttempts {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			r, _ := res.Val.(*report.Report)
			return r, nil
		}
	}
}

// fetch downloads and opens the blob stored at key, caching the result.
func (l *Loader) fetch(ctx context.Context, key string) (*report.Report, error) {
	logger := logctx.FromContext(ctx).With().Str("key", key).Logger()

	// Another caller may have populated the cache between our lookup and
	// winning the singleflight slot.
	if r, ok := l.cache.Get(key); ok {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadCacheHit).Inc()
		return r, nil
	}

	start := time.Now()
	data, err := l.blobs.Get(ctx, key)
	l.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadError).Inc()
		return nil, fmt.Errorf("failed to fetch report %s: %w", key, err)
	}
	if data == nil {
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadNoBlob).Inc()
		logger.Warn().Msg("bundle report record has no blob in storage")
		return nil, nil
	}

	r, err := report.Open(ctx, data)
	if err != nil {
		if report.IsCorrupt(err) {
			l.metrics.ReportLoads.WithLabelValues(metrics.LoadCorrupt).Inc()
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("corrupt bundle report")
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.metrics.ReportLoads.WithLabelValues(metrics.LoadError).Inc()
		return nil, fmt.Errorf("failed to open report %s: %w", key, err)
	}

	l.cache.Add(key, r)
	l.metrics.ReportLoads.WithLabelValues(metrics.LoadLoaded).Inc()
	logger.Debug().Int("bundles", r.Len()).Int("bytes", len(data)).Msg("loaded bundle report")
	return r, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
