package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/keys"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metrics"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

func TestNewLoader(t *testing.T) {
	f := newFixture(t)

	_, err := NewLoader(nil, f.blobs, 1, nil)
	assert.EqualError(t, err, "metadata store is required")

	_, err = NewLoader(f.meta, nil, 1, nil)
	assert.EqualError(t, err, "blob store is required")

	l, err := NewLoader(f.meta, f.blobs, 0, nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("loads the report of a commit", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 100, "vendor": 50})

		r, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, []report.BundleAggregate{
			{Name: "app", Size: 100, AssetCount: 1},
			{Name: "vendor", Size: 50, AssetCount: 1},
		}, r.Bundles())
	})

	t.Run("no record is absent", func(t *testing.T) {
		f := newFixture(t)

		r, err := f.loader(t, 4).Load(ctx, f.repo, "missing")
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.Zero(t, f.blobs.gets.Load())
	})

	t.Run("record without blob is absent", func(t *testing.T) {
		f := newFixture(t)
		f.record(t, f.repo, "c1")

		r, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("corrupt blob is reported as corrupt", func(t *testing.T) {
		f := newFixture(t)
		f.addRaw(t, f.repo, "c1", corruptData)

		r, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.Error(t, err)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, report.ErrCorrupt)
	})

	t.Run("latest record for a commit wins", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"old": 1})
		f.addReport(t, f.repo, "c1", map[string]int64{"new": 2})

		r, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		require.NotNil(t, r)
		_, ok := r.Bundle("new")
		assert.True(t, ok)
	})

	t.Run("records of other repositories are not visible", func(t *testing.T) {
		f := newFixture(t)
		other := f.ensureRepo(t, "api")
		f.addReport(t, other, "c1", map[string]int64{"app": 1})

		r, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		assert.Nil(t, r)
	})
}

func TestLoader_LoadByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := f.ensureRepo(t, "api")

	id := f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})
	otherID := f.addReport(t, other, "c1", map[string]int64{"app": 2})
	l := f.loader(t, 4)

	r, err := l.LoadByID(ctx, f.repo, id)
	require.NoError(t, err)
	require.NotNil(t, r)

	r, err = l.LoadByID(ctx, f.repo, otherID)
	require.NoError(t, err)
	assert.Nil(t, r, "report of another repository must not load")

	r, err = l.LoadByID(ctx, f.repo, "unknown")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestLoader_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("second load is served from cache", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		l, err := NewLoader(f.meta, f.blobs, 4, m)
		require.NoError(t, err)

		first, err := l.Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		second, err := l.Load(ctx, f.repo, "c1")
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int64(1), f.blobs.gets.Load())
		assert.Equal(t, 1.0, promtest.ToFloat64(m.ReportLoads.WithLabelValues(metrics.LoadLoaded)))
		assert.Equal(t, 1.0, promtest.ToFloat64(m.ReportLoads.WithLabelValues(metrics.LoadCacheHit)))
	})

	t.Run("corrupt results are not cached", func(t *testing.T) {
		f := newFixture(t)
		f.addRaw(t, f.repo, "c1", corruptData)
		l := f.loader(t, 4)

		for i := 0; i < 2; i++ {
			_, err := l.Load(ctx, f.repo, "c1")
			require.ErrorIs(t, err, report.ErrCorrupt)
		}
		assert.Equal(t, int64(2), f.blobs.gets.Load())
	})

	t.Run("missing blobs are not cached", func(t *testing.T) {
		f := newFixture(t)
		rec := f.record(t, f.repo, "c1")
		l := f.loader(t, 4)

		r, err := l.Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		assert.Nil(t, r)

		require.NoError(t, f.blobs.Store.Put(ctx, keyOf(f.repo, rec), encodeSizes(t, map[string]int64{"app": 1})))

		r, err = l.Load(ctx, f.repo, "c1")
		require.NoError(t, err)
		assert.NotNil(t, r)
	})

	t.Run("least recently used report is evicted", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "a", map[string]int64{"app": 1})
		f.addReport(t, f.repo, "b", map[string]int64{"app": 2})
		l := f.loader(t, 1)

		for _, commit := range []string{"a", "b", "a"} {
			_, err := l.Load(ctx, f.repo, commit)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(3), f.blobs.gets.Load())
	})
}

func TestLoader_ConcurrentLoadsShareFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})
	l := f.loader(t, 4)

	release := f.blobs.hold(1)

	const callers = 8
	results := make([]*report.Report, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.Load(ctx, f.repo, "c1")
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	require.Eventually(t, func() bool { return f.blobs.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int64(1), f.blobs.gets.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Same(t, results[0], r)
	}
}

func TestLoader_Cancellation(t *testing.T) {
	t.Run("cancelled caller stops waiting", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})
		l := f.loader(t, 4)

		release := f.blobs.hold(1)
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := l.Load(ctx, f.repo, "c1")
			errCh <- err
		}()

		require.Eventually(t, func() bool { return f.blobs.gets.Load() == 1 }, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("load did not return after cancellation")
		}
	})

	t.Run("already cancelled context", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.loader(t, 4).Load(ctx, f.repo, "c1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("waiter survives cancellation of the fetching caller", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 1})
		l := f.loader(t, 4)

		// Only the first Get blocks; a re-joined fetch proceeds.
		release := f.blobs.hold(1)
		defer release()

		leaderCtx, cancelLeader := context.WithCancel(context.Background())
		leaderErr := make(chan error, 1)
		go func() {
			_, err := l.Load(leaderCtx, f.repo, "c1")
			leaderErr <- err
		}()
		require.Eventually(t, func() bool { return f.blobs.gets.Load() == 1 }, time.Second, time.Millisecond)

		type result struct {
			r   *report.Report
			err error
		}
		waiter := make(chan result, 1)
		go func() {
			r, err := l.Load(context.Background(), f.repo, "c1")
			waiter <- result{r, err}
		}()

		time.Sleep(20 * time.Millisecond)
		cancelLeader()

		assert.ErrorIs(t, <-leaderErr, context.Canceled)

		select {
		case res := <-waiter:
			require.NoError(t, res.err)
			assert.NotNil(t, res.r)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not complete")
		}
	})
}

func keyOf(repo *metadata.Repository, rec *metadata.ReportRecord) string {
	return keys.BundleReportPath(repo.Key, rec.ExternalID)
}
