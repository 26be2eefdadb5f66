package bundle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

func TestCompare(t *testing.T) {
	slow, err := NewEstimator(40000)
	require.NoError(t, err)

	t.Run("modified and added bundles", func(t *testing.T) {
		base := openSizes(t, map[string]int64{"app": 100000})
		head := openSizes(t, map[string]int64{"app": 120000, "vendor": 50000})

		c := Compare(base, head, slow)

		assert.Equal(t, int64(70000), c.SizeDelta)
		assert.Equal(t, int64(170000), c.SizeTotal)
		assert.Equal(t, 1750*time.Millisecond, c.LoadTimeDelta)
		assert.Equal(t, 4250*time.Millisecond, c.LoadTimeTotal)

		require.Len(t, c.BundleChanges, 2)
		app, ok := c.Change("app")
		require.True(t, ok)
		assert.Equal(t, ChangeModified, app.ChangeType)
		assert.Equal(t, int64(20000), app.SizeDelta)
		assert.Equal(t, 500*time.Millisecond, app.LoadTimeDelta)
		assert.Equal(t, 3*time.Second, app.LoadTimeTotal)

		vendor, ok := c.Change("vendor")
		require.True(t, ok)
		assert.Equal(t, ChangeAdded, vendor.ChangeType)
		assert.Equal(t, int64(50000), vendor.SizeTotal)
	})

	t.Run("removed and unchanged bundles", func(t *testing.T) {
		base := openSizes(t, map[string]int64{"A": 10, "B": 20})
		head := openSizes(t, map[string]int64{"B": 20})

		c := Compare(base, head, slow)

		assert.Equal(t, int64(-10), c.SizeDelta)
		a, _ := c.Change("A")
		assert.Equal(t, ChangeRemoved, a.ChangeType)
		assert.Equal(t, int64(-10), a.SizeDelta)
		b, _ := c.Change("B")
		assert.Equal(t, ChangeUnchanged, b.ChangeType)
		assert.Equal(t, time.Duration(0), b.LoadTimeDelta)
	})

	t.Run("one megabyte at 40kB/s takes 25s", func(t *testing.T) {
		base := openSizes(t, map[string]int64{"app": 0})
		head := openSizes(t, map[string]int64{"app": 1000000})

		c := Compare(base, head, slow)
		assert.Equal(t, 25*time.Second, c.LoadTimeDelta)
	})

	t.Run("totals equal the sum of entries", func(t *testing.T) {
		base := openSizes(t, map[string]int64{"a": 3, "b": 70001, "c": 9})
		head := openSizes(t, map[string]int64{"b": 12345, "c": 9, "d": 777})

		c := Compare(base, head, slow)

		var sizeDelta, sizeTotal int64
		var timeDelta, timeTotal time.Duration
		for _, bc := range c.BundleChanges {
			sizeDelta += bc.SizeDelta
			sizeTotal += bc.SizeTotal
			timeDelta += bc.LoadTimeDelta
			timeTotal += bc.LoadTimeTotal
		}
		assert.Equal(t, sizeDelta, c.SizeDelta)
		assert.Equal(t, sizeTotal, c.SizeTotal)
		assert.Equal(t, timeDelta, c.LoadTimeDelta)
		assert.Equal(t, timeTotal, c.LoadTimeTotal)
	})

	t.Run("comparing a report with itself", func(t *testing.T) {
		r := openSizes(t, map[string]int64{"app": 5, "vendor": 6})

		c := Compare(r, r, slow)
		assert.Zero(t, c.SizeDelta)
		assert.Equal(t, int64(11), c.SizeTotal)
		for _, bc := range c.BundleChanges {
			assert.Equal(t, ChangeUnchanged, bc.ChangeType)
		}
	})
}

func newTestComparer(t *testing.T, f *fixture) *Comparer {
	t.Helper()
	est, err := NewEstimator(40000)
	require.NoError(t, err)
	c, err := NewComparer(f.loader(t, 4), est, nil)
	require.NoError(t, err)
	return c
}

func TestNewComparer(t *testing.T) {
	f := newFixture(t)
	est, err := NewEstimator(DefaultThroughput)
	require.NoError(t, err)

	_, err = NewComparer(nil, est, nil)
	assert.EqualError(t, err, "loader is required")

	_, err = NewComparer(f.loader(t, 1), nil, nil)
	assert.EqualError(t, err, "estimator is required")
}

func TestComparer_CompareCommits(t *testing.T) {
	ctx := context.Background()

	t.Run("both reports present", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "base", map[string]int64{"app": 100000})
		f.addReport(t, f.repo, "head", map[string]int64{"app": 120000, "vendor": 50000})

		out, err := newTestComparer(t, f).CompareCommits(ctx, f.repo, "base", "head")
		require.NoError(t, err)
		require.Nil(t, out.Unavailable)
		require.NotNil(t, out.Comparison)
		assert.Equal(t, int64(70000), out.Comparison.SizeDelta)
		assert.Equal(t, int64(170000), out.Comparison.SizeTotal)
	})

	tests := []struct {
		name       string
		base       []byte
		head       []byte
		wantReason UnavailableReason
		wantSide   Side
	}{
		{name: "no base report", head: []byte("ok"), wantReason: ReasonNoBaseReport, wantSide: SideBase},
		{name: "no head report", base: []byte("ok"), wantReason: ReasonNoHeadReport, wantSide: SideHead},
		{name: "neither report", wantReason: ReasonNoBaseReport, wantSide: SideBase},
		{name: "corrupt base", base: corruptData, head: []byte("ok"), wantReason: ReasonCorruptReport, wantSide: SideBase},
		{name: "corrupt head", base: []byte("ok"), head: corruptData, wantReason: ReasonCorruptReport, wantSide: SideHead},
		{name: "corrupt base wins over corrupt head", base: corruptData, head: corruptData, wantReason: ReasonCorruptReport, wantSide: SideBase},
		{name: "corrupt head wins over missing base", head: corruptData, wantReason: ReasonCorruptReport, wantSide: SideHead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			valid := encodeSizes(t, map[string]int64{"app": 1})
			for commit, data := range map[string][]byte{"base": tt.base, "head": tt.head} {
				if data == nil {
					continue
				}
				if string(data) == "ok" {
					data = valid
				}
				f.addRaw(t, f.repo, commit, data)
			}

			out, err := newTestComparer(t, f).CompareCommits(ctx, f.repo, "base", "head")
			require.NoError(t, err)
			assert.Nil(t, out.Comparison)
			require.NotNil(t, out.Unavailable)
			assert.Equal(t, tt.wantReason, out.Unavailable.Reason)
			assert.Equal(t, tt.wantSide, out.Unavailable.Side)
			if tt.wantReason == ReasonCorruptReport {
				assert.ErrorIs(t, out.Unavailable.Err, report.ErrCorrupt)
			}
			assert.NotEmpty(t, out.Unavailable.Message())
		})
	}

	t.Run("missing blob is absent", func(t *testing.T) {
		f := newFixture(t)
		f.record(t, f.repo, "base")
		f.addReport(t, f.repo, "head", map[string]int64{"app": 1})

		out, err := newTestComparer(t, f).CompareCommits(ctx, f.repo, "base", "head")
		require.NoError(t, err)
		require.NotNil(t, out.Unavailable)
		assert.Equal(t, ReasonNoBaseReport, out.Unavailable.Reason)
	})

	t.Run("same commit on both sides", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "c1", map[string]int64{"app": 10})

		out, err := newTestComparer(t, f).CompareCommits(ctx, f.repo, "c1", "c1")
		require.NoError(t, err)
		require.NotNil(t, out.Comparison)
		assert.Zero(t, out.Comparison.SizeDelta)
		assert.Equal(t, int64(1), f.blobs.gets.Load())
	})

	t.Run("cancellation is an error, not an outcome", func(t *testing.T) {
		f := newFixture(t)
		f.addReport(t, f.repo, "base", map[string]int64{"app": 1})
		f.addReport(t, f.repo, "head", map[string]int64{"app": 2})

		release := f.blobs.hold(2)
		defer release()

		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := newTestComparer(t, f).CompareCommits(cctx, f.repo, "base", "head")
			errCh <- err
		}()

		require.Eventually(t, func() bool { return f.blobs.gets.Load() == 2 }, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			assert.True(t, errors.Is(err, context.Canceled))
		case <-time.After(time.Second):
			t.Fatal("comparison did not return after cancellation")
		}
	})
}

func TestComparer_CompareReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := f.ensureRepo(t, "api")

	baseID := f.addReport(t, f.repo, "base", map[string]int64{"app": 10})
	headID := f.addReport(t, f.repo, "head", map[string]int64{"app": 15})
	foreignID := f.addReport(t, other, "head", map[string]int64{"app": 20})

	c := newTestComparer(t, f)

	out, err := c.CompareReports(ctx, f.repo, baseID, headID)
	require.NoError(t, err)
	require.NotNil(t, out.Comparison)
	assert.Equal(t, int64(5), out.Comparison.SizeDelta)

	out, err = c.CompareReports(ctx, f.repo, baseID, foreignID)
	require.NoError(t, err)
	require.NotNil(t, out.Unavailable)
	assert.Equal(t, ReasonNoHeadReport, out.Unavailable.Reason)
}

func TestUnavailable_Message(t *testing.T) {
	tests := []struct {
		u    Unavailable
		want string
	}{
		{Unavailable{Reason: ReasonNoBaseReport, Side: SideBase}, "No bundle analysis report found for the base commit."},
		{Unavailable{Reason: ReasonNoHeadReport, Side: SideHead}, "No bundle analysis report found for the head commit."},
		{Unavailable{Reason: ReasonCorruptReport, Side: SideHead}, "The bundle analysis report for the head commit could not be read."},
	}
	for _, tt := range tests {
		t.Run(string(tt.u.Reason), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.u.Message())
		})
	}
}
