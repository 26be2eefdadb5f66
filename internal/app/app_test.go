package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                  8080,
		RepoKeySecret:         "secret",
		ThroughputBytesPerSec: 40000,
		ReportCacheSize:       4,
		Storage: config.StorageConfig{
			Type:      config.StorageTypeLocal,
			LocalPath: t.TempDir(),
		},
		Metadata: config.MetadataConfig{Type: config.MetadataTypeMemory},
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := New(ctx, nil, nil)
		assert.EqualError(t, err, "config is required")
	})

	t.Run("invalid storage", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Type = "ftp"
		_, err := New(ctx, cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open storage")
	})

	t.Run("invalid throughput", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ThroughputBytesPerSec = 0
		_, err := New(ctx, cfg, nil)
		require.Error(t, err)
	})

	t.Run("registers collectors", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		a, err := New(ctx, testConfig(t), reg)
		require.NoError(t, err)
		defer a.Close()

		a.Metrics.Uploads.WithLabelValues("ok").Inc()
		families, err := reg.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})
}

func TestApp_UploadAndCompare(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	u, err := a.NewUploader(nil)
	require.NoError(t, err)

	upload := func(commit string, size int64) {
		data, err := report.Encode([]report.BundleInput{
			{Name: "app", Assets: []report.AssetInput{{Name: "app.js", Size: size}}},
		})
		require.NoError(t, err)
		_, err = u.Upload(ctx, bundle.UploadRequest{
			Service: "github", Owner: "acme", Repo: "web", Commit: commit, Data: data,
		})
		require.NoError(t, err)
	}
	upload("base", 100000)
	upload("head", 140000)

	repo, err := a.Meta.GetRepository(ctx, "github", "acme", "web")
	require.NoError(t, err)
	require.NotNil(t, repo)

	out, err := a.Comparer.CompareCommits(ctx, repo, "base", "head")
	require.NoError(t, err)
	require.NotNil(t, out.Comparison)
	assert.Equal(t, int64(40000), out.Comparison.SizeDelta)
	assert.Equal(t, int64(1000000000), out.Comparison.LoadTimeDelta.Nanoseconds())
}
