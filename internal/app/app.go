// Package app wires the stores, loader and comparer shared by the
// bundlediff binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metrics"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/storage"
)

// App holds the components built from a Config.
type App struct {
	Config    *config.Config
	Meta      metadata.Store
	Blobs     storage.Store
	Metrics   *metrics.Metrics
	Estimator *bundle.Estimator
	Loader    *bundle.Loader
	Comparer  *bundle.Comparer
}

// New opens the configured stores and builds the loader and comparer.
// Collectors are registered with reg when it is not nil.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	meta, err := metadata.New(ctx, cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a, err := build(cfg, meta, blobs, metrics.New(reg))
	if err != nil {
		blobs.Close()
		meta.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, meta metadata.Store, blobs storage.Store, m *metrics.Metrics) (*App, error) {
	est, err := bundle.NewEstimator(cfg.ThroughputBytesPerSec)
	if err != nil {
		return nil, err
	}

	loader, err := bundle.NewLoader(meta, blobs, cfg.ReportCacheSize, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	comparer, err := bundle.NewComparer(loader, est, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create comparer: %w", err)
	}

	return &App{
		Config:    cfg,
		Meta:      meta,
		Blobs:     blobs,
		Metrics:   m,
		Estimator: est,
		Loader:    loader,
		Comparer:  comparer,
	}, nil
}

// NewUploader creates an Uploader that announces uploads on pub.
// pub may be nil.
func (a *App) NewUploader(pub bundle.Publisher) (*bundle.Uploader, error) {
	return bundle.NewUploader(a.Meta, a.Blobs, bundle.UploaderConfig{
		RepoKeySecret: a.Config.RepoKeySecret,
		Compress:      a.Config.CompressUploads,
		Publisher:     pub,
		Metrics:       a.Metrics,
	})
}

// Close releases the stores.
func (a *App) Close() error {
	return errors.Join(a.Blobs.Close(), a.Meta.Close())
}
