package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/keys"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metrics"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/queue"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/storage"
)

// Publisher announces uploaded reports.
type Publisher interface {
	Publish(ctx context.Context, msg *queue.ReportUploaded) error
}

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	// RepoKeySecret is mixed into the storage key of new repositories.
	RepoKeySecret string
	// Compress stores blobs zstd-compressed.
	Compress bool
	// Publisher is optional.
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// UploadRequest is a report to ingest for one commit.
type UploadRequest struct {
	Service string
	Owner   string
	Repo    string
	Commit  string
	// BaseCommit is forwarded to consumers that compare on upload.
	BaseCommit string
	Data       []byte
}

// UploadResult describes a stored report.
type UploadResult struct {
	Repository *metadata.Repository
	Record     *metadata.ReportRecord
	Key        string
	Bundles    int
}

// Uploader validates, stores and records new reports.
type Uploader struct {
	meta      metadata.Store
	blobs     storage.Store
	secret    string
	compress  bool
	publisher Publisher
	metrics   *metrics.Metrics
	newID     func() string
	now       func() time.Time
}

// NewUploader creates an Uploader.
func NewUploader(meta metadata.Store, blobs storage.Store, cfg UploaderConfig) (*Uploader, error) {
	if meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.RepoKeySecret == "" {
		return nil, errors.New("repository key secret is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}

	return &Uploader{
		meta:      meta,
		blobs:     blobs,
		secret:    cfg.RepoKeySecret,
		compress:  cfg.Compress,
		publisher: cfg.Publisher,
		metrics:   m,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Upload stores req.Data as the bundle report of req.Commit.
//
// Reports that cannot be opened are rejected with an error matching
// report.ErrCorrupt and nothing is persisted. The blob is written before
// the record so a record never points at a blob that was not attempted.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Service == "" || req.Owner == "" || req.Repo == "" {
		return nil, errors.New("repository service, owner and name are required")
	}
	if req.Commit == "" {
		return nil, errors.New("commit is required")
	}

	r, err := report.Open(ctx, req.Data)
	if err != nil {
		if report.IsCorrupt(err) {
			u.metrics.Uploads.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("rejected upload for %s: %w", req.Commit, err)
		}
		return nil, err
	}

	repo, err := u.meta.EnsureRepository(ctx, &metadata.Repository{
		Service: req.Service,
		Owner:   req.Owner,
		Name:    req.Repo,
		Key:     keys.RepositoryKey(u.secret, req.Service, req.Owner, req.Repo),
	})
	if err != nil {
		u.metrics.Uploads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to ensure repository: %w", err)
	}

	rec := &metadata.ReportRecord{
		ExternalID:   u.newID(),
		RepositoryID: repo.ID,
		Commit:       req.Commit,
		Kind:         metadata.BundleAnalysis,
		CreatedAt:    u.now().UTC(),
	}
	key := keys.BundleReportPath(repo.Key, rec.ExternalID)

	logger := logctx.FromContext(ctx).With().
		Str("repo", repo.Slug()).
		Str("commit", req.Commit).
		Str("report_id", rec.ExternalID).
		Logger()

	blob := req.Data
	if u.compress {
		blob, err = compress(req.Data)
		if err != nil {
			return nil, err
		}
	}

	if err := u.blobs.Put(ctx, key, blob); err != nil {
		u.metrics.Uploads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	if err := u.meta.SaveReportRecord(ctx, rec); err != nil {
		u.metrics.Uploads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save report record: %w", err)
	}

	u.metrics.Uploads.WithLabelValues("ok").Inc()
	logger.Info().
		Int("bundles", r.Len()).
		Int("bytes", len(req.Data)).
		Int("stored_bytes", len(blob)).
		Msg("bundle report uploaded")

	if u.publisher != nil {
		msg := &queue.ReportUploaded{
			Service:    req.Service,
			Owner:      req.Owner,
			Repo:       req.Repo,
			Commit:     req.Commit,
			ReportID:   rec.ExternalID,
			BaseCommit: req.BaseCommit,
		}
		// The report is stored; a failed notification must not fail the upload.
		if err := u.publisher.Publish(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("failed to publish report upload")
		}
	}

	return &UploadResult{
		Repository: repo,
		Record:     rec,
		Key:        key,
		Bundles:    r.Len(),
	}, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd encoder: %w", err)
	}
	return out, nil
}
