// Package metadata records repositories, the reports uploaded for their
// commits and the pulls that pair a base commit with a head commit.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
)

// ReportKind names the type of report a record points at.
type ReportKind string

// BundleAnalysis is the only report kind stored by this service.
const BundleAnalysis ReportKind = "bundle_analysis"

// Repository is a tracked source repository.
type Repository struct {
	ID      int64
	Service string
	Owner   string
	Name    string
	// Key namespaces the repository's objects in blob storage.
	// It is assigned when the repository is first created and never changes.
	Key string
}

// Slug returns service/owner/name.
func (r *Repository) Slug() string {
	return r.Service + "/" + r.Owner + "/" + r.Name
}

// ReportRecord points a commit at an uploaded report blob.
type ReportRecord struct {
	ExternalID   string
	RepositoryID int64
	Commit       string
	Kind         ReportKind
	CreatedAt    time.Time
}

// Pull pairs the base and head commits of a pull request.
type Pull struct {
	RepositoryID int64
	PullID       int64
	BaseCommit   string
	HeadCommit   string
}

// Store is the metadata store.
//
// Lookups follow the storage convention: they return nil, nil when nothing
// matches and reserve errors for failures of the store itself.
type Store interface {
	// EnsureRepository creates repo if no repository with the same
	// service/owner/name exists and returns the stored repository. An
	// existing repository keeps its ID and Key.
	EnsureRepository(ctx context.Context, repo *Repository) (*Repository, error)

	// GetRepository returns the repository or nil if it is unknown.
	GetRepository(ctx context.Context, service, owner, name string) (*Repository, error)

	// SaveReportRecord stores a new record. ExternalID must be unique.
	SaveReportRecord(ctx context.Context, rec *ReportRecord) error

	// FindReportRecord returns the most recently created record of kind for
	// the commit, or nil if there is none.
	FindReportRecord(ctx context.Context, repositoryID int64, commit string, kind ReportKind) (*ReportRecord, error)

	// GetReportRecord returns the record with the given external id, or nil.
	GetReportRecord(ctx context.Context, externalID string) (*ReportRecord, error)

	// SavePull creates or replaces a pull.
	SavePull(ctx context.Context, pull *Pull) error

	// GetPull returns the pull or nil if it is unknown.
	GetPull(ctx context.Context, repositoryID, pullID int64) (*Pull, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrDuplicateReport is returned when a record with the same external id exists.
var ErrDuplicateReport = errors.New("report record already exists")

// New creates the Store selected by the metadata configuration.
func New(ctx context.Context, cfg config.MetadataConfig) (Store, error) {
	switch cfg.Type {
	case config.MetadataTypeSQLite:
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MetadataTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("invalid metadata type: %s", cfg.Type)
	}
}

func validateRepository(repo *Repository) error {
	if repo == nil {
		return errors.New("repository is required")
	}
	if repo.Service == "" || repo.Owner == "" || repo.Name == "" {
		return errors.New("repository service, owner and name are required")
	}
	if repo.Key == "" {
		return errors.New("repository key is required")
	}
	return nil
}

func validateReportRecord(rec *ReportRecord) error {
	if rec == nil {
		return errors.New("report record is required")
	}
	if rec.ExternalID == "" {
		return errors.New("external id is required")
	}
	if rec.Commit == "" {
		return errors.New("commit is required")
	}
	if rec.Kind == "" {
		return errors.New("report kind is required")
	}
	return nil
}

func validatePull(pull *Pull) error {
	if pull == nil {
		return errors.New("pull is required")
	}
	if pull.BaseCommit == "" || pull.HeadCommit == "" {
		return errors.New("base and head commits are required")
	}
	return nil
}
