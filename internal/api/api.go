// Package api exposes report upload and comparison over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/format"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/resolver"
)

// DefaultMaxUploadBytes limits the size of an uploaded report body.
const DefaultMaxUploadBytes = 64 << 20

const repoPath = "/api/v1/repos/{service}/{owner}/{repo}"

// Config holds the dependencies of a Handler.
type Config struct {
	Meta           metadata.Store
	Uploader       *bundle.Uploader
	Comparer       *bundle.Comparer
	MaxUploadBytes int64
}

// Handler serves the bundle analysis API.
type Handler struct {
	meta      metadata.Store
	uploader  *bundle.Uploader
	comparer  *bundle.Comparer
	maxUpload int64
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Meta == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg.Uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if cfg.Comparer == nil {
		return nil, errors.New("comparer is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		meta:      cfg.Meta,
		uploader:  cfg.Uploader,
		comparer:  cfg.Comparer,
		maxUpload: cfg.MaxUploadBytes,
	}, nil
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+repoPath+"/commits/{commit}/bundle-analysis", h.upload)
	mux.HandleFunc("GET "+repoPath+"/bundle-analysis/compare", h.compare)
	mux.HandleFunc("PUT "+repoPath+"/pulls/{pullid}", h.savePull)
}

// repoRef names a repository as it appears in a request path.
type repoRef struct {
	Service, Owner, Name string
}

func pathRepo(r *http.Request) repoRef {
	return repoRef{
		Service: r.PathValue("service"),
		Owner:   r.PathValue("owner"),
		Name:    r.PathValue("repo"),
	}
}

// pullRef names a pull of a repository.
type pullRef struct {
	Repo   repoRef
	PullID int64
}

// lookups memoizes the metadata reads of a single request. The pull lookup
// resolves its repository through the same memo.
type lookups struct {
	repos *resolver.Memo[repoRef, *metadata.Repository]
	pulls *resolver.Memo[pullRef, *metadata.Pull]
}

func (h *Handler) newLookups() *lookups {
	l := &lookups{}
	l.repos = resolver.NewMemo(func(ctx context.Context, ref repoRef) (*metadata.Repository, error) {
		return h.meta.GetRepository(ctx, ref.Service, ref.Owner, ref.Name)
	})
	l.pulls = resolver.NewMemo(func(ctx context.Context, ref pullRef) (*metadata.Pull, error) {
		repo, err := l.repos.Get(ctx, ref.Repo)
		if err != nil || repo == nil {
			return nil, err
		}
		return h.meta.GetPull(ctx, repo.ID, ref.PullID)
	})
	return l
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	ReportID string `json:"report_id"`
	Commit   string `json:"commit"`
	Bundles  int    `json:"bundles"`
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := pathRepo(r)
	commit := r.PathValue("commit")

	if err := validateCommit(commit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("report exceeds %d bytes", h.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := h.uploader.Upload(ctx, bundle.UploadRequest{
		Service:    ref.Service,
		Owner:      ref.Owner,
		Repo:       ref.Name,
		Commit:     commit,
		BaseCommit: r.URL.Query().Get("base"),
		Data:       data,
	})
	if err != nil {
		if report.IsCorrupt(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(ctx, w, "upload failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		ReportID: res.Record.ExternalID,
		Commit:   res.Record.Commit,
		Bundles:  res.Bundles,
	})
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := pathRepo(r)

	query, err := ParseCompareQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l := h.newLookups()
	repo, err := l.repos.Get(ctx, ref)
	if err != nil {
		h.internalError(ctx, w, "repository lookup failed", err)
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}
	ctx = logctx.WithStr(ctx, "repo", repo.Slug())

	var out bundle.Outcome
	switch q := query.(type) {
	case ByCommits:
		out, err = h.comparer.CompareCommits(ctx, repo, q.Base, q.Head)
	case ByPull:
		pull, lookupErr := l.pulls.Get(ctx, pullRef{Repo: ref, PullID: q.PullID})
		if lookupErr != nil {
			h.internalError(ctx, w, "pull lookup failed", lookupErr)
			return
		}
		if pull == nil {
			writeError(w, http.StatusNotFound, "pull not found")
			return
		}
		out, err = h.comparer.CompareCommits(ctx, repo, pull.BaseCommit, pull.HeadCommit)
	case ByReports:
		out, err = h.comparer.CompareReports(ctx, repo, q.BaseReport, q.HeadReport)
	}
	if err != nil {
		h.internalError(ctx, w, "comparison failed", err)
		return
	}

	doc, err := format.NewDocument(&out)
	if err != nil {
		h.internalError(ctx, w, "failed to render comparison", err)
		return
	}

	status := http.StatusOK
	if out.Unavailable != nil {
		status = http.StatusNotFound
	}
	writeJSON(w, status, doc)
}

// PullRequest is the body of a pull registration.
type PullRequest struct {
	Base string `json:"base"`
	Head string `json:"head"`
}

func (h *Handler) savePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pullID, err := strconv.ParseInt(r.PathValue("pullid"), 10, 64)
	if err != nil || pullID <= 0 {
		writeError(w, http.StatusBadRequest, ErrInvalidPullID.Error())
		return
	}

	var body PullRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := (ByCommits{Base: body.Base, Head: body.Head}).Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := pathRepo(r)
	repo, err := h.meta.GetRepository(ctx, ref.Service, ref.Owner, ref.Name)
	if err != nil {
		h.internalError(ctx, w, "repository lookup failed", err)
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}

	if err := h.meta.SavePull(ctx, &metadata.Pull{
		RepositoryID: repo.ID,
		PullID:       pullID,
		BaseCommit:   body.Base,
		HeadCommit:   body.Head,
	}); err != nil {
		h.internalError(ctx, w, "failed to save pull", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if ctx.Err() != nil {
		// Client went away; nobody reads the response.
		return
	}
	logctx.FromContext(ctx).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
