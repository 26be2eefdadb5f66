package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/bundle"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/format"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/storage"
)

// countingMeta counts the metadata reads made by the handler.
type countingMeta struct {
	metadata.Store
	repoLookups atomic.Int64
	pullLookups atomic.Int64
}

func (m *countingMeta) GetRepository(ctx context.Context, service, owner, name string) (*metadata.Repository, error) {
	m.repoLookups.Add(1)
	return m.Store.GetRepository(ctx, service, owner, name)
}

func (m *countingMeta) GetPull(ctx context.Context, repositoryID, pullID int64) (*metadata.Pull, error) {
	m.pullLookups.Add(1)
	return m.Store.GetPull(ctx, repositoryID, pullID)
}

type testAPI struct {
	mux     *http.ServeMux
	meta    *metadata.MemoryStore
	counted *countingMeta
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	meta := metadata.NewMemoryStore()
	blobs := storage.NewLocalStorage(afero.NewMemMapFs())

	uploader, err := bundle.NewUploader(meta, blobs, bundle.UploaderConfig{RepoKeySecret: "secret"})
	require.NoError(t, err)
	loader, err := bundle.NewLoader(meta, blobs, 8, nil)
	require.NoError(t, err)
	est, err := bundle.NewEstimator(40000)
	require.NoError(t, err)
	comparer, err := bundle.NewComparer(loader, est, nil)
	require.NoError(t, err)

	counted := &countingMeta{Store: meta}
	h, err := NewHandler(Config{Meta: counted, Uploader: uploader, Comparer: comparer, MaxUploadBytes: 1 << 20})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return &testAPI{mux: mux, meta: meta, counted: counted}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func reportBody(t *testing.T, sizes map[string]int64) []byte {
	t.Helper()
	var inputs []report.BundleInput
	for _, name := range []string{"app", "vendor", "A", "B"} {
		if size, ok := sizes[name]; ok {
			inputs = append(inputs, report.BundleInput{
				Name:   name,
				Assets: []report.AssetInput{{Name: name + ".js", Size: size}},
			})
		}
	}
	data, err := report.Encode(inputs)
	require.NoError(t, err)
	return data
}


func (a *testAPI) upload(t *testing.T, commit string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/v1/repos/github/acme/web/commits/"+commit+"/bundle-analysis", body)
}

func TestNewHandler(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.EqualError(t, err, "metadata store is required")

	_, err = NewHandler(Config{Meta: metadata.NewMemoryStore()})
	assert.EqualError(t, err, "uploader is required")
}

func TestUpload(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		a := newTestAPI(t)

		rec := a.upload(t, "c1", reportBody(t, map[string]int64{"app": 100}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ReportID)
		assert.Equal(t, "c1", resp.Commit)
		assert.Equal(t, 1, resp.Bundles)

		repo, err := a.meta.GetRepository(context.Background(), "github", "acme", "web")
		require.NoError(t, err)
		require.NotNil(t, repo)
	})

	t.Run("corrupt report", func(t *testing.T) {
		a := newTestAPI(t)

		rec := a.upload(t, "c1", []byte("garbage"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "error")
	})

	t.Run("too large", func(t *testing.T) {
		a := newTestAPI(t)

		rec := a.upload(t, "c1", make([]byte, 2<<20))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestCompare(t *testing.T) {
	comparePath := "/api/v1/repos/github/acme/web/bundle-analysis/compare"

	setup := func(t *testing.T) *testAPI {
		a := newTestAPI(t)
		require.Equal(t, http.StatusCreated, a.upload(t, "base", reportBody(t, map[string]int64{"app": 100000})).Code)
		require.Equal(t, http.StatusCreated, a.upload(t, "head", reportBody(t, map[string]int64{"app": 120000, "vendor": 50000})).Code)
		return a
	}

	t.Run("by commits", func(t *testing.T) {
		a := setup(t)

		rec := a.do(t, http.MethodGet, comparePath+"?base=base&head=head", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var doc format.Document
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, format.StatusOK, doc.Status)
		require.NotNil(t, doc.Comparison)
		assert.Equal(t, int64(70000), doc.Comparison.SizeDelta)
		assert.Equal(t, int64(170000), doc.Comparison.SizeTotal)
		assert.Len(t, doc.Comparison.BundleChanges, 2)
	})

	t.Run("by pull", func(t *testing.T) {
		a := setup(t)

		rec := a.do(t, http.MethodPut, "/api/v1/repos/github/acme/web/pulls/7", []byte(`{"base":"base","head":"head"}`))
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		before := a.counted.repoLookups.Load()
		rec = a.do(t, http.MethodGet, comparePath+"?pullid=7", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, int64(1), a.counted.repoLookups.Load()-before, "repository resolved once per request")
		assert.Equal(t, int64(1), a.counted.pullLookups.Load())
	})

	t.Run("by report ids", func(t *testing.T) {
		a := newTestAPI(t)
		uploadID := func(commit string, sizes map[string]int64) string {
			rec := a.upload(t, commit, reportBody(t, sizes))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			var resp UploadResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			return resp.ReportID
		}
		baseID := uploadID("base", map[string]int64{"app": 100000})
		headID := uploadID("head", map[string]int64{"app": 120000, "vendor": 50000})

		rec := a.do(t, http.MethodGet, comparePath+"?base_report="+baseID+"&head_report="+headID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var doc format.Document
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		require.NotNil(t, doc.Comparison)
		assert.Equal(t, int64(70000), doc.Comparison.SizeDelta)

		rec = a.do(t, http.MethodGet, comparePath+"?base_report="+baseID+"&head_report=unknown", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, string(bundle.ReasonNoHeadReport), doc.Reason)
	})

	t.Run("unknown pull", func(t *testing.T) {
		a := setup(t)

		rec := a.do(t, http.MethodGet, comparePath+"?pullid=8", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "pull not found")
	})

	t.Run("missing head report", func(t *testing.T) {
		a := setup(t)

		rec := a.do(t, http.MethodGet, comparePath+"?base=base&head=nope", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var doc format.Document
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, format.StatusUnavailable, doc.Status)
		assert.Equal(t, string(bundle.ReasonNoHeadReport), doc.Reason)
	})

	t.Run("unknown repository", func(t *testing.T) {
		a := newTestAPI(t)

		rec := a.do(t, http.MethodGet, "/api/v1/repos/github/acme/other/bundle-analysis/compare?base=a&head=b", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "repository not found")
	})

	t.Run("invalid query", func(t *testing.T) {
		a := setup(t)

		for _, q := range []string{"", "?base=a", "?pullid=1&base=a", "?pullid=x", "?base_report=r1", "?base_report=r1&head_report=r2&pullid=1"} {
			rec := a.do(t, http.MethodGet, comparePath+q, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})
}

func TestSavePull(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated, a.upload(t, "c1", reportBody(t, map[string]int64{"app": 1})).Code)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "saved", path: "/api/v1/repos/github/acme/web/pulls/1", body: `{"base":"a","head":"b"}`, status: http.StatusNoContent},
		{name: "invalid pull id", path: "/api/v1/repos/github/acme/web/pulls/x", body: `{"base":"a","head":"b"}`, status: http.StatusBadRequest},
		{name: "invalid json", path: "/api/v1/repos/github/acme/web/pulls/1", body: `{`, status: http.StatusBadRequest},
		{name: "missing head", path: "/api/v1/repos/github/acme/web/pulls/1", body: `{"base":"a"}`, status: http.StatusBadRequest},
		{name: "unknown repository", path: "/api/v1/repos/github/acme/nope/pulls/1", body: `{"base":"a","head":"b"}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPut, tt.path, []byte(tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
