package bundle

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/keys"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/metadata"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/report"
	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/storage"
)

const testSecret = "test-secret"

// countingStore counts Get calls and can hold them until released.
type countingStore struct {
	storage.Store

	gets atomic.Int64

	mu      sync.Mutex
	block   chan struct{}
	blocked int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewLocalStorage(afero.NewMemMapFs())}
}

// hold makes the next n Get calls wait for release or their context.
func (s *countingStore) hold(n int) (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.block = ch
	s.blocked = n
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets.Add(1)

	s.mu.Lock()
	var wait chan struct{}
	if s.blocked > 0 {
		s.blocked--
		wait = s.block
	}
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.Get(ctx, key)
}

type fixture struct {
	meta  *metadata.MemoryStore
	blobs *countingStore
	repo  *metadata.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		meta:  metadata.NewMemoryStore(),
		blobs: newCountingStore(),
	}
	f.repo = f.ensureRepo(t, "web")
	return f
}

func (f *fixture) ensureRepo(t *testing.T, name string) *metadata.Repository {
	t.Helper()
	repo, err := f.meta.EnsureRepository(context.Background(), &metadata.Repository{
		Service: "github",
		Owner:   "acme",
		Name:    name,
		Key:     keys.RepositoryKey(testSecret, "github", "acme", name),
	})
	require.NoError(t, err)
	return repo
}

// record saves a record for commit and returns it, without storing a blob.
func (f *fixture) record(t *testing.T, repo *metadata.Repository, commit string) *metadata.ReportRecord {
	t.Helper()
	rec := &metadata.ReportRecord{
		ExternalID:   uuid.NewString(),
		RepositoryID: repo.ID,
		Commit:       commit,
		Kind:         metadata.BundleAnalysis,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.meta.SaveReportRecord(context.Background(), rec))
	return rec
}

// addRaw records data as the report of commit and returns its external id.
func (f *fixture) addRaw(t *testing.T, repo *metadata.Repository, commit string, data []byte) string {
	t.Helper()
	rec := f.record(t, repo, commit)
	require.NoError(t, f.blobs.Store.Put(context.Background(), keys.BundleReportPath(repo.Key, rec.ExternalID), data))
	return rec.ExternalID
}

// addReport records a report with one asset per bundle.
func (f *fixture) addReport(t *testing.T, repo *metadata.Repository, commit string, sizes map[string]int64) string {
	t.Helper()
	return f.addRaw(t, repo, commit, encodeSizes(t, sizes))
}

func (f *fixture) loader(t *testing.T, cacheSize int) *Loader {
	t.Helper()
	l, err := NewLoader(f.meta, f.blobs, cacheSize, nil)
	require.NoError(t, err)
	return l
}

func encodeSizes(t *testing.T, sizes map[string]int64) []byte {
	t.Helper()
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]report.BundleInput, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, report.BundleInput{
			Name:   name,
			Assets: []report.AssetInput{{Name: name + ".js", Size: sizes[name]}},
		})
	}
	data, err := report.Encode(inputs)
	require.NoError(t, err)
	return data
}

func openSizes(t *testing.T, sizes map[string]int64) *report.Report {
	t.Helper()
	r, err := report.Open(context.Background(), encodeSizes(t, sizes))
	require.NoError(t, err)
	return r
}

var corruptData = []byte("this is not a bundle report")
