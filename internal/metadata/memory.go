package metadata

import (
	"context"
	"sync"
	"time"
)

type repoName struct {
	service, owner, name string
}

type pullKey struct {
	repositoryID, pullID int64
}

// MemoryStore is an in-process Store for tests and the CLI.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	repos   map[repoName]*Repository
	records map[string]*ReportRecord
	// order holds external ids in insertion order for latest-wins lookups.
	order []string
	pulls map[pullKey]*Pull
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repos:   make(map[repoName]*Repository),
		records: make(map[string]*ReportRecord),
		pulls:   make(map[pullKey]*Pull),
		now:     time.Now,
	}
}

func (m *MemoryStore) EnsureRepository(ctx context.Context, repo *Repository) (*Repository, error) {
	if err := validateRepository(repo); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := repoName{repo.Service, repo.Owner, repo.Name}
	if existing, ok := m.repos[k]; ok {
		cp := *existing
		return &cp, nil
	}

	m.nextID++
	stored := *repo
	stored.ID = m.nextID
	m.repos[k] = &stored

	cp := stored
	return &cp, nil
}

func (m *MemoryStore) GetRepository(ctx context.Context, service, owner, name string) (*Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing, ok := m.repos[repoName{service, owner, name}]
	if !ok {
		return nil, nil
	}
	cp := *existing
	return &cp, nil
}

func (m *MemoryStore) SaveReportRecord(ctx context.Context, rec *ReportRecord) error {
	if err := validateReportRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ExternalID]; ok {
		return ErrDuplicateReport
	}

	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now().UTC()
	}
	m.records[rec.ExternalID] = &stored
	m.order = append(m.order, rec.ExternalID)
	return nil
}

func (m *MemoryStore) FindReportRecord(ctx context.Context, repositoryID int64, commit string, kind ReportKind) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.RepositoryID == repositoryID && rec.Commit == commit && rec.Kind == kind {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetReportRecord(ctx context.Context, externalID string) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[externalID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) SavePull(ctx context.Context, pull *Pull) error {
	if err := validatePull(pull); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *pull
	m.pulls[pullKey{pull.RepositoryID, pull.PullID}] = &stored
	return nil
}

func (m *MemoryStore) GetPull(ctx context.Context, repositoryID, pullID int64) (*Pull, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pull, ok := m.pulls[pullKey{repositoryID, pullID}]
	if !ok {
		return nil, nil
	}
	cp := *pull
	return &cp, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
