package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repositories (
	id      INTEGER PRIMARY KEY,
	service TEXT NOT NULL,
	owner   TEXT NOT NULL,
	name    TEXT NOT NULL,
	key     TEXT NOT NULL,
	UNIQUE (service, owner, name)
);
CREATE TABLE IF NOT EXISTS report_records (
	external_id   TEXT PRIMARY KEY,
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	commit_sha    TEXT NOT NULL,
	kind          TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS report_records_commit
	ON report_records(repository_id, commit_sha, kind, created_at);
CREATE TABLE IF NOT EXISTS pulls (
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	pull_id       INTEGER NOT NULL,
	base_commit   TEXT NOT NULL,
	head_commit   TEXT NOT NULL,
	PRIMARY KEY (repository_id, pull_id)
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    4,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database %s: %w", path, err)
	}

	s := &SQLiteStore{pool: pool, path: path, now: time.Now}

	// Surface schema errors at startup instead of on first use.
	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize metadata database %s: %w", path, err)
	}
	pool.Put(conn)

	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("failed to create metadata schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureRepository(ctx context.Context, repo *Repository) (_ *Repository, err error) {
	if err := validateRepository(repo); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO repositories (service, owner, name, key) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{repo.Service, repo.Owner, repo.Name, repo.Key}})
	if err != nil {
		return nil, fmt.Errorf("failed to insert repository %s: %w", repo.Slug(), err)
	}

	stored, err := getRepository(conn, repo.Service, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("repository %s vanished after insert", repo.Slug())
	}
	return stored, nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, service, owner, name string) (*Repository, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return getRepository(conn, service, owner, name)
}

func getRepository(conn *sqlite.Conn, service, owner, name string) (*Repository, error) {
	var repo *Repository
	err := sqlitex.Execute(conn,
		"SELECT id, service, owner, name, key FROM repositories WHERE service = ? AND owner = ? AND name = ?",
		&sqlitex.ExecOptions{
			Args: []any{service, owner, name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				repo = &Repository{
					ID:      stmt.ColumnInt64(0),
					Service: stmt.ColumnText(1),
					Owner:   stmt.ColumnText(2),
					Name:    stmt.ColumnText(3),
					Key:     stmt.ColumnText(4),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query repository %s/%s/%s: %w", service, owner, name, err)
	}
	return repo, nil
}

func (s *SQLiteStore) SaveReportRecord(ctx context.Context, rec *ReportRecord) (err error) {
	if err := validateReportRecord(rec); err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	existing, err := getReportRecord(conn, rec.ExternalID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateReport
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO report_records (external_id, repository_id, commit_sha, kind, created_at) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{rec.ExternalID, rec.RepositoryID, rec.Commit, string(rec.Kind), createdAt.UnixNano()}})
	if err != nil {
		return fmt.Errorf("failed to insert report record %s: %w", rec.ExternalID, err)
	}
	return nil
}

func (s *SQLiteStore) FindReportRecord(ctx context.Context, repositoryID int64, commit string, kind ReportKind) (*ReportRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var rec *ReportRecord
	err = sqlitex.Execute(conn, `
		SELECT external_id, repository_id, commit_sha, kind, created_at
		FROM report_records
		WHERE repository_id = ? AND commit_sha = ? AND kind = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args:       []any{repositoryID, commit, string(kind)},
			ResultFunc: scanReportRecord(&rec),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query report record for %s: %w", commit, err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetReportRecord(ctx context.Context, externalID string) (*ReportRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return getReportRecord(conn, externalID)
}

func getReportRecord(conn *sqlite.Conn, externalID string) (*ReportRecord, error) {
	var rec *ReportRecord
	err := sqlitex.Execute(conn,
		"SELECT external_id, repository_id, commit_sha, kind, created_at FROM report_records WHERE external_id = ?",
		&sqlitex.ExecOptions{
			Args:       []any{externalID},
			ResultFunc: scanReportRecord(&rec),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query report record %s: %w", externalID, err)
	}
	return rec, nil
}

func scanReportRecord(dst **ReportRecord) func(*sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		*dst = &ReportRecord{
			ExternalID:   stmt.ColumnText(0),
			RepositoryID: stmt.ColumnInt64(1),
			Commit:       stmt.ColumnText(2),
			Kind:         ReportKind(stmt.ColumnText(3)),
			CreatedAt:    time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		}
		return nil
	}
}

func (s *SQLiteStore) SavePull(ctx context.Context, pull *Pull) error {
	if err := validatePull(pull); err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO pulls (repository_id, pull_id, base_commit, head_commit) VALUES (?, ?, ?, ?)
		ON CONFLICT (repository_id, pull_id) DO UPDATE SET
			base_commit = excluded.base_commit,
			head_commit = excluded.head_commit`,
		&sqlitex.ExecOptions{Args: []any{pull.RepositoryID, pull.PullID, pull.BaseCommit, pull.HeadCommit}})
	if err != nil {
		return fmt.Errorf("failed to save pull %d: %w", pull.PullID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPull(ctx context.Context, repositoryID, pullID int64) (*Pull, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var pull *Pull
	err = sqlitex.Execute(conn,
		"SELECT repository_id, pull_id, base_commit, head_commit FROM pulls WHERE repository_id = ? AND pull_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{repositoryID, pullID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pull = &Pull{
					RepositoryID: stmt.ColumnInt64(0),
					PullID:       stmt.ColumnInt64(1),
					BaseCommit:   stmt.ColumnText(2),
					HeadCommit:   stmt.ColumnText(3),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query pull %d: %w", pullID, err)
	}
	return pull, nil
}

// Close closes all pooled connections.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close metadata database %s: %w", s.path, err)
	}
	return nil
}
