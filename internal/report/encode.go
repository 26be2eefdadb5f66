package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE metadata (
	key   TEXT PRIMARY KEY,
	value TEXT
);
CREATE TABLE bundles (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE sessions (
	id        INTEGER PRIMARY KEY,
	bundle_id INTEGER NOT NULL REFERENCES bundles(id),
	info      TEXT
);
CREATE TABLE assets (
	id              INTEGER PRIMARY KEY,
	session_id      INTEGER NOT NULL REFERENCES sessions(id),
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	asset_type      TEXT NOT NULL,
	size            INTEGER NOT NULL
);
CREATE INDEX sessions_bundle_id ON sessions(bundle_id);
CREATE INDEX assets_session_id ON assets(session_id);
`

// AssetInput is one emitted file in a bundle.
type AssetInput struct {
	Name string `json:"name"`
	// NormalizedName is Name with content hashes stripped. Defaults to Name.
	NormalizedName string `json:"normalized_name,omitempty"`
	Type           string `json:"type,omitempty"`
	Size           int64  `json:"size"`
}

// BundleInput describes one bundle to write with Encode.
type BundleInput struct {
	Name   string       `json:"name"`
	Assets []AssetInput `json:"assets"`
}

// Encode writes bundles into a new report container and returns its bytes.
// Each bundle is recorded as a single session.
func Encode(bundles []BundleInput) ([]byte, error) {
	seen := make(map[string]struct{}, len(bundles))
	for _, b := range bundles {
		if b.Name == "" {
			return nil, errors.New("bundle name is required")
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("duplicate bundle name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
		for _, a := range b.Assets {
			if a.Size < 0 {
				return nil, fmt.Errorf("asset %q in bundle %q has negative size", a.Name, b.Name)
			}
		}
	}

	dir, err := os.MkdirTemp("", "bundle-report-encode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "report.sqlite")
	if err := writeDatabase(path, bundles); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded report: %w", err)
	}
	return data, nil
}

func writeDatabase(path string, bundles []BundleInput) (err error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate)
	if err != nil {
		return fmt.Errorf("failed to create report database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close report database: %w", closeErr)
		}
	}()

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("failed to create report schema: %w", err)
	}

	return insertBundles(conn, bundles)
}

func insertBundles(conn *sqlite.Conn, bundles []BundleInput) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "INSERT INTO metadata (key, value) VALUES ('schema_version', ?)", &sqlitex.ExecOptions{
		Args: []any{strconv.Itoa(SchemaVersion)},
	})
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	for _, b := range bundles {
		if err = sqlitex.Execute(conn, "INSERT INTO bundles (name) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{b.Name},
		}); err != nil {
			return fmt.Errorf("failed to insert bundle %q: %w", b.Name, err)
		}
		bundleID := conn.LastInsertRowID()

		if err = sqlitex.Execute(conn, "INSERT INTO sessions (bundle_id) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{bundleID},
		}); err != nil {
			return fmt.Errorf("failed to insert session for %q: %w", b.Name, err)
		}
		sessionID := conn.LastInsertRowID()

		for _, a := range b.Assets {
			normalized := a.NormalizedName
			if normalized == "" {
				normalized = a.Name
			}
			assetType := a.Type
			if assetType == "" {
				assetType = "javascript"
			}
			if err = sqlitex.Execute(conn,
				"INSERT INTO assets (session_id, name, normalized_name, asset_type, size) VALUES (?, ?, ?, ?, ?)",
				&sqlitex.ExecOptions{
					Args: []any{sessionID, a.Name, normalized, assetType, a.Size},
				}); err != nil {
				return fmt.Errorf("failed to insert asset %q: %w", a.Name, err)
			}
		}
	}

	return nil
}
