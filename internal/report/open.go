package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MaxDecompressedSize bounds the size of a zstd-compressed report once
// decompressed. Larger payloads are treated as corrupt.
const MaxDecompressedSize = 256 << 20

var (
	sqliteHeader = []byte("SQLite format 3\x00")
	zstdMagic    = []byte{0x28, 0xb5, 0x2f, 0xfd}

	maxDecompressedSize uint64 = MaxDecompressedSize
)

const bundleQuery = `
SELECT b.name, COALESCE(SUM(a.size), 0), COUNT(a.id)
FROM bundles b
LEFT JOIN sessions s ON s.bundle_id = b.id
LEFT JOIN assets a ON a.session_id = s.id
GROUP BY b.id
ORDER BY b.name`

// Open parses data as a report container.
//
// Malformed input yields an error matching ErrCorrupt. Context cancellation
// interrupts any running query and is returned as the context's error, never
// as corruption.
func Open(ctx context.Context, data []byte) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(raw, sqliteHeader) {
		return nil, corrupt("not a sqlite database", nil)
	}

	path, cleanup, err := writeTemp(raw)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, corrupt("open database", err)
	}
	defer conn.Close()
	conn.SetInterrupt(ctx.Done())

	version, err := readSchemaVersion(conn)
	if err != nil {
		return nil, queryError(ctx, "read schema version", err)
	}
	if version != SchemaVersion {
		return nil, corrupt(fmt.Sprintf("unsupported schema version %d", version), nil)
	}

	var bundles []BundleAggregate
	err = sqlitex.Execute(conn, bundleQuery, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			bundles = append(bundles, BundleAggregate{
				Name:       stmt.ColumnText(0),
				Size:       stmt.ColumnInt64(1),
				AssetCount: stmt.ColumnInt64(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, queryError(ctx, "read bundles", err)
	}

	return newReport(bundles, len(data))
}

// decompress returns data unchanged unless it starts with the zstd frame magic.
// Output is capped at maxDecompressedSize.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecompressedSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, corrupt("decompress", err)
	}
	return raw, nil
}

// writeTemp spills raw to a temporary file since SQLite only opens files.
func writeTemp(raw []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "bundle-report-*.sqlite")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := f.Write(raw); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return f.Name(), cleanup, nil
}

func readSchemaVersion(conn *sqlite.Conn) (int, error) {
	value := ""
	found := false
	err := sqlitex.Execute(conn, "SELECT value FROM metadata WHERE key = 'schema_version'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, corrupt("missing schema version", nil)
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, corrupt("invalid schema version", err)
	}
	return version, nil
}

// queryError classifies a failed query: cancellation wins over corruption.
func queryError(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if IsCorrupt(err) {
		return err
	}
	return corrupt(what, err)
}
