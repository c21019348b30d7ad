package embedding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	content_hash TEXT PRIMARY KEY,
	vector BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_created_at ON embeddings(created_at);
`

// SQLiteBackend stores vectors in a single SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database at path.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("embedding: sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("embedding: create cache dir: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("embedding: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("embedding: ping sqlite: %w", err)
	}
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("embedding: init schema: %w", err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE content_hash = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding: sqlite get: %w", err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Set upserts the row. Writes are content-addressed, so replacing an
// existing row with the same key is harmless.
func (b *SQLiteBackend) Set(ctx context.Context, key string, vec []float32, createdAt time.Time) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (content_hash, vector, dimension, created_at) VALUES (?, ?, ?, ?)`,
		key, encodeVector(vec), len(vec), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("embedding: sqlite set: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM embeddings WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("embedding: sqlite clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *SQLiteBackend) Len(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("embedding: sqlite count: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) Close() error {
	_, _ = b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return b.db.Close()
}
