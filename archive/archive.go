// Package archive keeps encoded results that were swept out of the registry,
// so references stay fetchable after eviction.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/astaric/orangeremote/command"
)

// ErrNotFound indicates the requested result was never archived or was deleted.
var ErrNotFound = errors.New("archive: result not found")

// Archive is a SQLite table of CBOR-encoded results keyed by reference.
type Archive struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the archive at path. ":memory:" keeps it in memory.
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		archived_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Archive{db: db, path: path}, nil
}

// Path returns the database path.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Save stores data under id, replacing an earlier entry.
func (a *Archive) Save(ctx context.Context, id command.Reference, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO results (id, data, archived_at) VALUES (?, ?, ?)",
		string(id), data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving result %s: %w", id, err)
	}
	return nil
}

// Load returns the data archived under id.
func (a *Archive) Load(ctx context.Context, id command.Reference) ([]byte, error) {
	var data []byte
	err := a.db.QueryRowContext(ctx, "SELECT data FROM results WHERE id = ?", string(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying result %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the given ids and returns how many rows existed.
func (a *Archive) Delete(ctx context.Context, ids ...command.Reference) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, "DELETE FROM results WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("deleting results: %w", err)
	}
	return res.RowsAffected()
}

// Prune removes entries archived before cutoff.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, "DELETE FROM results WHERE archived_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning results: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of archived results.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return n, nil
}
