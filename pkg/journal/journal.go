// Package journal keeps an append-only SQLite record of commentary entries.
// It is an optional sink: the in-memory log stays authoritative.
package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/commentary"
)

// CurrentSchemaVersion is the latest schema version.
const CurrentSchemaVersion = 1

// followBuffer is the journal's queue on the commentary log.
const followBuffer = 256

// Record is one persisted entry.
type Record struct {
	ID        string            `json:"id"` // ULID, sortable by write time
	EntryID   uint64            `json:"entry_id"`
	Source    commentary.Source `json:"source"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
}

// Journal is an open commentary journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// Open opens or creates the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0600)

	return &Journal{
		db:      db,
		logger:  log.OrDefault(logger, "journal"),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("journal: get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS entries (
		  id         TEXT PRIMARY KEY,
		  entry_id   INTEGER NOT NULL,
		  source     TEXT NOT NULL,
		  text       TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_created
		ON entries(created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("journal: migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", 1)); err != nil {
			return fmt.Errorf("journal: set user_version: %w", err)
		}
	}
	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("journal: verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal: expected WAL mode, got %s", mode)
	}
	return nil
}

func (j *Journal) newID(t time.Time) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), j.entropy).String()
}

// Append persists one entry.
func (j *Journal) Append(ctx context.Context, e commentary.Entry) (Record, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		ID:        j.newID(ts),
		EntryID:   e.ID,
		Source:    e.Source,
		Text:      e.Text,
		Timestamp: ts.UTC(),
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (id, entry_id, source, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, int64(rec.EntryID), string(rec.Source), rec.Text, ts.UnixMilli())
	if err != nil {
		return Record{}, fmt.Errorf("journal: insert: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, entry_id, source, text, created_at FROM entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec     Record
			entryID int64
			source  string
			created int64
		)
		if err := rows.Scan(&rec.ID, &entryID, &source, &rec.Text, &created); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		rec.EntryID = uint64(entryID)
		rec.Source = commentary.Source(source)
		rec.Timestamp = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return out, nil
}

// Count returns the number of persisted records.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

// Follow persists every new entry appended to l until ctx is done. Write
// failures are logged and skipped.
func (j *Journal) Follow(ctx context.Context, l *commentary.Log) {
	sub := l.Subscribe(followBuffer)
	defer sub.Close()

	j.logger.Info("journal following commentary")
	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				j.logger.Warn("journal missed entries", "dropped", n)
			}
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := j.Append(ctx, e); err != nil && ctx.Err() == nil {
				j.logger.Warn("journal append failed", "entry", e.ID, "error", err)
			}
		}
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
