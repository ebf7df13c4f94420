// Package sqlite is the single-node store.Store backend on modernc.org/sqlite
// (pure Go, no CGO).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
	"modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	content     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	grp         TEXT NOT NULL DEFAULT '',
	search      TEXT NOT NULL DEFAULT '',
	subtype     TEXT NOT NULL DEFAULT '',
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	file_name   TEXT NOT NULL DEFAULT '',
	count       INTEGER NOT NULL DEFAULT 0,
	favorite    INTEGER NOT NULL DEFAULT 0,
	note        TEXT,
	device_id   TEXT NOT NULL DEFAULT '',
	device_name TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	UNIQUE (owner, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_items_owner_created ON items (owner, created_at, id);

CREATE TABLE IF NOT EXISTS devices (
	owner          TEXT NOT NULL,
	device_id      TEXT NOT NULL,
	name           TEXT NOT NULL,
	last_online    INTEGER NOT NULL DEFAULT 0,
	last_sync_time INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (owner, device_id)
);
`

// sqliteConstraint is the primary SQLITE_CONSTRAINT result code.
const sqliteConstraint = 19

// Store persists items and devices in one SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; pragmas below stick to the single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}

const itemColumns = `id, owner, kind, content, fingerprint, grp, search, subtype, width, height,
	file_name, count, favorite, note, device_id, device_name, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.Item, error) {
	var (
		it       domain.Item
		kind     string
		note     sql.NullString
		created  int64
		updated  int64
		favorite int
	)
	err := row.Scan(&it.ID, &it.Owner, &kind, &it.Content, &it.Fingerprint, &it.Group,
		&it.Search, &it.Subtype, &it.Width, &it.Height, &it.FileName, &it.Count,
		&favorite, &note, &it.OriginDevice, &it.OriginDeviceName, &created, &updated)
	if err != nil {
		return nil, err
	}

	it.Kind = domain.Kind(kind)
	it.Favorite = favorite != 0
	if note.Valid {
		n := note.String
		it.Note = &n
	}
	it.CreatedAt = fromMicros(created)
	it.UpdatedAt = fromMicros(updated)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]*domain.Item, error) {
	defer rows.Close()

	items := []*domain.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func nullNote(note *string) sql.NullString {
	if note == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *note, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// classify maps a constraint violation on insert to the store sentinels.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqliteConstraint {
		return err
	}
	if strings.Contains(se.Error(), "fingerprint") {
		return domain.ErrFingerprintTaken
	}
	return domain.ErrIDTaken
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
