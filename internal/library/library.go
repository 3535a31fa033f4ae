// Package library keeps a sqlite ledger of what was fetched: title, author,
// chosen format and how often it was served. The cache file stays the only
// authority on whether a video is cached; the ledger is informational.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snapetech/tubecache/internal/source"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	mime_type   TEXT NOT NULL DEFAULT '',
	bitrate     INTEGER NOT NULL DEFAULT 0,
	format      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	fetched_at  INTEGER NOT NULL,
	last_served INTEGER NOT NULL DEFAULT 0,
	hits        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS videos_fetched_at ON videos(fetched_at);
`

// Record is one ledger row.
type Record struct {
	source.Info
	Size       int64     `json:"size"`
	FetchedAt  time.Time `json:"fetched_at"`
	LastServed time.Time `json:"last_served,omitzero"`
	Hits       int64     `json:"hits"`
}

// Library is a handle on the ledger database.
type Library struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Library, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("library: open %s: %w", path, err)
	}
	// One writer at a time; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("library: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("library: schema: %w", err)
	}
	return &Library{db: db}, nil
}

func (l *Library) Close() error { return l.db.Close() }

// Record upserts the metadata for a finished fetch.
func (l *Library) Record(ctx context.Context, info source.Info, size int64, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO videos (id, title, author, duration_ms, mime_type, bitrate, format, source, size, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title=excluded.title, author=excluded.author, duration_ms=excluded.duration_ms,
	mime_type=excluded.mime_type, bitrate=excluded.bitrate, format=excluded.format,
	source=excluded.source, size=excluded.size, fetched_at=excluded.fetched_at`,
		info.ID, info.Title, info.Author, info.Duration.Milliseconds(), info.MimeType,
		info.Bitrate, info.Format, info.Source, size, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("library: record %s: %w", info.ID, err)
	}
	return nil
}

// Served bumps the hit counter for id. Unknown ids are ignored: a file may have
// been placed in the cache by hand or before the ledger existed.
func (l *Library) Served(ctx context.Context, id string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE videos SET hits = hits + 1, last_served = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("library: served %s: %w", id, err)
	}
	return nil
}

// Get returns the record for id; ok is false when there is none.
func (l *Library) Get(ctx context.Context, id string) (rec Record, ok bool, err error) {
	row := l.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("library: get %s: %w", id, err)
	}
	return rec, true, nil
}

// List returns up to limit records, most recently fetched first. limit <= 0 means all.
func (l *Library) List(ctx context.Context, limit int) ([]Record, error) {
	q := selectRecord + ` ORDER BY fetched_at DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("library: list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("library: list: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Forget deletes the record for id.
func (l *Library) Forget(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	return err
}

const selectRecord = `SELECT id, title, author, duration_ms, mime_type, bitrate, format, source, size, fetched_at, last_served, hits FROM videos`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var durationMS, fetchedAt, lastServed int64
	err := s.Scan(&rec.ID, &rec.Title, &rec.Author, &durationMS, &rec.MimeType, &rec.Bitrate,
		&rec.Format, &rec.Source, &rec.Size, &fetchedAt, &lastServed, &rec.Hits)
	if err != nil {
		return Record{}, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.FetchedAt = time.UnixMilli(fetchedAt)
	if lastServed > 0 {
		rec.LastServed = time.UnixMilli(lastServed)
	}
	return rec, nil
}
