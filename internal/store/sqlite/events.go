// Package sqlite implements the standalone-mode event store on an embedded
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          TEXT PRIMARY KEY,
    external_id INTEGER NOT NULL UNIQUE,
    stream      TEXT,
    subject     TEXT,
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    created_by  TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    start_time  INTEGER NOT NULL,
    end_time    INTEGER NOT NULL,
    timezone    TEXT NOT NULL DEFAULT 'UTC',
    updated_at  INTEGER NOT NULL,
    UNIQUE (stream, subject),
    CHECK ((stream IS NULL) = (subject IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at);
`

// SQLiteEventStore implements store.EventStore on SQLite.
// Timestamps are stored as unix milliseconds in UTC.
type SQLiteEventStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

// NewSQLiteStores creates all stores backed by SQLite (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	events, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &store.Stores{Events: events}, nil
}

const eventCols = `id, external_id, stream, subject, title, url, created_by, created_at, start_time, end_time, timezone, updated_at`

func (s *SQLiteEventStore) GetByThread(ctx context.Context, stream, subject string) (*store.TrackedEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE stream = ? AND subject = ?`, stream, subject)
	return scanEvent(row)
}

func (s *SQLiteEventStore) GetByExternalID(ctx context.Context, externalID int64) (*store.TrackedEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE external_id = ?`, externalID)
	return scanEvent(row)
}

func (s *SQLiteEventStore) Insert(ctx context.Context, ev *store.TrackedEvent) error {
	if (ev.Stream == "") != (ev.Subject == "") {
		return store.ErrPartialThread
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	ev.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.ExternalID, nullString(ev.Stream), nullString(ev.Subject),
		ev.Title, ev.URL, ev.CreatedBy,
		millis(ev.CreatedAt), millis(ev.StartTime), millis(ev.EndTime), ev.Timezone, millis(now),
	)
	return mapWriteError(err)
}

func (s *SQLiteEventStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	allowed, err := store.FilterUpdates(updates)
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		return nil
	}

	cols := make([]string, 0, len(allowed))
	for col := range allowed {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var setClauses []string
	var args []any
	for _, col := range cols {
		setClauses = append(setClauses, col+" = ?")
		switch v := allowed[col].(type) {
		case time.Time:
			args = append(args, millis(v))
		case string:
			if col == store.FieldStream || col == store.FieldSubject {
				args = append(args, nullString(v))
			} else {
				args = append(args, v)
			}
		default:
			args = append(args, v)
		}
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, millis(time.Now().UTC()), id.String())

	res, err := s.db.ExecContext(ctx,
		"UPDATE events SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return mapWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteEventStore) LatestCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var ms sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM events`).Scan(&ms); err != nil {
		return time.Time{}, false, err
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

func (s *SQLiteEventStore) KnownExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	known := make(map[int64]bool)
	if len(ids) == 0 {
		return known, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM events WHERE external_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		if strings.Contains(se.Error(), "events.external_id") {
			return store.ErrDuplicateExternalID
		}
		return store.ErrThreadTaken
	}
	return err
}

func scanEvent(row *sql.Row) (*store.TrackedEvent, error) {
	var ev store.TrackedEvent
	var id string
	var stream, subject sql.NullString
	var createdAt, startTime, endTime, updatedAt int64

	err := row.Scan(&id, &ev.ExternalID, &stream, &subject, &ev.Title, &ev.URL, &ev.CreatedBy,
		&createdAt, &startTime, &endTime, &ev.Timezone, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ev.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", id, err)
	}
	ev.Stream = stream.String
	ev.Subject = subject.String
	ev.CreatedAt = time.UnixMilli(createdAt).UTC()
	ev.StartTime = time.UnixMilli(startTime).UTC()
	ev.EndTime = time.UnixMilli(endTime).UTC()
	ev.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &ev, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
