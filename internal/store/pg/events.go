package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

const (
	constraintExternalID = "events_external_id_key"
	constraintThread     = "events_thread_key"
)

// PGEventStore implements store.EventStore backed by Postgres.
type PGEventStore struct {
	db *sql.DB
}

func NewPGEventStore(db *sql.DB) *PGEventStore {
	return &PGEventStore{db: db}
}

const eventSelectCols = `id, external_id, stream, subject, title, url, created_by, created_at, start_time, end_time, timezone, updated_at`

func (s *PGEventStore) GetByThread(ctx context.Context, stream, subject string) (*store.TrackedEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE stream = $1 AND subject = $2`, stream, subject)
	return scanEvent(row)
}

func (s *PGEventStore) GetByExternalID(ctx context.Context, externalID int64) (*store.TrackedEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE external_id = $1`, externalID)
	return scanEvent(row)
}

func (s *PGEventStore) Insert(ctx context.Context, ev *store.TrackedEvent) error {
	if (ev.Stream == "") != (ev.Subject == "") {
		return store.ErrPartialThread
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	ev.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.ExternalID, nilIfEmpty(ev.Stream), nilIfEmpty(ev.Subject),
		ev.Title, ev.URL, ev.CreatedBy, ev.CreatedAt, ev.StartTime, ev.EndTime, ev.Timezone, now,
	)
	return mapWriteError(err)
}

func (s *PGEventStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
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
	i := 1
	for _, col := range cols {
		val := allowed[col]
		if col == store.FieldStream || col == store.FieldSubject {
			v, _ := val.(string)
			val = nilIfEmpty(v)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now().UTC())
	i++
	args = append(args, id)

	q := fmt.Sprintf("UPDATE events SET %s WHERE id = $%d", strings.Join(setClauses, ", "), i)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGEventStore) LatestCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var t sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM events`).Scan(&t); err != nil {
		return time.Time{}, false, err
	}
	return t.Time, t.Valid, nil
}

func (s *PGEventStore) KnownExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	known := make(map[int64]bool)
	if len(ids) == 0 {
		return known, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT external_id FROM events WHERE external_id = ANY($1)`, ids)
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

func (s *PGEventStore) Close() error {
	return s.db.Close()
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	switch uniqueConstraint(err) {
	case constraintThread:
		return store.ErrThreadTaken
	case constraintExternalID:
		return store.ErrDuplicateExternalID
	}
	return err
}

func scanEvent(row *sql.Row) (*store.TrackedEvent, error) {
	var ev store.TrackedEvent
	var stream, subject sql.NullString

	err := row.Scan(
		&ev.ID, &ev.ExternalID, &stream, &subject, &ev.Title, &ev.URL, &ev.CreatedBy,
		&ev.CreatedAt, &ev.StartTime, &ev.EndTime, &ev.Timezone, &ev.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.Stream = stream.String
	ev.Subject = subject.String
	return &ev, nil
}
