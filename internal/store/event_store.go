package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no tracked event matches the lookup key.
	ErrNotFound = errors.New("tracked event not found")

	// ErrThreadTaken is returned when a (stream, subject) pair is already bound
	// to another tracked event.
	ErrThreadTaken = errors.New("thread already bound to an event")

	// ErrDuplicateExternalID is returned when inserting an external id that is already tracked.
	ErrDuplicateExternalID = errors.New("external event already tracked")

	// ErrPartialThread is returned when only one of stream/subject is set.
	ErrPartialThread = errors.New("stream and subject must be set together")
)

// TrackedEvent binds a chat thread to an event on the external calendar.
// Stream and Subject are both empty for an event that is not bound yet.
type TrackedEvent struct {
	ID         uuid.UUID `json:"id"`
	ExternalID int64     `json:"external_id"`
	Stream     string    `json:"stream,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Timezone   string    `json:"timezone"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsBound reports whether the event is attached to a thread.
func (e *TrackedEvent) IsBound() bool {
	return e.Stream != "" || e.Subject != ""
}

// Updatable columns accepted by EventStore.Update.
const (
	FieldStream    = "stream"
	FieldSubject   = "subject"
	FieldTitle     = "title"
	FieldURL       = "url"
	FieldCreatedBy = "created_by"
	FieldCreatedAt = "created_at"
	FieldStartTime = "start_time"
	FieldEndTime   = "end_time"
	FieldTimezone  = "timezone"
)

var updatableFields = map[string]bool{
	FieldStream:    true,
	FieldSubject:   true,
	FieldTitle:     true,
	FieldURL:       true,
	FieldCreatedBy: true,
	FieldCreatedAt: true,
	FieldStartTime: true,
	FieldEndTime:   true,
	FieldTimezone:  true,
}

// FilterUpdates drops unknown columns and checks the thread-key invariant.
// Backends call it before building their UPDATE statement.
func FilterUpdates(updates map[string]any) (map[string]any, error) {
	allowed := make(map[string]any, len(updates))
	for col, val := range updates {
		if updatableFields[col] {
			allowed[col] = val
		}
	}
	_, hasStream := allowed[FieldStream]
	_, hasSubject := allowed[FieldSubject]
	if hasStream != hasSubject {
		return nil, ErrPartialThread
	}
	if hasStream {
		s, _ := allowed[FieldStream].(string)
		t, _ := allowed[FieldSubject].(string)
		if (s == "") != (t == "") {
			return nil, ErrPartialThread
		}
	}
	return allowed, nil
}

// ApplyUpdates copies filtered column values onto an in-memory event.
func ApplyUpdates(ev *TrackedEvent, updates map[string]any) {
	for col, val := range updates {
		switch col {
		case FieldStream:
			ev.Stream, _ = val.(string)
		case FieldSubject:
			ev.Subject, _ = val.(string)
		case FieldTitle:
			ev.Title, _ = val.(string)
		case FieldURL:
			ev.URL, _ = val.(string)
		case FieldCreatedBy:
			ev.CreatedBy, _ = val.(string)
		case FieldCreatedAt:
			ev.CreatedAt, _ = val.(time.Time)
		case FieldStartTime:
			ev.StartTime, _ = val.(time.Time)
		case FieldEndTime:
			ev.EndTime, _ = val.(time.Time)
		case FieldTimezone:
			ev.Timezone, _ = val.(string)
		}
	}
}

// EventStore persists tracked events. Implementations must enforce uniqueness of
// external_id and of non-empty (stream, subject) pairs so that racing writers
// are serialized by the database.
type EventStore interface {
	GetByThread(ctx context.Context, stream, subject string) (*TrackedEvent, error)
	GetByExternalID(ctx context.Context, externalID int64) (*TrackedEvent, error)
	Insert(ctx context.Context, ev *TrackedEvent) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error

	// LatestCreatedAt returns the newest created_at, or ok=false on an empty store.
	LatestCreatedAt(ctx context.Context) (t time.Time, ok bool, err error)
	// KnownExternalIDs returns the subset of ids that are already tracked.
	KnownExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error)

	Close() error
}
