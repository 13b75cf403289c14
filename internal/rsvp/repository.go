package rsvp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

// ErrSourceEventMissing is returned by Refresh when the calendar no longer knows a tracked event.
var ErrSourceEventMissing = errors.New("event missing from calendar")

// Source is the calendar API as seen by the bot.
type Source interface {
	GetEvent(ctx context.Context, id int64, includeParticipants bool) (*calendar.Event, error)
	Join(ctx context.Context, id int64, userRef string) (*calendar.JoinResult, error)
	Leave(ctx context.Context, id int64, userRef string) error
}

// NameResolver maps participant references to display names, in input order.
type NameResolver interface {
	NamesFor(ctx context.Context, refs []string) ([]string, error)
}

// Repository resolves threads and calendar ids to tracked events.
type Repository interface {
	// FindByThread returns nil, nil when the thread is not bound.
	FindByThread(ctx context.Context, stream, subject string) (*store.TrackedEvent, error)
	// FindByExternalID returns nil, nil when the id is not tracked.
	FindByExternalID(ctx context.Context, externalID int64) (*store.TrackedEvent, error)
	// Create starts tracking a calendar event. It returns nil, nil when the
	// calendar has no event with that id.
	Create(ctx context.Context, externalID int64) (*store.TrackedEvent, error)
	// Update persists fields and applies them to ev.
	Update(ctx context.Context, ev *store.TrackedEvent, fields map[string]any) error
	// Refresh pulls the calendar's current view of ev, persists changed
	// fields and returns the snapshot.
	Refresh(ctx context.Context, ev *store.TrackedEvent, includeParticipants bool) (*calendar.Event, error)
}

// EventRepository implements Repository over an EventStore and the calendar.
type EventRepository struct {
	store     store.EventStore
	source    Source
	publisher bus.Publisher
	channel   string
}

// NewEventRepository creates a repository. When publisher is non-nil, changes
// observed during Refresh are announced in the event's thread on channel.
func NewEventRepository(s store.EventStore, source Source, publisher bus.Publisher, channel string) *EventRepository {
	return &EventRepository{store: s, source: source, publisher: publisher, channel: channel}
}

func (r *EventRepository) FindByThread(ctx context.Context, stream, subject string) (*store.TrackedEvent, error) {
	if stream == "" || subject == "" {
		return nil, nil
	}
	ev, err := r.store.GetByThread(ctx, stream, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

func (r *EventRepository) FindByExternalID(ctx context.Context, externalID int64) (*store.TrackedEvent, error) {
	ev, err := r.store.GetByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

func (r *EventRepository) Create(ctx context.Context, externalID int64) (*store.TrackedEvent, error) {
	snap, err := r.source.GetEvent(ctx, externalID, false)
	if err != nil {
		return nil, fmt.Errorf("fetch event %d: %w", externalID, err)
	}
	if snap == nil {
		return nil, nil
	}

	ev := TrackedFromSnapshot(snap)
	err = r.store.Insert(ctx, ev)
	if errors.Is(err, store.ErrDuplicateExternalID) {
		// Lost a race with another writer (poller or a concurrent init).
		return r.store.GetByExternalID(ctx, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert event %d: %w", externalID, err)
	}
	return ev, nil
}

func (r *EventRepository) Update(ctx context.Context, ev *store.TrackedEvent, fields map[string]any) error {
	if err := r.store.Update(ctx, ev.ID, fields); err != nil {
		return err
	}
	store.ApplyUpdates(ev, fields)
	return nil
}

func (r *EventRepository) Refresh(ctx context.Context, ev *store.TrackedEvent, includeParticipants bool) (*calendar.Event, error) {
	snap, err := r.source.GetEvent(ctx, ev.ExternalID, includeParticipants)
	if err != nil {
		return nil, fmt.Errorf("refresh event %d: %w", ev.ExternalID, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("refresh event %d: %w", ev.ExternalID, ErrSourceEventMissing)
	}

	changes := snapshotChanges(ev, snap)
	if len(changes) == 0 {
		return snap, nil
	}
	notice := changeNotice(ev, changes)
	if err := r.Update(ctx, ev, changes); err != nil {
		return nil, fmt.Errorf("store refreshed event %d: %w", ev.ExternalID, err)
	}
	if notice != "" && r.publisher != nil {
		slog.Info("tracked event changed upstream", "external_id", ev.ExternalID, "stream", ev.Stream, "subject", ev.Subject)
		r.publisher.PublishOutbound(bus.OutboundMessage{
			Channel: r.channel,
			Type:    bus.TypeStream,
			To:      ev.Stream,
			Subject: ev.Subject,
			Content: notice,
		})
	}
	return snap, nil
}

// TrackedFromSnapshot builds an unbound tracked event from a calendar event.
func TrackedFromSnapshot(snap *calendar.Event) *store.TrackedEvent {
	return &store.TrackedEvent{
		ExternalID: snap.ID,
		Title:      snap.Title,
		URL:        snap.URL,
		CreatedBy:  snap.CreatedBy.Name,
		CreatedAt:  snap.CreatedAt.UTC(),
		StartTime:  snap.StartTime.UTC(),
		EndTime:    snap.EndTime.UTC(),
		Timezone:   snap.Timezone,
	}
}

// snapshotChanges lists the stored columns that differ from the calendar's view.
func snapshotChanges(ev *store.TrackedEvent, snap *calendar.Event) map[string]any {
	fresh := TrackedFromSnapshot(snap)
	changes := make(map[string]any)
	if fresh.Title != ev.Title {
		changes[store.FieldTitle] = fresh.Title
	}
	if fresh.URL != ev.URL {
		changes[store.FieldURL] = fresh.URL
	}
	if fresh.CreatedBy != ev.CreatedBy {
		changes[store.FieldCreatedBy] = fresh.CreatedBy
	}
	if !fresh.CreatedAt.Equal(ev.CreatedAt) {
		changes[store.FieldCreatedAt] = fresh.CreatedAt
	}
	if !fresh.StartTime.Equal(ev.StartTime) {
		changes[store.FieldStartTime] = fresh.StartTime
	}
	if !fresh.EndTime.Equal(ev.EndTime) {
		changes[store.FieldEndTime] = fresh.EndTime
	}
	if fresh.Timezone != ev.Timezone {
		changes[store.FieldTimezone] = fresh.Timezone
	}
	return changes
}

// changeNotice describes title and time changes of a bound event, or returns "".
func changeNotice(ev *store.TrackedEvent, changes map[string]any) string {
	if !ev.IsBound() {
		return ""
	}
	var lines []string
	if title, ok := changes[store.FieldTitle].(string); ok {
		lines = append(lines, fmt.Sprintf(msgTitleChanged, title))
	}
	_, startChanged := changes[store.FieldStartTime]
	_, endChanged := changes[store.FieldEndTime]
	if startChanged || endChanged {
		next := *ev
		store.ApplyUpdates(&next, changes)
		lines = append(lines, fmt.Sprintf(msgTimeChanged,
			calendar.FormatTimestamp(next.StartTime, next.EndTime, next.Timezone)))
	}
	if len(lines) == 0 {
		return ""
	}
	return msgEventChanged + "\n" + strings.Join(lines, "\n")
}
