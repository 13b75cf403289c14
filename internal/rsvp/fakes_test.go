package rsvp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

// memStore is an in-memory store.EventStore enforcing the same unique keys as the SQL stores.
type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]store.TrackedEvent
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID]store.TrackedEvent)}
}

func (s *memStore) GetByThread(_ context.Context, stream, subject string) (*store.TrackedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Stream == stream && ev.Subject == subject {
			return &ev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) GetByExternalID(_ context.Context, id int64) (*store.TrackedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ExternalID == id {
			return &ev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) Insert(_ context.Context, ev *store.TrackedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.events {
		if other.ExternalID == ev.ExternalID {
			return store.ErrDuplicateExternalID
		}
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.events[ev.ID] = *ev
	return nil
}

func (s *memStore) Update(_ context.Context, id uuid.UUID, updates map[string]any) error {
	allowed, err := store.FilterUpdates(updates)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return store.ErrNotFound
	}
	store.ApplyUpdates(&ev, allowed)
	if ev.Stream != "" {
		for otherID, other := range s.events {
			if otherID != id && other.Stream == ev.Stream && other.Subject == ev.Subject {
				return store.ErrThreadTaken
			}
		}
	}
	s.events[id] = ev
	return nil
}

func (s *memStore) LatestCreatedAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *memStore) KnownExternalIDs(context.Context, []int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) all() []store.TrackedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.TrackedEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// fakeSource is an in-memory calendar that dedups joins like the real one.
type fakeSource struct {
	mu        sync.Mutex
	events    map[int64]*calendar.Event
	joined    map[int64]map[string]bool
	joins     int
	joinResp  *calendar.JoinResult
	blockJoin bool // Join waits for its context to end
	err       error
	panicMsg  string
}

func newFakeSource(events ...*calendar.Event) *fakeSource {
	src := &fakeSource{events: make(map[int64]*calendar.Event), joined: make(map[int64]map[string]bool)}
	for _, ev := range events {
		src.events[ev.ID] = ev
	}
	return src
}

func (f *fakeSource) GetEvent(_ context.Context, id int64, includeParticipants bool) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	ev, ok := f.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	if !includeParticipants {
		cp.Participants = nil
	}
	return &cp, nil
}

func (f *fakeSource) Join(ctx context.Context, id int64, userRef string) (*calendar.JoinResult, error) {
	if f.blockJoin {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.joinResp != nil {
		return f.joinResp, nil
	}
	if f.joined[id] == nil {
		f.joined[id] = make(map[string]bool)
	}
	f.joined[id][userRef] = true
	return &calendar.JoinResult{Joined: true}, nil
}

func (f *fakeSource) Leave(_ context.Context, id int64, userRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined[id], userRef)
	return nil
}

func (f *fakeSource) isJoined(id int64, userRef string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined[id][userRef]
}

type fakeNames map[string]string

func (n fakeNames) NamesFor(_ context.Context, refs []string) ([]string, error) {
	out := make([]string, len(refs))
	for i, ref := range refs {
		if name, ok := n[ref]; ok {
			out[i] = name
		} else {
			out[i] = ref
		}
	}
	return out, nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ bus.InboundMessage, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []bus.OutboundMessage
}

func (p *recordingPublisher) PublishOutbound(msg bus.OutboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

// lowSource makes every small IntN draw return 0, so replies are always
// decorated with the first phrase.
type lowSource struct{}

func (lowSource) Uint64() uint64 { return 1 << 32 }

func calendarEvent(id int64, title string) *calendar.Event {
	start := time.Date(2017, 5, 17, 21, 0, 0, 0, time.UTC)
	return &calendar.Event{
		ID:        id,
		Title:     title,
		URL:       fmt.Sprintf("https://www.recurse.com/calendar/%d", id),
		Timezone:  "America/New_York",
		CreatedAt: start.Add(-72 * time.Hour),
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		CreatedBy: calendar.Person{ID: 1, Name: "Test User A"},
	}
}
