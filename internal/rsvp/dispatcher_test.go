package rsvp

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

const (
	testSite    = "https://recurse.zulipchat.com"
	testStream  = "test-stream"
	testSubject = "Testing"
	testEmail   = "a@example.com"
)

type harness struct {
	store     *memStore
	source    *fakeSource
	reporter  *recordingReporter
	publisher *recordingPublisher
	repo      *EventRepository
	d         *Dispatcher
}

func newHarness(t *testing.T, cfg Config, names fakeNames, opts []Option, events ...*calendar.Event) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		source:    newFakeSource(events...),
		reporter:  &recordingReporter{},
		publisher: &recordingPublisher{},
	}
	if cfg.ZulipSite == "" {
		cfg.ZulipSite = testSite
	}
	if cfg.AnnounceStream == "" {
		cfg.AnnounceStream, cfg.AnnounceSubject = "RSVPs", "announce"
	}
	h.repo = NewEventRepository(h.store, h.source, h.publisher, "zulip")
	h.d = NewDispatcher(cfg, h.repo, h.source, names, h.reporter, opts...)
	return h
}

func defaultHarness(t *testing.T, events ...*calendar.Event) *harness {
	return newHarness(t, Config{}, fakeNames{}, nil, events...)
}

func streamMsg(content string) bus.InboundMessage {
	return threadMsg(content, testStream, testSubject)
}

func threadMsg(content, stream, subject string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:     "zulip",
		Type:        bus.TypeStream,
		Content:     content,
		SenderID:    "1001",
		SenderEmail: testEmail,
		SenderName:  "Test User A",
		Stream:      stream,
		Subject:     subject,
	}
}

func privateMsg(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:     "zulip",
		Type:        bus.TypePrivate,
		Content:     content,
		SenderID:    "1001",
		SenderEmail: testEmail,
		SenderName:  "Test User A",
	}
}

func (h *harness) process(t *testing.T, msg bus.InboundMessage) []*bus.OutboundMessage {
	t.Helper()
	return h.d.Process(context.Background(), msg)
}

// bind tracks calendar event id and binds it to a thread.
func (h *harness) bind(t *testing.T, id int64, stream, subject string) *store.TrackedEvent {
	t.Helper()
	ctx := context.Background()
	ev, err := h.repo.Create(ctx, id)
	if err != nil || ev == nil {
		t.Fatalf("create %d: %v", id, err)
	}
	if err := h.repo.Update(ctx, ev, map[string]any{store.FieldStream: stream, store.FieldSubject: subject}); err != nil {
		t.Fatalf("bind %d: %v", id, err)
	}
	return ev
}

func single(t *testing.T, out []*bus.OutboundMessage) *bus.OutboundMessage {
	t.Helper()
	if len(out) != 1 || out[0] == nil {
		t.Fatalf("want exactly one reply, got %d: %+v", len(out), out)
	}
	return out[0]
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("reply %q does not contain %q", body, want)
	}
}

func assertPrivate(t *testing.T, msg *bus.OutboundMessage) {
	t.Helper()
	if msg.Type != bus.TypePrivate || msg.To != testEmail {
		t.Errorf("want private reply to %s, got %s to %q", testEmail, msg.Type, msg.To)
	}
}

func assertThread(t *testing.T, msg *bus.OutboundMessage, stream, subject string) {
	t.Helper()
	if msg.Type != bus.TypeStream || msg.To != stream || msg.Subject != subject {
		t.Errorf("want stream reply to %s > %s, got %s to %q > %q", stream, subject, msg.Type, msg.To, msg.Subject)
	}
}

func TestNonKeywordLinesAreSuppressed(t *testing.T) {
	h := defaultHarness(t)
	for _, content := range []string{"hello", "hello\nworld", "   ", "I will rsvp yes later"} {
		out := h.process(t, streamMsg(content))
		if len(out) == 0 {
			t.Errorf("%q: want at least one entry", content)
		}
		for _, msg := range out {
			if msg != nil {
				t.Errorf("%q: want suppressed reply, got %+v", content, msg)
			}
		}
	}
}

func TestInvalidCommand(t *testing.T) {
	h := defaultHarness(t)
	msg := single(t, h.process(t, streamMsg("rsvp   foo\tbar")))
	assertPrivate(t, msg)
	assertContains(t, msg.Content, "`rsvp foo bar` is not a valid RSVPBot command!")
}

func TestDecisionSynonyms(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"rsvp yes", "are attending"},
		{"rsvp YES", "are attending"},
		{"rsvp y", "are attending"},
		{"rsvp yesssss", "are attending"},
		{"rsvp yeah", "are attending"},
		{"rsvp yep", "are attending"},
		{"rsvp in", "are attending"},
		{"rsvp I'm in!", "are attending"},
		{"rsvp hell yes", "are attending"},
		{"rsvp :thumbsup:", "are attending"},
		{"rsvp :thumbs_up:", "are attending"},
		{"rsvp :+1:", "are attending"},
		{"rsvp yes no", "are attending"},
		{"rsvp no", "not attending"},
		{"rsvp n", "not attending"},
		{"rsvp nooooo", "not attending"},
		{"rsvp nope", "not attending"},
		{"rsvp nah", "not attending"},
		{"rsvp out", "not attending"},
		{"rsvp hell no", "not attending"},
		{"rsvp :thumbsdown:", "not attending"},
		{"rsvp :-1:", "not attending"},
		{"rsvp no, yes", "not attending"},
		{"rsvp maybe", "no longer supported"},
		{"rsvp yesterday", "is not a valid RSVPBot command"},
		{"rsvp nose", "is not a valid RSVPBot command"},
		{"rsvp eyes", "is not a valid RSVPBot command"},
		{"rsvp see you at the reunión", "is not a valid RSVPBot command"},
		{"rsvp 東京in", "is not a valid RSVPBot command"},
		{"rsvp çin", "is not a valid RSVPBot command"},
		{"rsvp ¡sí, yes!", "are attending"},
	}

	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			msg := single(t, h.process(t, streamMsg(tt.line)))
			assertPrivate(t, msg)
			assertContains(t, msg.Content, tt.want)
			if tt.want == "are attending" && strings.Contains(msg.Content, "not attending") {
				t.Errorf("yes resolved as no: %q", msg.Content)
			}
		})
	}
}

func TestYesIsIdempotent(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)

	for i := 0; i < 2; i++ {
		msg := single(t, h.process(t, streamMsg("rsvp yes")))
		assertContains(t, msg.Content, "are attending **Board games**")
	}
	if !h.source.isJoined(1, "1001") {
		t.Fatal("sender should be joined")
	}

	single(t, h.process(t, streamMsg("rsvp no")))
	if h.source.isJoined(1, "1001") {
		t.Fatal("sender should have left")
	}
}

func TestMultiLineKeepsOrder(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)

	out := h.process(t, streamMsg("rsvp yes\nrsvp no"))
	if len(out) != 2 || out[0] == nil || out[1] == nil {
		t.Fatalf("want two replies, got %+v", out)
	}
	assertContains(t, out[0].Content, "are attending")
	assertContains(t, out[1].Content, "not attending")
}

func TestMultiLineMixesSuppressedAndCommands(t *testing.T) {
	h := defaultHarness(t)
	out := h.process(t, streamMsg("hi all\n  rsvp   help  "))
	if len(out) != 2 {
		t.Fatalf("want two entries, got %d", len(out))
	}
	if out[0] != nil {
		t.Errorf("first line should be suppressed, got %+v", out[0])
	}
	assertContains(t, out[1].Content, "**Command**|**Description**")
}

func TestInit(t *testing.T) {
	h := defaultHarness(t, calendarEvent(123456789, "test event"))

	msg := single(t, h.process(t, streamMsg("rsvp init https://www.recurse.com/calendar/123456789-test-event")))
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "now an RSVPBot event")
	assertContains(t, msg.Content, "test event")

	msg = single(t, h.process(t, streamMsg("rsvp init 123456789")))
	assertPrivate(t, msg)
	assertContains(t, msg.Content, "already an RSVPBot event")
}

func TestInitRejections(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.InboundMessage
		want string
	}{
		{"announce thread", threadMsg("rsvp init 1", "RSVPs", "announce"), "announce thread"},
		{"no id", streamMsg("rsvp init my-event"), "must be passed an RC Calendar event ID or URL"},
		{"unsupported scheme", streamMsg("rsvp init ftp://www.recurse.com/calendar/1"), "must be passed"},
		{"unknown event", streamMsg("rsvp init 999"), "I couldn't find this event: 999"},
		{"private message", privateMsg("rsvp init 1"), "only works in a stream thread"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := defaultHarness(t, calendarEvent(1, "Board games"))
			msg := single(t, h.process(t, tt.msg))
			assertPrivate(t, msg)
			assertContains(t, msg.Content, tt.want)
			for _, ev := range h.store.all() {
				if ev.IsBound() {
					t.Errorf("event %d was bound to %s > %s", ev.ExternalID, ev.Stream, ev.Subject)
				}
			}
		})
	}
}

func TestInitAlreadyInitializedElsewhere(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, "other", "elsewhere")

	msg := single(t, h.process(t, streamMsg("rsvp init 1")))
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "already initialized here: **[#other > elsewhere](https://recurse.zulipchat.com/#narrow/stream/other/topic/elsewhere)**")

	ev, _ := h.repo.FindByExternalID(context.Background(), 1)
	if ev.Stream != "other" || ev.Subject != "elsewhere" {
		t.Errorf("event was reassigned to %s > %s", ev.Stream, ev.Subject)
	}
}

// bindOnInsertStore simulates another init binding the event to the same
// thread between the thread lookup and the insert.
type bindOnInsertStore struct {
	*memStore
	stream, subject string
}

func (s bindOnInsertStore) Insert(ctx context.Context, ev *store.TrackedEvent) error {
	winner := *ev
	winner.Stream, winner.Subject = s.stream, s.subject
	if err := s.memStore.Insert(ctx, &winner); err != nil {
		return err
	}
	return store.ErrDuplicateExternalID
}

func TestInitLosingInsertRaceOnSameThread(t *testing.T) {
	h := defaultHarness(t, calendarEvent(123456789, "test event"))
	racing := bindOnInsertStore{memStore: h.store, stream: testStream, subject: testSubject}
	h.repo = NewEventRepository(racing, h.source, h.publisher, "zulip")
	h.d = NewDispatcher(Config{ZulipSite: testSite, AnnounceStream: "RSVPs", AnnounceSubject: "announce"},
		h.repo, h.source, fakeNames{}, h.reporter)

	msg := single(t, h.process(t, streamMsg("rsvp init 123456789")))
	assertPrivate(t, msg)
	assertContains(t, msg.Content, errAlreadyAnEvent)
	if strings.Contains(msg.Content, "already initialized here") {
		t.Errorf("same-thread race reported as initialized elsewhere: %q", msg.Content)
	}
}

func TestConcurrentInitOnSameThread(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "One"), calendarEvent(2, "Two"))

	var wg sync.WaitGroup
	outs := make([][]*bus.OutboundMessage, 2)
	for i, id := range []string{"1", "2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i] = h.d.Process(context.Background(), streamMsg("rsvp init "+id))
		}()
	}
	wg.Wait()

	results := []*bus.OutboundMessage{single(t, outs[0]), single(t, outs[1])}
	var ok, conflict int
	for _, msg := range results {
		switch {
		case strings.Contains(msg.Content, "now an RSVPBot event"):
			ok++
		case strings.Contains(msg.Content, "already an RSVPBot event"):
			conflict++
		}
	}
	if ok != 1 || conflict != 1 {
		t.Errorf("want one success and one conflict, got %d/%d: %+v %+v", ok, conflict, results[0], results[1])
	}
}

func TestInitThenMoveFreesOriginalThread(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"), calendarEvent(2, "Karaoke"))
	single(t, h.process(t, streamMsg("rsvp init 1")))

	dest := NarrowURL(testSite, "social", "Board games night")
	out := h.process(t, streamMsg("rsvp move "+dest))
	if len(out) != 2 {
		t.Fatalf("want two replies, got %+v", out)
	}
	assertThread(t, out[0], testStream, testSubject)
	assertContains(t, out[0].Content, "This event has been moved to **[#social > Board games night]("+dest+")**!")
	assertThread(t, out[1], "social", "Board games night")
	assertContains(t, out[1].Content, "now an RSVPBot event")

	events := h.store.all()
	if len(events) != 1 || events[0].Stream != "social" || events[0].Subject != "Board games night" {
		t.Fatalf("store = %+v", events)
	}

	msg := single(t, h.process(t, streamMsg("rsvp init 2")))
	assertContains(t, msg.Content, "now an RSVPBot event for **[Karaoke]")
}

func TestMoveToBoundThread(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "One"), calendarEvent(2, "Two"))
	h.bind(t, 1, testStream, testSubject)
	h.bind(t, 2, "social", "taken")

	msg := single(t, h.process(t, streamMsg("rsvp move "+NarrowURL(testSite, "social", "taken"))))
	assertContains(t, msg.Content, "already an RSVPBot event")

	two, _ := h.repo.FindByExternalID(context.Background(), 2)
	if two.Stream != "social" || two.Subject != "taken" {
		t.Errorf("existing event moved to %s > %s", two.Stream, two.Subject)
	}
	one, _ := h.repo.FindByExternalID(context.Background(), 1)
	if one.Stream != testStream || one.Subject != testSubject {
		t.Errorf("moved event changed to %s > %s", one.Stream, one.Subject)
	}
}

func TestMoveBadDestination(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "One"))
	h.bind(t, 1, testStream, testSubject)

	msg := single(t, h.process(t, streamMsg("rsvp move somewhere")))
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "somewhere is not a valid move destination URL!")
}

func TestEventCommandsNeedBoundThread(t *testing.T) {
	h := defaultHarness(t)
	for _, line := range []string{"rsvp yes", "rsvp summary", "rsvp ping", "rsvp move x", "rsvp set limit 3"} {
		msg := single(t, h.process(t, streamMsg(line)))
		assertPrivate(t, msg)
		assertContains(t, msg.Content, "This thread is not an RSVPBot event!")
	}
	if h.source.joins != 0 {
		t.Error("executor ran without an event")
	}
}

func TestSummary(t *testing.T) {
	ev := calendarEvent(1, "Board games")
	ev.Description = "Bring\nyour own game"
	ev.Location = &calendar.Location{Name: "Hopper", Address: "455 Broadway"}
	capacity := 10
	ev.RSVPCapacity = &capacity
	ev.ParticipantCount = 7
	ev.Participants = []calendar.Participant{
		{ID: 1, Person: calendar.Person{Name: "Alice", ZulipID: 11}},
		{ID: 2, Person: calendar.Person{Name: "Bob", ZulipID: 12}},
	}

	h := newHarness(t, Config{}, fakeNames{"11": "Alice Z", "12": "Bob Z"}, nil, ev)
	h.bind(t, 1, testStream, testSubject)

	msg := single(t, h.process(t, streamMsg("rsvp status")))
	assertThread(t, msg, testStream, testSubject)
	for _, want := range []string{
		"**[Board games](https://www.recurse.com/calendar/1)**\t|\t\n:---:|:---:\n",
		"**What**|Bring your own game\n",
		"**When**|5:00pm–7:00pm EDT, Wednesday, May 17, 2017\n",
		"**Where**|Hopper, 455 Broadway\n",
		"**Capacity**|3/10 spots left\n",
		"**Attendees** (2)\n- Alice Z\n- Bob Z",
	} {
		assertContains(t, msg.Content, want)
	}
}

func TestSummaryHidesAnonymizedAttendees(t *testing.T) {
	ev := calendarEvent(1, "Secret meetup")
	ev.AnonymizeParticipants = true
	ev.Participants = []calendar.Participant{{Person: calendar.Person{Name: "Alice", ZulipID: 11}}}

	h := newHarness(t, Config{}, fakeNames{"11": "Alice Z"}, nil, ev)
	h.bind(t, 1, testStream, testSubject)

	msg := single(t, h.process(t, streamMsg("rsvp summary")))
	assertContains(t, msg.Content, "hidden the attendee list")
	if strings.Contains(msg.Content, "Alice") {
		t.Errorf("summary leaked attendee names: %q", msg.Content)
	}
}

func TestPing(t *testing.T) {
	ev := calendarEvent(1, "Board games")
	ev.Participants = []calendar.Participant{
		{Person: calendar.Person{ZulipID: 11}},
		{Person: calendar.Person{ZulipID: 12}},
	}
	h := newHarness(t, Config{}, fakeNames{"11": "Alice", "12": "Bob"}, nil, ev)
	h.bind(t, 1, testStream, testSubject)

	msg := single(t, h.process(t, streamMsg("rsvp ping see you there")))
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "**Pinging all participants who RSVP'd!!**\n@**Alice** @**Bob** \nsee you there")

	ev.AnonymizeParticipants = true
	msg = single(t, h.process(t, streamMsg("rsvp ping")))
	assertContains(t, msg.Content, "hidden the attendee list")
}

func TestJoinOutcomes(t *testing.T) {
	tests := []struct {
		name string
		resp calendar.JoinResult
		want string
	}{
		{"archived", calendar.JoinResult{EventArchived: true}, "has been archived"},
		{"disabled", calendar.JoinResult{RSVPsDisabled: true}, "RSVPs are disabled for **Board games**"},
		{"validation", calendar.JoinResult{Errors: []string{"guests not allowed"}}, "guests not allowed"},
		{"unexplained", calendar.JoinResult{}, "wouldn't let you RSVP"},
		{"over capacity", calendar.JoinResult{Joined: true, OverCapacity: true}, "still RSVP'd, but this event is over capacity"},
		{"past deadline", calendar.JoinResult{Joined: true, OverCapacity: true, PastDeadline: true},
			"over capacity and the RSVP deadline has passed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := defaultHarness(t, calendarEvent(1, "Board games"))
			h.bind(t, 1, testStream, testSubject)
			resp := tt.resp
			h.source.joinResp = &resp

			msg := single(t, h.process(t, streamMsg("rsvp yes")))
			assertPrivate(t, msg)
			assertContains(t, msg.Content, tt.want)
			if tt.resp.Joined {
				assertContains(t, msg.Content, "are attending")
			}
		})
	}
}

func TestFunkyDecoration(t *testing.T) {
	h := newHarness(t, Config{}, fakeNames{}, []Option{WithRand(rand.New(lowSource{}))}, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)

	out := h.process(t, streamMsg("rsvp yes\nrsvp no"))
	if got, want := out[0].Content, "GET EXCITED!! **You** are attending **Board games**!"; got != want {
		t.Errorf("yes = %q, want %q", got, want)
	}
	if got, want := out[1].Content, "You are **not** attending **Board games**! :confounded:"; got != want {
		t.Errorf("no = %q, want %q", got, want)
	}
}

func TestFunctionalityMovedStubs(t *testing.T) {
	tests := []struct {
		line string
		name string
	}{
		{"rsvp cancel", "cancel"},
		{"rsvp set limit 10", "set limit"},
		{"rsvp set date tomorrow", "set date"},
		{"rsvp set time 10:30", "set time"},
		{"rsvp set time allday", "set time allday"},
		{"rsvp set duration 1h", "set duration"},
		{"rsvp set location Hopper", "set location"},
		{"rsvp set place Hopper", "set place"},
		{"rsvp set description bring snacks", "set description"},
	}
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			msg := single(t, h.process(t, streamMsg(tt.line)))
			assertThread(t, msg, testStream, testSubject)
			assertContains(t, msg.Content, "doesn't support `rsvp "+tt.name+"` directly anymore")
			assertContains(t, msg.Content, "(https://www.recurse.com/calendar/1)")
		})
	}

	msg := single(t, h.process(t, streamMsg("rsvp add to calendar")))
	assertContains(t, msg.Content, "no longer uses Google Calendar")
}

func TestHelpAndCreditsArePrivate(t *testing.T) {
	h := defaultHarness(t)

	msg := single(t, h.process(t, streamMsg("rsvp help")))
	assertPrivate(t, msg)
	assertContains(t, msg.Content, "**Command**|**Description**")
	if strings.Contains(msg.Content, "## Commands") {
		t.Error("help should only contain the commands section")
	}

	msg = single(t, h.process(t, streamMsg("rsvp credits")))
	assertPrivate(t, msg)
	assertContains(t, msg.Content, "Carlos Rey")
}

func TestCustomKeyword(t *testing.T) {
	h := newHarness(t, Config{KeyWord: "rsvp-dev"}, fakeNames{}, nil)

	msg := single(t, h.process(t, streamMsg("RSVP-DEV help")))
	assertContains(t, msg.Content, "`rsvp-dev yes`")

	if out := h.process(t, streamMsg("rsvp help")); out[0] != nil {
		t.Errorf("other keyword should be ignored, got %+v", out[0])
	}
}

func TestPrivateOriginRepliesPrivately(t *testing.T) {
	h := defaultHarness(t)
	msg := single(t, h.process(t, privateMsg("rsvp help")))
	assertPrivate(t, msg)

	origin := privateMsg("rsvp x")
	if out := address(origin, streamReply("hi")); out.Type != bus.TypePrivate || out.To != testEmail {
		t.Errorf("stream reply to private message = %+v", out)
	}
	out := address(origin, &Reply{Kind: ReplyStream, Body: "hi", ToStream: "social", ToSubject: "t"})
	if out.Type != bus.TypeStream || out.To != "social" || out.Subject != "t" {
		t.Errorf("explicit thread reply = %+v", out)
	}
}

func TestUpstreamFailureBecomesReply(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)
	h.source.err = &calendar.APIError{Method: "GET", Path: "/events/1", StatusCode: 502}

	msg := single(t, h.process(t, streamMsg("rsvp summary")))
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "Something went wrong talking to the calendar")
	if len(h.reporter.errs) != 1 {
		t.Errorf("reported %d errors, want 1", len(h.reporter.errs))
	}
}

func TestCommandTimeoutBecomesReply(t *testing.T) {
	h := newHarness(t, Config{CommandTimeout: 50 * time.Millisecond}, fakeNames{}, nil, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)
	h.source.blockJoin = true

	start := time.Now()
	msg := single(t, h.process(t, streamMsg("rsvp yes")))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("command ran for %s despite a 50ms timeout", elapsed)
	}
	assertThread(t, msg, testStream, testSubject)
	assertContains(t, msg.Content, "Something went wrong talking to the calendar")
	if len(h.reporter.errs) != 1 || !errors.Is(h.reporter.errs[0], context.DeadlineExceeded) {
		t.Errorf("reported errors = %v, want one deadline error", h.reporter.errs)
	}
}

// threadLookupFailingStore fails thread lookups the way a dropped database
// connection does.
type threadLookupFailingStore struct {
	*memStore
}

func (threadLookupFailingStore) GetByThread(context.Context, string, string) (*store.TrackedEvent, error) {
	return nil, &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
}

func TestStoreNetworkFailureIsInternalError(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.repo = NewEventRepository(threadLookupFailingStore{h.store}, h.source, h.publisher, "zulip")
	h.d = NewDispatcher(Config{ZulipSite: testSite, AnnounceStream: "RSVPs", AnnounceSubject: "announce"},
		h.repo, h.source, fakeNames{}, h.reporter)

	msg := single(t, h.process(t, streamMsg("rsvp summary")))
	assertContains(t, msg.Content, "internal error")
	if strings.Contains(msg.Content, "calendar") {
		t.Errorf("store failure blamed on the calendar: %q", msg.Content)
	}
	if len(h.reporter.errs) != 1 {
		t.Errorf("reported %d errors, want 1", len(h.reporter.errs))
	}
}

func TestPanicBecomesInternalErrorReply(t *testing.T) {
	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)
	h.source.panicMsg = "boom"

	out := h.process(t, streamMsg("rsvp summary\nrsvp help"))
	if len(out) != 2 {
		t.Fatalf("want two replies, got %d", len(out))
	}
	assertContains(t, out[0].Content, "internal error")
	assertContains(t, out[1].Content, "**Command**")
	if len(h.reporter.errs) != 1 {
		t.Errorf("reported %d errors, want 1", len(h.reporter.errs))
	}
}

func TestRefreshAnnouncesChanges(t *testing.T) {
	ev := calendarEvent(1, "Board games")
	h := defaultHarness(t, ev)
	h.bind(t, 1, testStream, testSubject)

	ev.Title = "Board games (moved to Friday)"
	ev.StartTime = ev.StartTime.Add(48 * time.Hour)
	ev.EndTime = ev.EndTime.Add(48 * time.Hour)
	single(t, h.process(t, streamMsg("rsvp summary")))

	if len(h.publisher.msgs) != 1 {
		t.Fatalf("published %d notices, want 1", len(h.publisher.msgs))
	}
	notice := h.publisher.msgs[0]
	if notice.To != testStream || notice.Subject != testSubject {
		t.Errorf("notice sent to %s > %s", notice.To, notice.Subject)
	}
	assertContains(t, notice.Content, "**This event has changed!**\nThe title has changed: Board games (moved to Friday)")
	assertContains(t, notice.Content, "The time has changed: 5:00pm–7:00pm EDT, Friday, May 19, 2017")

	stored, _ := h.repo.FindByExternalID(context.Background(), 1)
	if stored.Title != ev.Title {
		t.Errorf("stored title = %q", stored.Title)
	}
}

func TestCommandOrder(t *testing.T) {
	cmds := NewCommands("rsvp")
	if last := cmds[len(cmds)-1]; last.Kind != KindConfirm {
		t.Fatalf("last command = %s, want confirm", last.Name)
	}

	h := defaultHarness(t, calendarEvent(1, "Board games"))
	h.bind(t, 1, testStream, testSubject)
	msg := single(t, h.process(t, streamMsg("rsvp ping yes please")))
	assertContains(t, msg.Content, "Pinging all participants")
}
