package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // event timezones must resolve on hosts without zoneinfo
)

// Person is a calendar user. ZulipID is the chat user id, used as the opaque
// participant reference for name lookups.
type Person struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ZulipID int64  `json:"zulip_id"`
}

// Participant is one RSVP on an event.
type Participant struct {
	ID                int64  `json:"id"`
	ParticipantNumber int    `json:"participant_number"`
	Person            Person `json:"person"`
}

// Location is where an event takes place.
type Location struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
}

// String renders the location on one line.
func (l *Location) String() string {
	parts := []string{l.Name}
	for _, p := range []string{l.Address, l.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Event is the calendar's authoritative view of an event.
// Participants is only populated when requested.
type Event struct {
	ID                    int64         `json:"id"`
	Title                 string        `json:"title"`
	Description           string        `json:"description,omitempty"`
	URL                   string        `json:"url"`
	Timezone              string        `json:"timezone"`
	CreatedAt             time.Time     `json:"created_at"`
	StartTime             time.Time     `json:"start_time"`
	EndTime               time.Time     `json:"end_time"`
	RSVPCapacity          *int          `json:"rsvp_capacity,omitempty"`
	RSVPDeadline          *time.Time    `json:"rsvp_deadline,omitempty"`
	Archived              bool          `json:"archived"`
	AnonymizeParticipants bool          `json:"anonymize_participants"`
	ParticipantCount      int           `json:"participant_count"`
	CreatedBy             Person        `json:"created_by"`
	Location              *Location     `json:"location,omitempty"`
	Participants          []Participant `json:"participants,omitempty"`
}

// loadLocation resolves an IANA zone name, falling back to UTC when unknown.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Timestamp renders the event time in its own timezone,
// e.g. "5:00pm–7:00pm EDT, Wednesday, May 17, 2017".
func (e *Event) Timestamp() string {
	return FormatTimestamp(e.StartTime, e.EndTime, e.Timezone)
}

// FormatDeadline renders the RSVP deadline in the event timezone, or "" when none is set.
func (e *Event) FormatDeadline() string {
	if e.RSVPDeadline == nil {
		return ""
	}
	return e.RSVPDeadline.In(loadLocation(e.Timezone)).Format("3:04pm MST, Monday, Jan 2, 2006")
}

// SpotsLeft returns remaining capacity and ok=false when the event has no capacity limit.
func (e *Event) SpotsLeft() (left, capacity int, ok bool) {
	if e.RSVPCapacity == nil {
		return 0, 0, false
	}
	return *e.RSVPCapacity - e.ParticipantCount, *e.RSVPCapacity, true
}

// ParticipantRefs returns the chat user ids of all participants as strings, in list order.
func (e *Event) ParticipantRefs() []string {
	refs := make([]string, 0, len(e.Participants))
	for _, p := range e.Participants {
		refs = append(refs, fmt.Sprintf("%d", p.Person.ZulipID))
	}
	return refs
}

// FormatTimestamp renders a start/end pair in the named timezone.
func FormatTimestamp(start, end time.Time, timezone string) string {
	loc := loadLocation(timezone)
	start, end = start.In(loc), end.In(loc)
	return fmt.Sprintf("%s–%s %s, %s",
		start.Format("3:04pm"),
		end.Format("3:04pm"),
		start.Format("MST"),
		start.Format("Monday, Jan 2, 2006"),
	)
}

// JoinResult is the outcome of a join request. Joined is false when the
// calendar refused the RSVP; the flags explain why. OverCapacity and
// PastDeadline may also be set on a successful join.
type JoinResult struct {
	Joined        bool     `json:"joined"`
	RSVPsDisabled bool     `json:"rsvps_disabled"`
	EventArchived bool     `json:"event_archived"`
	OverCapacity  bool     `json:"over_capacity"`
	PastDeadline  bool     `json:"past_deadline"`
	Errors        []string `json:"errors,omitempty"`
}

// ErrUnavailable wraps transport failures (DNS, refused or dropped
// connections, client timeouts) talking to the calendar.
var ErrUnavailable = errors.New("calendar unavailable")

// APIError is returned for unexpected HTTP responses from the calendar.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
