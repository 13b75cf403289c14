package rsvp

import (
	"regexp"
)

// Kind identifies the executor a command routes to.
type Kind int

const (
	KindInit Kind = iota
	KindHelp
	KindMove
	KindSummary
	KindPing
	KindCredits
	KindMoved           // subcommands now handled by the calendar itself
	KindCalendarRetired // "add to calendar"
	KindConfirm
)

// Capture group names forwarded to executors.
const (
	argIDOrURL     = "id_or_url"
	argDestination = "destination"
	argMessage     = "message"
	argYes         = "yes_decision"
	argNo          = "no_decision"
	argMaybe       = "maybe_decision"
)

// nonWord is the Unicode complement of a word character. Go's \W is ASCII-only,
// which would let "reunión" end in a standalone "n".
const nonWord = `[^\p{L}\p{M}\p{N}_]`

const decisionPattern = `(?:.*?` + nonWord + `)??(?:` +
	`(?P<yes_decision>ye(?:s+?)|yea(?:h+?)|in|yep|ya(?:s+?)|:thumbs_?up:|y|:\+1:)|` +
	`(?P<no_decision>n(?:o+?)|out|nope|na(?:h+?)|:thumbs_?down:|n|:-1:)|` +
	`(?P<maybe_decision>maybe)` +
	`)(?:` + nonWord + `|$)`

// Command is one entry of the ordered routing table.
type Command struct {
	Kind Kind
	// Name is the subcommand as users type it, e.g. "set limit".
	Name string
	// Pattern matches a whole normalized line, keyword included.
	Pattern *regexp.Regexp
	// NeedsEvent commands only run in a thread bound to a tracked event.
	NeedsEvent bool
	// NeedsParticipants asks the event refresh to include the participant list.
	NeedsParticipants bool
}

type definition struct {
	kind         Kind
	name         string
	body         string
	needsEvent   bool
	participants bool
}

// Declaration order is the match order. Confirm must stay last: its pattern
// accepts any line containing a standalone decision word.
var definitions = []definition{
	{kind: KindInit, name: "init", body: `init (?P<id_or_url>.+)`},
	{kind: KindHelp, name: "help", body: `help$`},
	{kind: KindMove, name: "move", body: `move (?P<destination>.+)$`, needsEvent: true},
	{kind: KindSummary, name: "summary", body: `(?:summary|status)$`, needsEvent: true, participants: true},
	{kind: KindPing, name: "ping", body: `ping(?: (?P<message>.+))?$`, needsEvent: true, participants: true},
	{kind: KindCredits, name: "credits", body: `credits$`},

	{kind: KindMoved, name: "cancel", body: `cancel$`, needsEvent: true},
	{kind: KindMoved, name: "set limit", body: `set limit (?P<limit>\d+)$`, needsEvent: true},
	{kind: KindMoved, name: "set date", body: `set date (?P<date>.*)$`, needsEvent: true},
	{kind: KindMoved, name: "set time", body: `set time (?P<hours>\d{1,2}):(?P<minutes>\d{1,2})$`, needsEvent: true},
	{kind: KindMoved, name: "set time allday", body: `set time allday$`, needsEvent: true},
	{kind: KindMoved, name: "set duration", body: `set duration (?P<duration>.+)$`, needsEvent: true},
	{kind: KindMoved, name: "set location", body: `set location (?P<location>.+)$`, needsEvent: true},
	{kind: KindMoved, name: "set place", body: `set place (?P<place>.+)$`, needsEvent: true},
	{kind: KindMoved, name: "set description", body: `set description (?P<description>.+)$`, needsEvent: true},

	{kind: KindCalendarRetired, name: "add to calendar", body: `add to calendar$`, needsEvent: true},

	{kind: KindConfirm, name: "confirm", body: decisionPattern, needsEvent: true},
}

// NewCommands compiles the routing table for the given invocation keyword.
// Patterns are case-insensitive and let "." span newlines.
func NewCommands(keyword string) []Command {
	prefix := `(?is)^` + regexp.QuoteMeta(keyword) + ` `
	cmds := make([]Command, 0, len(definitions))
	for _, d := range definitions {
		cmds = append(cmds, Command{
			Kind:              d.kind,
			Name:              d.name,
			Pattern:           regexp.MustCompile(prefix + d.body),
			NeedsEvent:        d.needsEvent,
			NeedsParticipants: d.participants,
		})
	}
	return cmds
}

// Match reports whether line matches and returns the named groups that took part in the match.
func (c Command) Match(line string) (map[string]string, bool) {
	loc := c.Pattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, false
	}
	args := make(map[string]string)
	for i, name := range c.Pattern.SubexpNames() {
		if name == "" || loc[2*i] < 0 {
			continue
		}
		args[name] = line[loc[2*i]:loc[2*i+1]]
	}
	return args, true
}
