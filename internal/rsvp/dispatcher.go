// Package rsvp routes chat messages to RSVPBot commands and builds the replies.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

const (
	DefaultKeyWord        = "rsvp"
	DefaultCommandTimeout = 15 * time.Second
	funkyOdds             = 10
)

var tracer = otel.Tracer("rsvpbot/rsvp")

var whitespaceRun = regexp.MustCompile(`\s+`)

// Config holds the host-provided settings of a Dispatcher.
type Config struct {
	KeyWord         string
	AnnounceStream  string
	AnnounceSubject string
	// ZulipSite is used to build thread links, e.g. https://recurse.zulipchat.com.
	ZulipSite      string
	CommandTimeout time.Duration
}

// Call is the per-command dispatch context.
type Call struct {
	Command     Command
	Line        string
	SenderID    string
	SenderEmail string
	SenderName  string
	Stream      string
	Subject     string
	Args        map[string]string
	// Event and Snapshot are set for commands that need an event.
	Event    *store.TrackedEvent
	Snapshot *calendar.Event
}

type executor func(ctx context.Context, call *Call) ([]*Reply, error)

// Dispatcher turns inbound messages into replies. It is safe for concurrent use.
type Dispatcher struct {
	cfg       Config
	commands  []Command
	executors map[Kind]executor

	repo     Repository
	source   Source
	names    NameResolver
	reporter ErrorReporter

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRand sets the random source used for cosmetic reply decoration.
func WithRand(r *rand.Rand) Option {
	return func(d *Dispatcher) { d.rand = r }
}

func NewDispatcher(cfg Config, repo Repository, source Source, names NameResolver, reporter ErrorReporter, opts ...Option) *Dispatcher {
	if cfg.KeyWord == "" {
		cfg.KeyWord = DefaultKeyWord
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	d := &Dispatcher{
		cfg:      cfg,
		commands: NewCommands(cfg.KeyWord),
		repo:     repo,
		source:   source,
		names:    names,
		reporter: reporter,
	}
	d.executors = map[Kind]executor{
		KindInit:            d.execInit,
		KindHelp:            d.execHelp,
		KindMove:            d.execMove,
		KindSummary:         d.execSummary,
		KindPing:            d.execPing,
		KindCredits:         d.execCredits,
		KindMoved:           d.execMoved,
		KindCalendarRetired: d.execCalendarRetired,
		KindConfirm:         d.execConfirm,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process routes every line of msg and returns the replies in line order.
// Nil entries are suppressed replies and must not be sent.
func (d *Dispatcher) Process(ctx context.Context, msg bus.InboundMessage) []*bus.OutboundMessage {
	ctx, span := tracer.Start(ctx, "rsvp.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("rsvp.type", msg.Type),
		attribute.String("rsvp.stream", msg.Stream),
		attribute.String("rsvp.subject", msg.Subject),
	)

	var out []*bus.OutboundMessage
	for _, line := range normalizeLines(msg.Content) {
		for _, r := range d.routeLine(ctx, msg, line) {
			out = append(out, address(msg, r))
		}
	}
	return out
}

// normalizeLines trims every line and collapses whitespace runs.
func normalizeLines(content string) []string {
	raw := strings.Split(strings.TrimSpace(content), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, whitespaceRun.ReplaceAllString(strings.TrimSpace(l), " "))
	}
	return lines
}

func (d *Dispatcher) routeLine(ctx context.Context, msg bus.InboundMessage, line string) []*Reply {
	if !hasPrefixFold(line, d.cfg.KeyWord) {
		return []*Reply{nil}
	}

	for _, cmd := range d.commands {
		args, ok := cmd.Match(line)
		if !ok {
			continue
		}
		call := &Call{
			Command:     cmd,
			Line:        line,
			SenderID:    msg.SenderID,
			SenderEmail: msg.SenderEmail,
			SenderName:  msg.SenderName,
			Stream:      msg.Stream,
			Subject:     msg.Subject,
			Args:        args,
		}
		return d.run(ctx, msg, call)
	}
	return []*Reply{privateReply(fmt.Sprintf(errInvalidCommand, line, d.cfg.KeyWord))}
}

// run resolves the event if needed and invokes the executor. Failures become replies.
func (d *Dispatcher) run(ctx context.Context, msg bus.InboundMessage, call *Call) (replies []*Reply) {
	ctx, span := tracer.Start(ctx, "rsvp.command")
	defer span.End()
	span.SetAttributes(attribute.String("rsvp.command", call.Command.Name))

	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic in %s: %v", call.Command.Name, p)
			span.SetStatus(codes.Error, err.Error())
			d.reporter.Report(ctx, err, msg, call.Line)
			replies = []*Reply{streamReply(errInternal)}
		}
	}()

	replies, err := d.execute(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.reporter.Report(ctx, err, msg, call.Line)
		if isUpstream(err) {
			return []*Reply{streamReply(errUpstream)}
		}
		return []*Reply{streamReply(errInternal)}
	}
	slog.Debug("rsvp command handled", "command", call.Command.Name, "stream", call.Stream, "subject", call.Subject, "replies", len(replies))
	return replies
}

func (d *Dispatcher) execute(ctx context.Context, call *Call) ([]*Reply, error) {
	if call.Command.NeedsEvent {
		ev, err := d.repo.FindByThread(ctx, call.Stream, call.Subject)
		if err != nil {
			return nil, fmt.Errorf("find event for thread: %w", err)
		}
		if ev == nil {
			return []*Reply{privateReply(fmt.Sprintf(errNotAnEvent, d.cfg.KeyWord))}, nil
		}
		snap, err := d.repo.Refresh(ctx, ev, call.Command.NeedsParticipants)
		if err != nil {
			return nil, err
		}
		call.Event, call.Snapshot = ev, snap
	}

	exec, ok := d.executors[call.Command.Kind]
	if !ok {
		return nil, fmt.Errorf("no executor for command %q", call.Command.Name)
	}
	return exec(ctx, call)
}

// isUpstream reports whether err came from talking to the calendar.
func isUpstream(err error) bool {
	var apiErr *calendar.APIError
	return errors.As(err, &apiErr) ||
		errors.Is(err, calendar.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrSourceEventMissing)
}

// funky reports, with 1-in-10 odds, whether to decorate a reply, and picks an index below n.
func (d *Dispatcher) funky(n int) (int, bool) {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	intN := rand.IntN
	if d.rand != nil {
		intN = d.rand.IntN
	}
	if intN(funkyOdds) != 0 {
		return 0, false
	}
	return intN(n), true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
