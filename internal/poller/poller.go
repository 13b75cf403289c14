// Package poller discovers newly created calendar events, starts tracking them
// and announces them in the announce thread.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/rsvp"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

const (
	DefaultSchedule     = "* * * * *"
	DefaultLookbackDays = 60
)

const msgAnnounce = "**[%s](%s)**\n%s\nCreated by %s\n\nTo start an RSVPBot thread for this event:\n```%s init %s```"

var tracer = otel.Tracer("rsvpbot/poller")

// Lister is the calendar query the poller needs.
type Lister interface {
	ListEvents(ctx context.Context, createdAtOrAfter time.Time) ([]calendar.Event, error)
}

// Config configures a Poller.
type Config struct {
	Schedule        string // cron expression
	LookbackDays    int    // window used when nothing is tracked yet
	KeyWord         string
	Channel         string // bus channel for announcements
	AnnounceStream  string
	AnnounceSubject string
	// DryRun announces what would be tracked without writing to the store.
	DryRun bool
}

// Poller runs one discovery pass per cron tick.
type Poller struct {
	cfg       Config
	store     store.EventStore
	source    Lister
	publisher bus.Publisher
	now       func() time.Time
}

// New validates the schedule and creates a Poller.
func New(cfg Config, st store.EventStore, source Lister, publisher bus.Publisher) (*Poller, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid poller schedule %q", cfg.Schedule)
	}
	return &Poller{cfg: cfg, store: st, source: source, publisher: publisher, now: time.Now}, nil
}

// Run polls on every schedule tick until ctx is done. Pass errors are logged
// and the loop carries on.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller started", "schedule", p.cfg.Schedule)
	for {
		next, err := gronx.NextTickAfter(p.cfg.Schedule, p.now(), false)
		if err != nil {
			return fmt.Errorf("poller schedule: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("poller stopped")
			return nil
		case <-timer.C:
		}

		if n, err := p.PollOnce(ctx); err != nil {
			slog.Error("poll failed", "error", err)
		} else if n > 0 {
			slog.Info("poll tracked new events", "count", n)
		}
	}
}

// PollOnce tracks and announces future events created since the newest tracked
// one. It returns how many events it started tracking, or would have in a dry run.
func (p *Poller) PollOnce(ctx context.Context) (tracked int, err error) {
	ctx, span := tracer.Start(ctx, "poller.poll")
	defer func() {
		span.SetAttributes(attribute.Int("poller.tracked", tracked), attribute.Bool("poller.dry_run", p.cfg.DryRun))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := p.now()
	since, ok, err := p.store.LatestCreatedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest created_at: %w", err)
	}
	if !ok {
		since = now.AddDate(0, 0, -p.cfg.LookbackDays)
	}

	events, err := p.source.ListEvents(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}

	var future []calendar.Event
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		if ev.StartTime.After(now) {
			future = append(future, ev)
			ids = append(ids, ev.ID)
		}
	}
	if len(future) == 0 {
		return 0, nil
	}

	known, err := p.store.KnownExternalIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("known external ids: %w", err)
	}

	var errs []error
	for i := range future {
		ev := &future[i]
		if known[ev.ID] {
			continue
		}
		if p.cfg.DryRun {
			tracked++
			p.announce(ev)
			continue
		}
		if err := p.store.Insert(ctx, rsvp.TrackedFromSnapshot(ev)); err != nil {
			if errors.Is(err, store.ErrDuplicateExternalID) {
				slog.Debug("event tracked concurrently, skipping", "external_id", ev.ID)
				continue
			}
			errs = append(errs, fmt.Errorf("insert event %d: %w", ev.ID, err))
			continue
		}
		tracked++
		p.announce(ev)
	}
	return tracked, errors.Join(errs...)
}

func (p *Poller) announce(ev *calendar.Event) {
	if p.publisher == nil || p.cfg.AnnounceStream == "" {
		return
	}
	p.publisher.PublishOutbound(bus.OutboundMessage{
		Channel: p.cfg.Channel,
		Type:    bus.TypeStream,
		To:      p.cfg.AnnounceStream,
		Subject: p.cfg.AnnounceSubject,
		Content: Announcement(ev, p.cfg.KeyWord),
	})
}

// Announcement renders the announce-thread post for a newly tracked event.
func Announcement(ev *calendar.Event, keyword string) string {
	return fmt.Sprintf(msgAnnounce, ev.Title, ev.URL, ev.Timestamp(), ev.CreatedBy.Name, keyword, ev.URL)
}
