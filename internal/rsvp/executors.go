package rsvp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/rsvpbot/internal/store"
)

func (d *Dispatcher) execInit(ctx context.Context, call *Call) ([]*Reply, error) {
	kw := d.cfg.KeyWord
	if call.Stream == "" || call.Subject == "" {
		return []*Reply{privateReply(fmt.Sprintf(errInitNeedsThread, kw))}, nil
	}
	if strings.EqualFold(call.Stream, d.cfg.AnnounceStream) && strings.EqualFold(call.Subject, d.cfg.AnnounceSubject) {
		return []*Reply{privateReply(fmt.Sprintf(errCannotInitInAnnounce, kw))}, nil
	}

	existing, err := d.repo.FindByThread(ctx, call.Stream, call.Subject)
	if err != nil {
		return nil, fmt.Errorf("find event for thread: %w", err)
	}
	if existing != nil {
		return []*Reply{privateReply(errAlreadyAnEvent)}, nil
	}

	input := call.Args[argIDOrURL]
	id, ok := extractID(input)
	if !ok {
		return []*Reply{privateReply(fmt.Sprintf(errNoEventID, kw))}, nil
	}

	ev, err := d.repo.FindByExternalID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find event %d: %w", id, err)
	}
	if ev == nil {
		if ev, err = d.repo.Create(ctx, id); err != nil {
			return nil, err
		}
		if ev == nil {
			return []*Reply{privateReply(fmt.Sprintf(errEventNotFound, input))}, nil
		}
	} else if _, err := d.repo.Refresh(ctx, ev, false); err != nil {
		return nil, err
	}

	if ev.IsBound() {
		if ev.Stream == call.Stream && ev.Subject == call.Subject {
			// A concurrent init bound it here between the lookup and the insert.
			return []*Reply{privateReply(errAlreadyAnEvent)}, nil
		}
		link := ThreadLink(d.cfg.ZulipSite, ev.Stream, ev.Subject)
		return []*Reply{streamReply(fmt.Sprintf(errEventAlreadyInitialized, link))}, nil
	}

	err = d.repo.Update(ctx, ev, map[string]any{
		store.FieldStream:  call.Stream,
		store.FieldSubject: call.Subject,
	})
	if errors.Is(err, store.ErrThreadTaken) {
		return []*Reply{privateReply(errAlreadyAnEvent)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bind event %d: %w", id, err)
	}
	return []*Reply{streamReply(fmt.Sprintf(msgInitSuccessful, ev.Title, ev.URL, kw))}, nil
}

func (d *Dispatcher) execMove(ctx context.Context, call *Call) ([]*Reply, error) {
	destination := call.Args[argDestination]
	stream, topic, ok := ParseNarrowURL(destination)
	if !ok {
		return []*Reply{streamReply(fmt.Sprintf(errBadMoveDestination, destination, d.cfg.KeyWord, exampleNarrowURL))}, nil
	}
	conflict := streamReply(fmt.Sprintf(errMoveAlreadyAnEvent, stream, topic))

	occupant, err := d.repo.FindByThread(ctx, stream, topic)
	if err != nil {
		return nil, fmt.Errorf("find event for destination: %w", err)
	}
	if occupant != nil && occupant.ID != call.Event.ID {
		return []*Reply{conflict}, nil
	}

	if occupant == nil {
		err = d.repo.Update(ctx, call.Event, map[string]any{
			store.FieldStream:  stream,
			store.FieldSubject: topic,
		})
		if errors.Is(err, store.ErrThreadTaken) {
			return []*Reply{conflict}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("move event %d: %w", call.Event.ExternalID, err)
		}
	}

	ev := call.Event
	return []*Reply{
		streamReply(fmt.Sprintf(msgEventMoved, stream, topic, destination)),
		{
			Kind:      ReplyStream,
			Body:      fmt.Sprintf(msgInitSuccessful, ev.Title, ev.URL, d.cfg.KeyWord),
			ToStream:  stream,
			ToSubject: topic,
		},
	}, nil
}

const exampleNarrowURL = "https://recurse.zulipchat.com/#narrow/stream/announce/topic/All.20Hands.20Meeting"

func (d *Dispatcher) execConfirm(ctx context.Context, call *Call) ([]*Reply, error) {
	title := call.Event.Title

	switch {
	case call.Args[argYes] != "":
		res, err := d.source.Join(ctx, call.Event.ExternalID, call.SenderID)
		if err != nil {
			return nil, fmt.Errorf("join event %d: %w", call.Event.ExternalID, err)
		}
		if !res.Joined {
			return []*Reply{privateReply(joinRefusal(title, res.EventArchived, res.RSVPsDisabled, res.Errors))}, nil
		}
		body := fmt.Sprintf(msgAttending, title)
		if i, ok := d.funky(len(funkyYesPrefixes)); ok {
			body = funkyYesPrefixes[i] + body
		}
		var caveats []string
		if res.OverCapacity {
			caveats = append(caveats, "this event is over capacity")
		}
		if res.PastDeadline {
			caveats = append(caveats, "the RSVP deadline has passed")
		}
		if len(caveats) > 0 {
			body += fmt.Sprintf(msgStillJoined, strings.Join(caveats, " and "))
		}
		return []*Reply{privateReply(body)}, nil

	case call.Args[argNo] != "":
		if err := d.source.Leave(ctx, call.Event.ExternalID, call.SenderID); err != nil {
			return nil, fmt.Errorf("leave event %d: %w", call.Event.ExternalID, err)
		}
		body := fmt.Sprintf(msgNotAttending, title)
		if i, ok := d.funky(len(funkyNoSuffixes)); ok {
			body += funkyNoSuffixes[i]
		}
		return []*Reply{privateReply(body)}, nil

	default:
		return []*Reply{privateReply(fmt.Sprintf(errMaybeNotSupported, d.cfg.KeyWord))}, nil
	}
}

func joinRefusal(title string, archived, disabled bool, reasons []string) string {
	switch {
	case archived:
		return fmt.Sprintf(errJoinArchived, title)
	case disabled:
		return fmt.Sprintf(errJoinDisabled, title)
	case len(reasons) > 0:
		return fmt.Sprintf(errJoinRefused, title, strings.Join(reasons, "; "))
	default:
		return fmt.Sprintf(errJoinRefusedRaw, title)
	}
}

func (d *Dispatcher) execSummary(ctx context.Context, call *Call) ([]*Reply, error) {
	snap := call.Snapshot
	var b strings.Builder

	fmt.Fprintf(&b, "**[%s](%s)**\t|\t\n:---:|:---:\n", snap.Title, snap.URL)
	if desc := strings.TrimSpace(snap.Description); desc != "" {
		fmt.Fprintf(&b, "**What**|%s\n", whitespaceRun.ReplaceAllString(desc, " "))
	}
	fmt.Fprintf(&b, "**When**|%s\n", snap.Timestamp())
	if snap.Location != nil && snap.Location.Name != "" {
		fmt.Fprintf(&b, "**Where**|%s\n", snap.Location.String())
	}
	if left, capacity, ok := snap.SpotsLeft(); ok {
		fmt.Fprintf(&b, "**Capacity**|%d/%d spots left\n", left, capacity)
	}
	if deadline := snap.FormatDeadline(); deadline != "" {
		fmt.Fprintf(&b, "**RSVP Deadline**|%s\n", deadline)
	}

	b.WriteString("\n")
	if snap.AnonymizeParticipants {
		b.WriteString(errAttendeesHidden)
		return []*Reply{streamReply(b.String())}, nil
	}

	names, err := d.names.NamesFor(ctx, snap.ParticipantRefs())
	if err != nil {
		return nil, fmt.Errorf("resolve attendee names: %w", err)
	}
	fmt.Fprintf(&b, "**Attendees** (%d)\n", len(names))
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return []*Reply{streamReply(strings.TrimRight(b.String(), "\n"))}, nil
}

func (d *Dispatcher) execPing(ctx context.Context, call *Call) ([]*Reply, error) {
	snap := call.Snapshot
	if snap.AnonymizeParticipants {
		return []*Reply{streamReply(errAttendeesHidden)}, nil
	}

	names, err := d.names.NamesFor(ctx, snap.ParticipantRefs())
	if err != nil {
		return nil, fmt.Errorf("resolve participant names: %w", err)
	}

	var b strings.Builder
	b.WriteString(msgPingHeader)
	for _, name := range names {
		fmt.Fprintf(&b, "@**%s** ", name)
	}
	if message := call.Args[argMessage]; message != "" {
		b.WriteString("\n" + message)
	}
	return []*Reply{streamReply(b.String())}, nil
}

func (d *Dispatcher) execHelp(_ context.Context, _ *Call) ([]*Reply, error) {
	return []*Reply{privateReply(helpText(d.cfg.KeyWord))}, nil
}

func (d *Dispatcher) execCredits(_ context.Context, _ *Call) ([]*Reply, error) {
	var b strings.Builder
	b.WriteString("The RSVPBot was created by @**Carlos Rey (SP2'15)**\nWith **contributions** from:\n\n")
	b.WriteString(strings.Join(contributors, "\n "))
	b.WriteString("\n\n and invaluable test feedback from:\n\n")
	b.WriteString(strings.Join(testers, "\n "))
	b.WriteString("\n\nThe code for **RSVPBot** is available at https://github.com/kokeshii/RSVPBot")
	return []*Reply{privateReply(b.String())}, nil
}

// execMoved answers every subcommand whose functionality now lives on the calendar itself.
func (d *Dispatcher) execMoved(_ context.Context, call *Call) ([]*Reply, error) {
	body := fmt.Sprintf(errFunctionalityMoved, d.cfg.KeyWord, call.Command.Name, call.Event.URL)
	return []*Reply{streamReply(body)}, nil
}

func (d *Dispatcher) execCalendarRetired(_ context.Context, call *Call) ([]*Reply, error) {
	return []*Reply{streamReply(fmt.Sprintf(errCalendarNoLongerUsed, call.Event.URL))}, nil
}
