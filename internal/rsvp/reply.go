package rsvp

import "github.com/nextlevelbuilder/rsvpbot/internal/bus"

// ReplyKind selects where a reply goes when it has no explicit target.
type ReplyKind int

const (
	// ReplyStream answers in the originating thread.
	ReplyStream ReplyKind = iota
	// ReplyPrivate answers the sender directly.
	ReplyPrivate
)

// Reply is a transport-agnostic outbound message. A nil *Reply means
// "nothing to send" and is kept in results so callers can see one entry per routed line.
type Reply struct {
	Kind ReplyKind
	Body string
	// ToStream and ToSubject override the destination thread.
	ToStream  string
	ToSubject string
}

func streamReply(body string) *Reply  { return &Reply{Kind: ReplyStream, Body: body} }
func privateReply(body string) *Reply { return &Reply{Kind: ReplyPrivate, Body: body} }

// address turns a reply into a transport message relative to the message it answers.
// Replies to a private message are private unless they name an explicit thread.
func address(origin bus.InboundMessage, r *Reply) *bus.OutboundMessage {
	if r == nil {
		return nil
	}
	out := &bus.OutboundMessage{Channel: origin.Channel, Content: r.Body}
	switch {
	case r.ToStream != "":
		out.Type = bus.TypeStream
		out.To = r.ToStream
		out.Subject = r.ToSubject
	case r.Kind == ReplyPrivate || origin.IsPrivate():
		out.Type = bus.TypePrivate
		out.To = origin.SenderEmail
	default:
		out.Type = bus.TypeStream
		out.To = origin.Stream
		out.Subject = origin.Subject
	}
	return out
}
