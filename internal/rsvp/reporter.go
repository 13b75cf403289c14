package rsvp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
)

// ErrorReporter receives failures that were turned into generic replies.
type ErrorReporter interface {
	Report(ctx context.Context, err error, msg bus.InboundMessage, line string)
}

// LogReporter logs each failure with an incident id and, when an ops thread
// is configured, posts a short incident note there.
type LogReporter struct {
	publisher  bus.Publisher
	channel    string
	opsStream  string
	opsSubject string
}

// NewLogReporter creates a reporter. publisher may be nil to log only.
func NewLogReporter(publisher bus.Publisher, channel, opsStream, opsSubject string) *LogReporter {
	return &LogReporter{publisher: publisher, channel: channel, opsStream: opsStream, opsSubject: opsSubject}
}

func (r *LogReporter) Report(ctx context.Context, err error, msg bus.InboundMessage, line string) {
	incident := uuid.Must(uuid.NewV7()).String()
	slog.ErrorContext(ctx, "rsvp command failed",
		"incident", incident,
		"sender", msg.SenderEmail,
		"message_id", msg.MessageID,
		"stream", msg.Stream,
		"subject", msg.Subject,
		"line", line,
		"error", err,
	)

	if r.publisher == nil || r.opsStream == "" {
		return
	}
	subject := r.opsSubject
	if subject == "" {
		subject = "errors"
	}
	r.publisher.PublishOutbound(bus.OutboundMessage{
		Channel: r.channel,
		Type:    bus.TypeStream,
		To:      r.opsStream,
		Subject: subject,
		Content: fmt.Sprintf("**Incident %s**\n`%s` from %s in #%s > %s\n```\n%v\n```",
			incident, line, msg.SenderEmail, msg.Stream, msg.Subject, err),
	})
}
