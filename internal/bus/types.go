package bus

import "context"

// Message types as reported by the chat transport.
const (
	TypeStream  = "stream"
	TypePrivate = "private"
)

// InboundMessage represents a chat message received from a channel (Zulip).
type InboundMessage struct {
	Channel     string `json:"channel"`
	Type        string `json:"type"` // TypeStream or TypePrivate
	Content     string `json:"content"`
	SenderID    string `json:"sender_id"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	Stream      string `json:"stream,omitempty"`
	Subject     string `json:"subject,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`
}

// IsPrivate reports whether the message arrived as a private message.
func (m InboundMessage) IsPrivate() bool { return m.Type == TypePrivate }

// OutboundMessage represents a message to be sent to a channel.
// For TypeStream, To is the stream name and Subject the topic.
// For TypePrivate, To is the recipient email and Subject is ignored.
type OutboundMessage struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
}

// Publisher publishes outbound messages. Implemented by MessageBus; components
// that only send (poller, error reporter, change notices) depend on this.
type Publisher interface {
	PublishOutbound(msg OutboundMessage)
}

// MessageRouter abstracts inbound/outbound message routing between channels and the bot runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
