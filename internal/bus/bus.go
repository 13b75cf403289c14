package bus

import (
	"context"
	"log/slog"
)

const defaultBufferSize = 100

// MessageBus is the in-process queue between channels and the bot runtime.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with the default buffer size.
func New() *MessageBus {
	return NewWithBuffer(defaultBufferSize)
}

// NewWithBuffer creates a MessageBus whose queues hold up to size messages.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

// PublishInbound enqueues a message received from a channel. Blocks when the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for delivery. Messages without content are dropped.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	if msg.Content == "" {
		slog.Debug("dropping empty outbound message", "channel", msg.Channel, "to", msg.To)
		return
	}
	b.outbound <- msg
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
