// Package channels provides the transport abstraction between chat platforms and
// the bot runtime. A channel turns platform events into bus.InboundMessage values
// and delivers bus.OutboundMessage replies back to the platform.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "zulip").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   atomic.Bool
	allowList []string
	limiter   *SenderRateLimiter
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// SetRateLimiter installs a per-sender flood guard on HandleMessage. Nil disables it.
func (c *BaseChannel) SetRateLimiter(l *SenderRateLimiter) { c.limiter = l }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "12345|user@example.com", matching either part.
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, emailPart, _ := strings.Cut(senderID, "|")
	for _, allowed := range c.allowList {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if senderID == allowed || idPart == allowed || (emailPart != "" && strings.EqualFold(emailPart, allowed)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes a received message to the bus after the allowlist and
// rate-limit checks. It reports whether the message was forwarded.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID + "|" + msg.SenderEmail) {
		slog.Debug("message from sender not in allowlist", "channel", c.name, "sender", msg.SenderEmail)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow(msg.SenderID) {
		slog.Warn("sender rate limited", "channel", c.name, "sender", msg.SenderEmail)
		return false
	}

	msg.Channel = c.name
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens a string to maxLen bytes, appending "..." if truncated.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
