// Package zulip connects the bot to a Zulip realm through the REST event queue API.
package zulip

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/channels"
	"github.com/nextlevelbuilder/rsvpbot/internal/config"
)

const (
	// ChannelName is the bus channel name used by this transport.
	ChannelName = "zulip"

	// maxMessageLen is Zulip's default max_message_length.
	maxMessageLen = 10000

	minRetryDelay = time.Second
	maxRetryDelay = time.Minute
)

var eventTypes = []string{"message", "realm_user"}

// Channel receives Zulip messages through a long-polled event queue and sends replies.
type Channel struct {
	*channels.BaseChannel
	client  *Client
	dir     *Directory
	config  config.ZulipConfig
	botID   int64
	cancel  context.CancelFunc
	done    chan struct{}
	minWait time.Duration
}

// New creates a Zulip channel from config.
func New(cfg config.ZulipConfig, msgBus *bus.MessageBus) *Channel {
	client := NewClient(cfg.Site, cfg.Email, cfg.APIKey, cfg.SendsPerSecond)
	base := channels.NewBaseChannel(ChannelName, msgBus, cfg.AllowFrom)
	base.SetRateLimiter(channels.NewSenderRateLimiter(cfg.SenderRPM))

	return &Channel{
		BaseChannel: base,
		client:      client,
		dir:         NewDirectory(client),
		config:      cfg,
		minWait:     minRetryDelay,
	}
}

// Client returns the underlying REST client.
func (c *Channel) Client() *Client { return c.client }

// Directory returns the user directory maintained by this channel.
func (c *Channel) Directory() *Directory { return c.dir }

// Start subscribes to the configured streams, registers an event queue and
// begins polling it in the background.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting zulip bot", "site", c.client.Site())

	me, err := c.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetch zulip bot identity: %w", err)
	}
	c.botID = me.UserID

	streams := []string(c.config.Streams)
	if len(streams) == 0 {
		if streams, err = c.client.Streams(ctx); err != nil {
			return fmt.Errorf("list zulip streams: %w", err)
		}
	}
	if len(streams) > 0 {
		if err := c.client.Subscribe(ctx, streams); err != nil {
			return fmt.Errorf("subscribe to zulip streams: %w", err)
		}
	}

	if err := c.dir.Load(ctx); err != nil {
		slog.Warn("zulip directory load failed, names will load on demand", "error", err)
	}

	q, err := c.client.Register(ctx, eventTypes)
	if err != nil {
		return fmt.Errorf("register zulip event queue: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.pollLoop(pollCtx, q)
	}()

	c.SetRunning(true)
	slog.Info("zulip bot connected", "email", me.Email, "id", me.UserID, "streams", len(streams))
	return nil
}

// Stop ends the poll loop and waits for it to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping zulip bot")
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	return nil
}

// Send delivers an outbound message as a stream or private message.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("zulip bot not running")
	}
	if msg.To == "" {
		return fmt.Errorf("empty recipient for zulip send")
	}

	content := channels.Truncate(msg.Content, maxMessageLen)
	if msg.Type == bus.TypePrivate {
		return c.client.SendPrivate(ctx, msg.To, content)
	}
	return c.client.SendStream(ctx, msg.To, msg.Subject, content)
}

func (c *Channel) pollLoop(ctx context.Context, q *Queue) {
	wait := c.minWait
	for {
		events, err := c.client.Events(ctx, q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if IsBadEventQueue(err) {
				slog.Warn("zulip event queue expired, re-registering", "queue_id", q.ID)
				fresh, rerr := c.client.Register(ctx, eventTypes)
				if rerr == nil {
					q = fresh
					wait = c.minWait
					continue
				}
				err = rerr
			}
			slog.Error("zulip event poll failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, maxRetryDelay)
			continue
		}

		wait = c.minWait
		for _, ev := range events {
			if ev.ID > q.LastEventID {
				q.LastEventID = ev.ID
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Channel) handleEvent(ev Event) {
	switch ev.Type {
	case "message":
		if ev.Message != nil {
			c.handleMessage(ev.Message)
		}
	case "realm_user":
		c.dir.Apply(ev)
	}
}

func (c *Channel) handleMessage(m *Message) {
	if m.SenderID == c.botID {
		return
	}

	msg := bus.InboundMessage{
		Type:        bus.TypePrivate,
		Content:     m.Content,
		SenderID:    strconv.FormatInt(m.SenderID, 10),
		SenderEmail: m.SenderEmail,
		SenderName:  m.SenderFullName,
		MessageID:   m.ID,
	}
	if m.Type == bus.TypeStream {
		msg.Type = bus.TypeStream
		msg.Stream = m.StreamName()
		msg.Subject = m.Subject
	}

	slog.Debug("zulip message received", "type", msg.Type, "stream", msg.Stream, "subject", msg.Subject, "sender", msg.SenderEmail)
	c.HandleMessage(msg)
}
