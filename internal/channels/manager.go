package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// StartAll starts all registered channels and the outbound dispatch loop.
// A channel that fails to start aborts startup with its error.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.dispatchTask = task
	go func() {
		defer close(task.done)
		m.dispatchOutbound(dispatchCtx)
	}()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
	}

	slog.Info("all channels started")
	return nil
}

// StopAll stops the outbound dispatch loop and then every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		<-m.dispatchTask.done
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and routes them
// to the appropriate channel.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("error sending message to channel",
				"channel", msg.Channel,
				"type", msg.Type,
				"to", msg.To,
				"error", err,
			)
		}
	}
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// SendToChannel delivers a message directly, bypassing the bus.
func (m *Manager) SendToChannel(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	channel, exists := m.channels[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", msg.Channel)
	}
	return channel.Send(ctx, msg)
}
