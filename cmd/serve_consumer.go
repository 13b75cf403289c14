package cmd

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
)

// messageProcessor turns one inbound message into replies. Nil replies are suppressed.
type messageProcessor interface {
	Process(ctx context.Context, msg bus.InboundMessage) []*bus.OutboundMessage
}

// consumeInboundMessages reads inbound messages from channels, runs each through
// the processor and publishes the replies in order. At most workers messages are
// processed at once; further messages wait on the bus.
func consumeInboundMessages(ctx context.Context, router bus.MessageRouter, proc messageProcessor, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	slog.Info("inbound message consumer started", "workers", workers)

	var g errgroup.Group
	g.SetLimit(workers)

	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			break
		}
		g.Go(func() error {
			for _, out := range proc.Process(ctx, msg) {
				if out != nil {
					router.PublishOutbound(*out)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	slog.Info("inbound message consumer stopped")
	return err
}
