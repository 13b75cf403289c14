package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/channels/zulip"
)

func pollCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one calendar poll and announce newly created events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print announcements without posting them or tracking the events")
	return cmd
}

func runPoll(dryRun bool) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	var pub interface {
		bus.Publisher
		Err() error
	}
	if dryRun {
		pub = &printPublisher{w: os.Stdout}
	} else {
		client := zulip.NewClient(cfg.Zulip.Site, cfg.Zulip.Email, cfg.Zulip.APIKey, cfg.Zulip.SendsPerSecond)
		pub = &directPublisher{ctx: ctx, client: client}
	}

	p, err := newPoller(cfg, stores, newCalendarClient(cfg), pub, dryRun)
	if err != nil {
		return err
	}
	n, err := p.PollOnce(ctx)
	slog.Info("poll complete", "tracked", n, "dry_run", dryRun)
	return errors.Join(err, pub.Err())
}

// messageSender is the subset of the Zulip client used to post messages.
type messageSender interface {
	SendStream(ctx context.Context, stream, topic, content string) error
	SendPrivate(ctx context.Context, email, content string) error
}

// directPublisher posts each outbound message synchronously, without a
// running channel or bus. Send failures are collected and returned by Err.
type directPublisher struct {
	ctx    context.Context
	client messageSender

	mu   sync.Mutex
	errs []error
}

func (p *directPublisher) PublishOutbound(msg bus.OutboundMessage) {
	var err error
	if msg.Type == bus.TypePrivate {
		err = p.client.SendPrivate(p.ctx, msg.To, msg.Content)
	} else {
		err = p.client.SendStream(p.ctx, msg.To, msg.Subject, msg.Content)
	}
	if err != nil {
		slog.Warn("send failed", "to", msg.To, "subject", msg.Subject, "error", err)
		p.mu.Lock()
		p.errs = append(p.errs, err)
		p.mu.Unlock()
	}
}

func (p *directPublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

type printPublisher struct {
	w io.Writer
}

func (p *printPublisher) PublishOutbound(msg bus.OutboundMessage) {
	if msg.Type == bus.TypePrivate {
		fmt.Fprintf(p.w, "--- to %s\n%s\n\n", msg.To, msg.Content)
		return
	}
	fmt.Fprintf(p.w, "--- %s > %s\n%s\n\n", msg.To, msg.Subject, msg.Content)
}

func (p *printPublisher) Err() error { return nil }
