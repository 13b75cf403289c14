package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/rsvpbot/internal/bus"
	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/channels"
	"github.com/nextlevelbuilder/rsvpbot/internal/channels/zulip"
	"github.com/nextlevelbuilder/rsvpbot/internal/config"
	"github.com/nextlevelbuilder/rsvpbot/internal/poller"
	"github.com/nextlevelbuilder/rsvpbot/internal/rsvp"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
	"github.com/nextlevelbuilder/rsvpbot/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Zulip and answer RSVP commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe() error {
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

	tel, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	msgBus := bus.New()
	zulipCh := zulip.New(cfg.Zulip, msgBus)
	channelMgr := channels.NewManager(msgBus)
	channelMgr.RegisterChannel(zulip.ChannelName, zulipCh)

	cal := newCalendarClient(cfg)
	dispatcher := newDispatcher(cfg, stores, cal, zulipCh.Directory(), msgBus)

	var poll *poller.Poller
	if cfg.Poller.Enabled {
		if poll, err = newPoller(cfg, stores, cal, msgBus, false); err != nil {
			return err
		}
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		return err
	}
	defer channelMgr.StopAll(context.Background())

	slog.Info("rsvpbot starting",
		"version", Version,
		"mode", cfg.Database.Mode,
		"key_word", cfg.Bot.KeyWord,
		"announce", cfg.Bot.AnnounceStream+" > "+cfg.Bot.AnnounceSubject,
		"poller", cfg.Poller.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumeInboundMessages(gctx, msgBus, dispatcher, cfg.Bot.Workers)
	})
	if poll != nil {
		g.Go(func() error { return poll.Run(gctx) })
	}

	err = g.Wait()
	slog.Info("graceful shutdown complete")
	return err
}

func newDispatcher(cfg *config.Config, stores *store.Stores, cal *calendar.Client, names rsvp.NameResolver, msgBus *bus.MessageBus) *rsvp.Dispatcher {
	repo := rsvp.NewEventRepository(stores.Events, cal, msgBus, zulip.ChannelName)
	reporter := rsvp.NewLogReporter(msgBus, zulip.ChannelName, cfg.Bot.OpsStream, cfg.Bot.OpsSubject)
	return rsvp.NewDispatcher(rsvp.Config{
		KeyWord:         cfg.Bot.KeyWord,
		AnnounceStream:  cfg.Bot.AnnounceStream,
		AnnounceSubject: cfg.Bot.AnnounceSubject,
		ZulipSite:       cfg.Zulip.Site,
		CommandTimeout:  cfg.Bot.CommandTimeout(),
	}, repo, cal, names, reporter)
}

func newPoller(cfg *config.Config, stores *store.Stores, cal *calendar.Client, publisher bus.Publisher, dryRun bool) (*poller.Poller, error) {
	return poller.New(poller.Config{
		Schedule:        cfg.Poller.Schedule,
		LookbackDays:    cfg.Poller.LookbackDays,
		KeyWord:         cfg.Bot.KeyWord,
		Channel:         zulip.ChannelName,
		AnnounceStream:  cfg.Bot.AnnounceStream,
		AnnounceSubject: cfg.Bot.AnnounceSubject,
	}, stores.Events, cal, publisher)
}

