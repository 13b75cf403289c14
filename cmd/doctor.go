package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/channels/zulip"
	"github.com/nextlevelbuilder/rsvpbot/internal/config"
	"github.com/nextlevelbuilder/rsvpbot/internal/upgrade"
)

const doctorTimeout = 15 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and storage health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("rsvpbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults and env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Validation: FAILED\n%s\n", indent(err.Error()))
	} else {
		fmt.Println("  Validation: OK")
	}

	masked := cfg.MaskedCopy()
	fmt.Println()
	fmt.Println("  Bot:")
	fmt.Printf("    %-12s %s\n", "Key word:", masked.Bot.KeyWord)
	fmt.Printf("    %-12s %s > %s\n", "Announce:", masked.Bot.AnnounceStream, masked.Bot.AnnounceSubject)
	if masked.Bot.OpsStream != "" {
		fmt.Printf("    %-12s %s > %s\n", "Errors:", masked.Bot.OpsStream, masked.Bot.OpsSubject)
	} else {
		fmt.Printf("    %-12s (log only)\n", "Errors:")
	}
	fmt.Printf("    %-12s %d\n", "Workers:", masked.Bot.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	fmt.Println()
	fmt.Println("  Zulip:")
	fmt.Printf("    %-12s %s\n", "Site:", masked.Zulip.Site)
	fmt.Printf("    %-12s %s\n", "Email:", orNotSet(masked.Zulip.Email))
	fmt.Printf("    %-12s %s\n", "API key:", orNotSet(masked.Zulip.APIKey))
	checkZulip(ctx, cfg)

	fmt.Println()
	fmt.Println("  Calendar:")
	fmt.Printf("    %-12s %s\n", "API root:", masked.Calendar.APIRoot)
	fmt.Printf("    %-12s %s\n", "Client ID:", orNotSet(masked.Calendar.ClientID))
	checkCalendar(ctx, cfg)

	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(cfg)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkZulip(ctx context.Context, cfg *config.Config) {
	if cfg.Zulip.Email == "" || cfg.Zulip.APIKey == "" {
		fmt.Printf("    %-12s SKIPPED (no credentials)\n", "Status:")
		return
	}
	client := zulip.NewClient(cfg.Zulip.Site, cfg.Zulip.Email, cfg.Zulip.APIKey, cfg.Zulip.SendsPerSecond)
	me, err := client.Me(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK (%s, id %d)\n", "Status:", me.FullName, me.UserID)
}

func checkCalendar(ctx context.Context, cfg *config.Config) {
	if cfg.Calendar.ClientID == "" || cfg.Calendar.ClientSecret == "" {
		fmt.Printf("    %-12s SKIPPED (no credentials)\n", "Status:")
		return
	}
	events, err := newCalendarClient(cfg).ListEvents(ctx, time.Now().AddDate(0, 0, -1))
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK (%d events created in the last day)\n", "Status:", len(events))
}

func checkDatabase(cfg *config.Config) {
	if !cfg.IsManagedMode() {
		path := cfg.SQLitePath()
		fmt.Printf("    %-12s standalone (%s)\n", "Mode:", path)
		stores, err := openStores(cfg)
		if err != nil {
			fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
			return
		}
		stores.Close()
		fmt.Printf("    %-12s OK\n", "Status:")
		return
	}

	fmt.Printf("    %-12s managed\n", "Mode:")
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}

	s, err := upgrade.CheckSchema(db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY, run: rsvpbot migrate force %d)\n", "Schema:", s.CurrentVersion, max(int(s.CurrentVersion)-1, 0))
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (run: rsvpbot migrate up)\n", "Schema:", s.CurrentVersion)
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
