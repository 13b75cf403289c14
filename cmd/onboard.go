package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/channels/zulip"
	"github.com/nextlevelbuilder/rsvpbot/internal/config"
	"github.com/nextlevelbuilder/rsvpbot/internal/store/pg"
)

// onboardAnswers holds everything the setup wizard asks for.
type onboardAnswers struct {
	ZulipSite       string
	ZulipEmail      string
	ZulipAPIKey     string
	ClientID        string
	ClientSecret    string
	KeyWord         string
	Production      bool
	AnnounceStream  string
	AnnounceSubject string
	OpsStream       string
	Mode            string
	PostgresDSN     string
	WriteEnv        bool
}

func onboardCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: write config.json and a .env with credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "where to write secrets")
	return cmd
}

func runOnboard(envFile string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a := answersFromConfig(cfg)
	if err := onboardForm(&a).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := zulip.NewClient(a.ZulipSite, a.ZulipEmail, a.ZulipAPIKey, 1)
	if me, err := client.Me(ctx); err != nil {
		fmt.Printf("  Zulip:    could not verify credentials (%s)\n", err)
	} else {
		fmt.Printf("  Zulip:    OK (%s)\n", me.FullName)
	}
	if a.Mode == "managed" {
		if err := testPostgresConnection(ctx, a.PostgresDSN); err != nil {
			fmt.Printf("  Postgres: could not connect (%s)\n", err)
		} else {
			fmt.Println("  Postgres: OK (run `rsvpbot migrate up` before serving)")
		}
	}

	applyAnswers(cfg, a)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Warning: %s\n", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("  Config written to %s\n", cfgPath)

	secrets := secretEnv(a)
	if a.WriteEnv {
		if err := writeEnvFile(envFile, secrets); err != nil {
			return err
		}
		fmt.Printf("  Secrets written to %s\n", envFile)
		return nil
	}

	fmt.Println()
	fmt.Println("Set these environment variables before running rsvpbot:")
	for _, line := range envLines(secrets) {
		fmt.Println("  " + line)
	}
	return nil
}

func onboardForm(a *onboardAnswers) *huh.Form {
	required := func(name string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", name)
			}
			return nil
		}
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Zulip site").Value(&a.ZulipSite).Validate(required("site")),
			huh.NewInput().Title("Bot email").Value(&a.ZulipEmail).Validate(required("bot email")),
			huh.NewInput().Title("Bot API key").EchoMode(huh.EchoModePassword).Value(&a.ZulipAPIKey).Validate(required("API key")),
		).Title("Zulip"),
		huh.NewGroup(
			huh.NewInput().Title("Calendar client ID").Value(&a.ClientID).Validate(required("client ID")),
			huh.NewInput().Title("Calendar client secret").EchoMode(huh.EchoModePassword).Value(&a.ClientSecret).Validate(required("client secret")),
		).Title("Calendar API"),
		huh.NewGroup(
			huh.NewConfirm().Title("Production deployment?").Description("Only production may answer to the \"rsvp\" key word.").Value(&a.Production),
			huh.NewInput().Title("Key word").Description("Messages starting with this word are commands.").Value(&a.KeyWord).Validate(required("key word")),
			huh.NewInput().Title("Announce stream").Value(&a.AnnounceStream).Validate(required("announce stream")),
			huh.NewInput().Title("Announce topic").Value(&a.AnnounceSubject).Validate(required("announce topic")),
			huh.NewInput().Title("Error report stream").Description("Leave empty to only log errors.").Value(&a.OpsStream),
		).Title("Bot"),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Event storage").Options(
				huh.NewOption("SQLite file (standalone)", "standalone"),
				huh.NewOption("Postgres (managed)", "managed"),
			).Value(&a.Mode),
		),
		huh.NewGroup(
			huh.NewInput().Title("Postgres DSN").EchoMode(huh.EchoModePassword).Value(&a.PostgresDSN).Validate(required("DSN")),
		).WithHideFunc(func() bool { return a.Mode != "managed" }),
		huh.NewGroup(
			huh.NewConfirm().Title("Write secrets to an env file?").Value(&a.WriteEnv),
		),
	)
}

func answersFromConfig(cfg *config.Config) onboardAnswers {
	mode := cfg.Database.Mode
	if mode == "" {
		mode = "standalone"
	}
	return onboardAnswers{
		ZulipSite:       cfg.Zulip.Site,
		ZulipEmail:      cfg.Zulip.Email,
		ZulipAPIKey:     cfg.Zulip.APIKey,
		ClientID:        cfg.Calendar.ClientID,
		ClientSecret:    cfg.Calendar.ClientSecret,
		KeyWord:         cfg.Bot.KeyWord,
		Production:      cfg.Bot.Production,
		AnnounceStream:  cfg.Bot.AnnounceStream,
		AnnounceSubject: cfg.Bot.AnnounceSubject,
		OpsStream:       cfg.Bot.OpsStream,
		Mode:            mode,
		PostgresDSN:     cfg.Database.PostgresDSN,
		WriteEnv:        true,
	}
}

func applyAnswers(cfg *config.Config, a onboardAnswers) {
	cfg.Zulip.Site = strings.TrimRight(strings.TrimSpace(a.ZulipSite), "/")
	cfg.Zulip.Email = strings.TrimSpace(a.ZulipEmail)
	cfg.Zulip.APIKey = strings.TrimSpace(a.ZulipAPIKey)
	cfg.Calendar.ClientID = strings.TrimSpace(a.ClientID)
	cfg.Calendar.ClientSecret = strings.TrimSpace(a.ClientSecret)
	cfg.Bot.KeyWord = strings.TrimSpace(a.KeyWord)
	cfg.Bot.Production = a.Production
	cfg.Bot.AnnounceStream = strings.TrimSpace(a.AnnounceStream)
	cfg.Bot.AnnounceSubject = strings.TrimSpace(a.AnnounceSubject)
	cfg.Bot.OpsStream = strings.TrimSpace(a.OpsStream)
	cfg.Database.Mode = a.Mode
	if a.Mode == "managed" {
		cfg.Database.PostgresDSN = strings.TrimSpace(a.PostgresDSN)
	}
}

// secretEnv returns the env assignments for values config.Save never writes.
func secretEnv(a onboardAnswers) map[string]string {
	env := map[string]string{
		"RSVPBOT_ZULIP_API_KEY":          strings.TrimSpace(a.ZulipAPIKey),
		"RSVPBOT_CALENDAR_CLIENT_SECRET": strings.TrimSpace(a.ClientSecret),
	}
	if a.Mode == "managed" {
		env["RSVPBOT_POSTGRES_DSN"] = strings.TrimSpace(a.PostgresDSN)
	}
	return env
}

func envLines(env map[string]string) []string {
	content, err := godotenv.Marshal(env)
	if err != nil {
		return nil
	}
	return strings.Split(content, "\n")
}

// writeEnvFile merges env into path, keeping unrelated entries already there.
func writeEnvFile(path string, env map[string]string) error {
	merged := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		merged = existing
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range env {
		merged[k] = v
	}
	if err := godotenv.Write(merged, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// testPostgresConnection verifies connectivity to Postgres.
func testPostgresConnection(ctx context.Context, dsn string) error {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
