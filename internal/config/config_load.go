package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

const (
	DefaultZulipSite  = "https://recurse.zulipchat.com"
	ProductionKeyWord = "rsvp"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Zulip: ZulipConfig{
			Site:           DefaultZulipSite,
			SendsPerSecond: 5,
			SenderRPM:      30,
		},
		Calendar: CalendarConfig{
			APIRoot:           "https://www.recurse.com/api/v1",
			TimeoutSec:        10,
			RequestsPerSecond: 10,
		},
		Bot: BotConfig{
			KeyWord:           ProductionKeyWord,
			AnnounceStream:    "RSVPs",
			AnnounceSubject:   "announce",
			OpsSubject:        "errors",
			Workers:           4,
			CommandTimeoutSec: 15,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.rsvpbot/rsvpbot.db",
		},
		Poller: PollerConfig{
			Enabled:      true,
			Schedule:     "* * * * *",
			LookbackDays: 60,
		},
	}
}

// Load reads a .env file if present, then the JSON5 config file, then overlays env vars.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set.
	_ = godotenv.Load(".env")

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Zulip
	envStr("RSVPBOT_ZULIP_SITE", &c.Zulip.Site)
	envStr("RSVPBOT_ZULIP_EMAIL", &c.Zulip.Email)
	envStr("RSVPBOT_ZULIP_API_KEY", &c.Zulip.APIKey)
	if v := os.Getenv("RSVPBOT_ZULIP_STREAMS"); v != "" {
		c.Zulip.Streams = strings.Split(v, ",")
	}

	// Calendar
	envStr("RSVPBOT_CALENDAR_API_ROOT", &c.Calendar.APIRoot)
	envStr("RSVPBOT_CALENDAR_CLIENT_ID", &c.Calendar.ClientID)
	envStr("RSVPBOT_CALENDAR_CLIENT_SECRET", &c.Calendar.ClientSecret)

	// Bot
	envStr("RSVPBOT_KEY_WORD", &c.Bot.KeyWord)
	envBool("RSVPBOT_PRODUCTION", &c.Bot.Production)
	envStr("RSVPBOT_ANNOUNCE_STREAM", &c.Bot.AnnounceStream)
	envStr("RSVPBOT_ANNOUNCE_SUBJECT", &c.Bot.AnnounceSubject)
	envStr("RSVPBOT_OPS_STREAM", &c.Bot.OpsStream)
	if v := os.Getenv("RSVPBOT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Bot.Workers = n
		}
	}

	// Database
	envStr("RSVPBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("RSVPBOT_MODE", &c.Database.Mode)
	envStr("RSVPBOT_SQLITE_PATH", &c.Database.SQLitePath)

	// Poller
	envStr("RSVPBOT_POLLER_SCHEDULE", &c.Poller.Schedule)
	envBool("RSVPBOT_POLLER_ENABLED", &c.Poller.Enabled)

	// Telemetry
	envStr("RSVPBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("RSVPBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("RSVPBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("RSVPBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("RSVPBOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Validate checks the settings needed to run the bot.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	kw := strings.TrimSpace(c.Bot.KeyWord)
	switch {
	case kw == "":
		errs = append(errs, errors.New("bot.key_word must not be empty"))
	case strings.ContainsAny(kw, " \t\n"):
		errs = append(errs, fmt.Errorf("bot.key_word %q must be a single word", kw))
	case strings.EqualFold(kw, ProductionKeyWord) && !c.Bot.Production:
		errs = append(errs, fmt.Errorf("key word %q is reserved for production: set RSVPBOT_KEY_WORD or bot.production", ProductionKeyWord))
	}
	if c.Zulip.Email == "" || c.Zulip.APIKey == "" {
		errs = append(errs, errors.New("zulip email and RSVPBOT_ZULIP_API_KEY are required"))
	}
	if c.Calendar.ClientID == "" || c.Calendar.ClientSecret == "" {
		errs = append(errs, errors.New("calendar client_id and RSVPBOT_CALENDAR_CLIENT_SECRET are required"))
	}
	if c.Bot.AnnounceStream == "" || c.Bot.AnnounceSubject == "" {
		errs = append(errs, errors.New("bot.announce_stream and bot.announce_subject are required"))
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("managed mode requires RSVPBOT_POSTGRES_DSN"))
	}
	return errors.Join(errs...)
}

// Save writes the config to a JSON file. Secrets are tagged json:"-" and never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SQLitePath returns the expanded standalone database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.SQLitePath)
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with secret fields masked, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{
		Zulip:     c.Zulip,
		Calendar:  c.Calendar,
		Bot:       c.Bot,
		Database:  c.Database,
		Poller:    c.Poller,
		Telemetry: c.Telemetry,
	}
	maskNonEmpty(&cp.Zulip.APIKey)
	maskNonEmpty(&cp.Calendar.ClientSecret)
	maskNonEmpty(&cp.Database.PostgresDSN)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
