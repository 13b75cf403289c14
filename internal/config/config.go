package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for RSVPBot.
type Config struct {
	Zulip     ZulipConfig     `json:"zulip"`
	Calendar  CalendarConfig  `json:"calendar"`
	Bot       BotConfig       `json:"bot"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Poller    PollerConfig    `json:"poller,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// CalendarConfig points the bot at the calendar API that owns events and RSVPs.
// ClientSecret is NEVER read from config.json, only from env RSVPBOT_CALENDAR_CLIENT_SECRET.
type CalendarConfig struct {
	APIRoot           string  `json:"api_root,omitempty"`            // e.g. "https://www.recurse.com/api/v1"
	ClientID          string  `json:"client_id,omitempty"`
	ClientSecret      string  `json:"-"`
	TimeoutSec        int     `json:"timeout_sec,omitempty"`         // per request (default 10)
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // 0 = unlimited
}

// Timeout returns the request timeout as a duration.
func (c CalendarConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// BotConfig configures command routing.
type BotConfig struct {
	KeyWord           string `json:"key_word,omitempty"`            // command prefix (default "rsvp")
	Production        bool   `json:"production,omitempty"`          // required to use the "rsvp" keyword
	AnnounceStream    string `json:"announce_stream,omitempty"`     // default "RSVPs"
	AnnounceSubject   string `json:"announce_subject,omitempty"`    // default "announce"
	OpsStream         string `json:"ops_stream,omitempty"`          // incident reports; empty = log only
	OpsSubject        string `json:"ops_subject,omitempty"`         // default "errors"
	Workers           int    `json:"workers,omitempty"`             // concurrent Process calls (default 4)
	CommandTimeoutSec int    `json:"command_timeout_sec,omitempty"` // per routed line (default 15)
}

// CommandTimeout returns the per-line deadline as a duration.
func (b BotConfig) CommandTimeout() time.Duration {
	return time.Duration(b.CommandTimeoutSec) * time.Second
}

// DatabaseConfig selects the event store.
// PostgresDSN is NEVER read from config.json (secret), only from env RSVPBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                     // from env RSVPBOT_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone database file
}

// IsManagedMode returns true if events are stored in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// PollerConfig configures discovery of newly created calendar events.
type PollerConfig struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"`      // cron expression (default "* * * * *")
	LookbackDays int    `json:"lookback_days,omitempty"` // first-run window (default 60)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "rsvpbot")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Zulip = src.Zulip
	c.Calendar = src.Calendar
	c.Bot = src.Bot
	c.Database = src.Database
	c.Poller = src.Poller
	c.Telemetry = src.Telemetry
}
