package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/rsvpbot/internal/calendar"
	"github.com/nextlevelbuilder/rsvpbot/internal/config"
	"github.com/nextlevelbuilder/rsvpbot/internal/store"
	"github.com/nextlevelbuilder/rsvpbot/internal/store/pg"
	"github.com/nextlevelbuilder/rsvpbot/internal/store/sqlite"
)

// openStores opens Postgres in managed mode and the SQLite file otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		slog.Info("using postgres event store")
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}

	path := cfg.SQLitePath()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	slog.Info("using sqlite event store", "path", path)
	return sqlite.NewSQLiteStores(store.StoreConfig{SQLitePath: path})
}

func newCalendarClient(cfg *config.Config) *calendar.Client {
	return calendar.NewClient(calendar.ClientConfig{
		APIRoot:           cfg.Calendar.APIRoot,
		ClientID:          cfg.Calendar.ClientID,
		ClientSecret:      cfg.Calendar.ClientSecret,
		Timeout:           cfg.Calendar.Timeout(),
		RequestsPerSecond: cfg.Calendar.RequestsPerSecond,
	})
}
