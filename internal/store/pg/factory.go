package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/rsvpbot/internal/store"
	"github.com/nextlevelbuilder/rsvpbot/internal/upgrade"
)

// NewPGStores creates all stores backed by Postgres (managed mode). The
// schema must already be migrated to the version this binary expects.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	s, err := upgrade.CheckSchema(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if err := s.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w\n%s", err, upgrade.FormatError(s))
	}

	return &store.Stores{
		Events: NewPGEventStore(db),
	}, nil
}
