// Package upgrade checks the Postgres event schema against the version this
// binary was built for.
package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUndefinedTable is the SQLSTATE for undefined_table.
const pgUndefinedTable = "42P01"

// RequiredSchemaVersion is the highest migration under migrations/.
const RequiredSchemaVersion uint = 1

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads the golang-migrate schema_migrations table and compares
// it against RequiredSchemaVersion. A missing table means a fresh database.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version int64
	var dirty bool

	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	if version < 0 {
		return nil, fmt.Errorf("invalid schema version %d", version)
	}

	s := &SchemaStatus{
		CurrentVersion:  uint(version),
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}

	switch {
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// isMissingTable reports an undefined-table error from Postgres or SQLite.
func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable
	}
	return strings.Contains(err.Error(), "no such table")
}

// Err returns the sentinel matching s, or nil when the schema is usable.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Compatible:
		return nil
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	default:
		return ErrSchemaOutdated
	}
}

// FormatError returns a user-facing explanation and fix for s.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Database schema is in a dirty state (version %d).\n"+
				"A migration failed partway.\n\n"+
				"  Fix:  rsvpbot migrate force %d\n"+
				"  Then: rsvpbot migrate up\n",
			s.CurrentVersion, max(int(s.CurrentVersion)-1, 0),
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n\n"+
				"  Fix: upgrade the rsvpbot binary.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: rsvpbot migrate up\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
