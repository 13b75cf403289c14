package upgrade

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T, version int, dirty bool) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if version < 0 {
		return db
	}
	if _, err := db.Exec("CREATE TABLE schema_migrations (version BIGINT NOT NULL, dirty BOOLEAN NOT NULL)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)", version, dirty); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		name      string
		version   int
		dirty     bool
		want      error
		needsMigr bool
	}{
		{name: "fresh database", version: -1, want: ErrSchemaOutdated, needsMigr: true},
		{name: "up to date", version: int(RequiredSchemaVersion)},
		{name: "behind", version: 0, want: ErrSchemaOutdated, needsMigr: true},
		{name: "ahead", version: int(RequiredSchemaVersion) + 1, want: ErrSchemaAhead},
		{name: "dirty", version: int(RequiredSchemaVersion), dirty: true, want: ErrSchemaDirty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := CheckSchema(openDB(t, tt.version, tt.dirty))
			if err != nil {
				t.Fatalf("CheckSchema: %v", err)
			}
			if got := s.Err(); !errors.Is(got, tt.want) {
				t.Errorf("Err() = %v, want %v", got, tt.want)
			}
			if s.NeedsMigration != tt.needsMigr {
				t.Errorf("NeedsMigration = %v, want %v", s.NeedsMigration, tt.needsMigr)
			}
		})
	}
}

func TestCheckSchemaEmptyTable(t *testing.T) {
	db := openDB(t, 0, false)
	if _, err := db.Exec("DELETE FROM schema_migrations"); err != nil {
		t.Fatal(err)
	}
	s, err := CheckSchema(db)
	if err != nil {
		t.Fatalf("CheckSchema: %v", err)
	}
	if !s.NeedsMigration || s.CurrentVersion != 0 {
		t.Errorf("status = %+v, want fresh database", s)
	}
}

func TestCheckSchemaReturnsConnectionErrors(t *testing.T) {
	db := openDB(t, int(RequiredSchemaVersion), false)
	db.Close()

	if s, err := CheckSchema(db); err == nil {
		t.Fatalf("CheckSchema on a closed database = %+v, want error", s)
	}
}

func TestFormatError(t *testing.T) {
	dirty := FormatError(&SchemaStatus{CurrentVersion: 1, RequiredVersion: 1, Dirty: true})
	if !strings.Contains(dirty, "rsvpbot migrate force 0") {
		t.Errorf("dirty message = %q", dirty)
	}
	behind := FormatError(&SchemaStatus{CurrentVersion: 0, RequiredVersion: 1, NeedsMigration: true})
	if !strings.Contains(behind, "rsvpbot migrate up") {
		t.Errorf("outdated message = %q", behind)
	}
}
