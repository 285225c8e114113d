// Package testutil provides database test helpers shared across packages.
package testutil

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a temp-file SQLite database with the named profile's
// schema applied. Supported names: "standard", "ledger", "cache".
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("carscout_test_%s_*.db", name))
	if err != nil {
		t.Fatalf("create temp database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: remove temp database file %s: %v", tmpPath, err)
		}
	}
}

// NewTestGateway wires all three physical databases (standard, ledger,
// cache) against a fresh Storage Gateway for package-level tests.
func NewTestGateway(t *testing.T) (*storage.Gateway, func()) {
	t.Helper()

	standard, cleanStandard := NewTestDB(t, "standard")
	ledger, cleanLedger := NewTestDB(t, "ledger")
	cache, cleanCache := NewTestDB(t, "cache")

	gw := storage.New(standard, ledger, cache, zerolog.Nop())

	return gw, func() {
		cleanStandard()
		cleanLedger()
		cleanCache()
	}
}
