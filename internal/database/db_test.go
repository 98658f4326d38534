package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
)

func TestDSNCarriesPragmas(t *testing.T) {
	dsn, err := dsnFor(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}

	if !strings.HasPrefix(dsn, "file:") {
		t.Fatalf("expected file URI, got %q", dsn)
	}
	for _, pragma := range []string{"journal_mode(WAL)", "busy_timeout(5000)", "foreign_keys(ON)"} {
		if !strings.Contains(dsn, "_pragma="+pragma) {
			t.Fatalf("dsn %q is missing pragma %s", dsn, pragma)
		}
	}
	if strings.Contains(dsn, `\`) {
		t.Fatalf("dsn %q contains backslashes", dsn)
	}
}

func TestPoolSizedFromConfig(t *testing.T) {
	db, err := NewDB(config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 4,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 4 {
		t.Fatalf("expected pool of 4, got %d", got)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := NewDB(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Fatalf("expected %d applied migrations, got %d", len(migrations), n)
	}
}
