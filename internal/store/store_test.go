package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
	"github.com/bedrockmgr/bedrock-server-manager/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.NewDB(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return New(db.DB)
}

func TestValidateInstanceName(t *testing.T) {
	valid := []string{"Survival", "my-server", "s1", "a.b_c"}
	for _, name := range valid {
		if err := ValidateInstanceName(name); err != nil {
			t.Fatalf("expected %q to be valid: %v", name, err)
		}
	}

	invalid := []string{"", "../escape", "a b", "-leading", "name/slash"}
	for _, name := range invalid {
		err := ValidateInstanceName(name)
		if err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
		if !errors.Is(err, apperr.ErrInvalidServerName) {
			t.Fatalf("expected invalid server name error for %q, got %v", name, err)
		}
	}
}

func TestInstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	inst := &Instance{Name: "Survival", InstallDir: "/srv/servers/Survival"}
	if err := s.CreateInstance(inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetInstance("Survival")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TargetVersion != TargetLatest {
		t.Fatalf("expected default target version LATEST, got %s", got.TargetVersion)
	}
	if got.Status != "Stopped" {
		t.Fatalf("expected default status Stopped, got %s", got.Status)
	}

	if err := s.SetStatus("Survival", "Running"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.SetInstalledVersion("Survival", "1.21.44.01"); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := s.SetAutoupdate("Survival", true); err != nil {
		t.Fatalf("set autoupdate: %v", err)
	}

	got, err = s.GetInstance("Survival")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "Running" || got.InstalledVersion != "1.21.44.01" || !got.Autoupdate {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetUnknownInstance(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetInstance("nope")
	if !errors.Is(err, apperr.ErrInvalidServerName) {
		t.Fatalf("expected invalid server name error, got %v", err)
	}
}

func TestDeleteInstance(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateInstance(&Instance{Name: "Creative", InstallDir: "/srv/servers/Creative"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteInstance("Creative"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteInstance("Creative"); err == nil {
		t.Fatalf("expected error deleting missing instance")
	}
}

func TestUpsertPlayer(t *testing.T) {
	s := newTestStore(t)

	seen := time.Now()
	if err := s.UpsertPlayer("2535412345678901", "Steve", "Survival", seen); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertPlayer("2535412345678901", "Steve2", "Creative", seen.Add(time.Minute)); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	players, err := s.ListPlayers()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("expected one player, got %d", len(players))
	}
	if players[0].Name != "Steve2" || players[0].LastInstance != "Creative" {
		t.Fatalf("unexpected player: %+v", players[0])
	}
}
