package backup

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

type fakeController struct {
	running  bool
	stops    int
	starts   int
	startErr error
	stopErr  error
}

func (f *fakeController) Start(inst server.Instance) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop(inst server.Instance) error {
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeController) Probe(inst server.Instance) (server.ProbeResult, error) {
	return server.ProbeResult{Running: f.running, PID: 1}, nil
}

type fakeWorlds struct {
	name string
	err  error
}

func (f *fakeWorlds) GetWorldName(instance string) (string, error) {
	return f.name, f.err
}

type testSetup struct {
	engine *Engine
	ctl    *fakeController
	root   string
	inst   server.Instance
	clock  time.Time
}

func newTestEngine(t *testing.T) *testSetup {
	t.Helper()
	root := t.TempDir()
	ctl := &fakeController{}
	setup := &testSetup{
		ctl:   ctl,
		root:  root,
		inst:  server.Instance{Name: "Survival", InstallDir: filepath.Join(root, "servers", "Survival")},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
	}

	serverDir := func(name string) string { return filepath.Join(root, "servers", name) }
	backupDir := func(name string) string { return filepath.Join(root, "backups", name) }

	setup.engine = NewEngine(ctl, &fakeWorlds{name: "MyWorld"}, serverDir, backupDir, nil)
	setup.engine.now = func() time.Time {
		setup.clock = setup.clock.Add(time.Second)
		return setup.clock
	}

	// Seed a world and the standard config files.
	worldDir := filepath.Join(serverDir("Survival"), "worlds", "MyWorld")
	if err := os.MkdirAll(filepath.Join(worldDir, "db"), 0755); err != nil {
		t.Fatalf("seed: %v", err)
	}
	writeTestFile(t, filepath.Join(worldDir, "level.dat"), "level data")
	writeTestFile(t, filepath.Join(worldDir, "db", "CURRENT"), "MANIFEST-000001")
	writeTestFile(t, filepath.Join(serverDir("Survival"), "server.properties"), "level-name=MyWorld\n")
	writeTestFile(t, filepath.Join(serverDir("Survival"), "allowlist.json"), "[]")
	writeTestFile(t, filepath.Join(serverDir("Survival"), "permissions.json"), "[]")

	return setup
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBackupWorldArchivesActiveWorld(t *testing.T) {
	setup := newTestEngine(t)

	artifact, report, err := setup.engine.BackupWorld(setup.inst, false)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !report.OK() {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}

	base := filepath.Base(artifact)
	parsed, err := ParseArtifact(base)
	if err != nil || parsed.Kind != KindWorld {
		t.Fatalf("bad artifact name %q: %v", base, err)
	}

	reader, err := zip.OpenReader(artifact)
	if err != nil {
		t.Fatalf("artifact is not a zip: %v", err)
	}
	defer reader.Close()

	names := map[string]bool{}
	for _, f := range reader.File {
		names[f.Name] = true
	}
	if !names["level.dat"] || !names["db/CURRENT"] {
		t.Fatalf("world contents missing from archive: %v", names)
	}
}

func TestBackupAllContinuesPastMissingFile(t *testing.T) {
	setup := newTestEngine(t)
	if err := os.Remove(filepath.Join(setup.inst.InstallDir, "allowlist.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	report, err := setup.engine.BackupAll(setup.inst, false)
	if err != nil {
		t.Fatalf("backup-all: %v", err)
	}

	if len(report.Created) != 3 {
		t.Fatalf("expected world + 2 config artifacts, got %v", report.Created)
	}
	if len(report.Failures) != 1 || report.Failures[0].Item != "allowlist.json" {
		t.Fatalf("expected one allowlist failure, got %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, apperr.ErrFileNotFound) {
		t.Fatalf("expected file-not-found, got %v", report.Failures[0].Err)
	}
}

func TestBackupBracketStopsAndRestarts(t *testing.T) {
	setup := newTestEngine(t)
	setup.ctl.running = true

	report, err := setup.engine.BackupAll(setup.inst, true)
	if err != nil {
		t.Fatalf("backup-all: %v", err)
	}
	if setup.ctl.stops != 1 || setup.ctl.starts != 1 {
		t.Fatalf("expected one stop and one start, got %d/%d", setup.ctl.stops, setup.ctl.starts)
	}
	if report.RestartErr != nil {
		t.Fatalf("unexpected restart error: %v", report.RestartErr)
	}
}

func TestBackupBracketSkipsStoppedInstance(t *testing.T) {
	setup := newTestEngine(t)

	if _, err := setup.engine.BackupAll(setup.inst, true); err != nil {
		t.Fatalf("backup-all: %v", err)
	}
	if setup.ctl.stops != 0 || setup.ctl.starts != 0 {
		t.Fatalf("stopped instance must not be cycled, got %d/%d", setup.ctl.stops, setup.ctl.starts)
	}
}

func TestBackupRestartFailureIsDistinct(t *testing.T) {
	setup := newTestEngine(t)
	setup.ctl.running = true
	setup.ctl.startErr = errors.New("port already bound")

	report, err := setup.engine.BackupAll(setup.inst, true)
	if err != nil {
		t.Fatalf("backup must still succeed, got %v", err)
	}
	if len(report.Created) != 4 {
		t.Fatalf("expected 4 artifacts, got %v", report.Created)
	}
	if report.RestartErr == nil {
		t.Fatalf("restart failure must be reported")
	}
}

func TestRestoreWorldRejectsTraversal(t *testing.T) {
	setup := newTestEngine(t)

	outside := filepath.Join(setup.root, "world_backup_20260301_120000.mcworld")
	writeTestFile(t, outside, "not really a zip")

	_, err := setup.engine.RestoreWorld(setup.inst, outside, false)
	if !errors.Is(err, apperr.ErrUserInput) {
		t.Fatalf("expected traversal rejection, got %v", err)
	}

	traversal := filepath.Join(setup.root, "backups", "Survival", "..", "..", "world_backup_20260301_120000.mcworld")
	_, err = setup.engine.RestoreWorld(setup.inst, traversal, false)
	if !errors.Is(err, apperr.ErrUserInput) {
		t.Fatalf("expected traversal rejection, got %v", err)
	}
}

func TestRestoreWorldRoundTrip(t *testing.T) {
	setup := newTestEngine(t)

	artifact, _, err := setup.engine.BackupWorld(setup.inst, false)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	levelDat := filepath.Join(setup.inst.InstallDir, "worlds", "MyWorld", "level.dat")
	writeTestFile(t, levelDat, "corrupted")

	if _, err := setup.engine.RestoreWorld(setup.inst, artifact, false); err != nil {
		t.Fatalf("restore: %v", err)
	}

	body, err := os.ReadFile(levelDat)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "level data" {
		t.Fatalf("world not restored, got %q", body)
	}
}

func TestRestoreAllReportsMissingKinds(t *testing.T) {
	setup := newTestEngine(t)

	// Back up the world and two of the three config files.
	if _, _, err := setup.engine.BackupWorld(setup.inst, false); err != nil {
		t.Fatalf("backup world: %v", err)
	}
	if _, _, err := setup.engine.BackupConfigFile(setup.inst, "server.properties", false); err != nil {
		t.Fatalf("backup config: %v", err)
	}
	if _, _, err := setup.engine.BackupConfigFile(setup.inst, "permissions.json", false); err != nil {
		t.Fatalf("backup config: %v", err)
	}

	report, err := setup.engine.RestoreAll(setup.inst, false)
	if err != nil {
		t.Fatalf("restore-all: %v", err)
	}
	if len(report.Restored) != 3 {
		t.Fatalf("expected 3 restored artifacts, got %v", report.Restored)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "allowlist.json" {
		t.Fatalf("expected allowlist.json reported missing, got %v", report.Missing)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("missing artifact must not be a failure: %+v", report.Failures)
	}
}

func TestPruneKeepsNewestPerKind(t *testing.T) {
	setup := newTestEngine(t)
	backupDir := filepath.Join(setup.root, "backups", "Survival")

	// Five world artifacts and three server.properties artifacts with
	// increasing mod times.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)
	var worldNames []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("world_backup_2026030%d_000000.mcworld", i+1)
		path := filepath.Join(backupDir, name)
		writeTestFile(t, path, "zip")
		stamp := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		worldNames = append(worldNames, name)
	}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("server_backup_2026030%d_000000.properties", i+1)
		path := filepath.Join(backupDir, name)
		writeTestFile(t, path, "props")
		stamp := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	// A foreign file must survive pruning untouched.
	writeTestFile(t, filepath.Join(backupDir, "notes.txt"), "keep me")

	report, err := setup.engine.Prune(setup.inst, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 4 {
		t.Fatalf("expected 4 deletions (3 world, 1 properties), got %v", report.Deleted)
	}

	remaining, err := setup.engine.List(setup.inst)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 4 {
		t.Fatalf("expected 2 artifacts per kind, got %+v", remaining)
	}
	for _, artifact := range remaining {
		if artifact.Filename == worldNames[0] || artifact.Filename == worldNames[1] || artifact.Filename == worldNames[2] {
			t.Fatalf("an old world artifact survived: %s", artifact.Filename)
		}
	}

	if _, err := os.Stat(filepath.Join(backupDir, "notes.txt")); err != nil {
		t.Fatalf("foreign file must not be pruned: %v", err)
	}
}

func TestPruneKeepLargerThanPopulation(t *testing.T) {
	setup := newTestEngine(t)

	if _, _, err := setup.engine.BackupWorld(setup.inst, false); err != nil {
		t.Fatalf("backup: %v", err)
	}

	report, err := setup.engine.Prune(setup.inst, 10)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(report.Deleted) != 0 {
		t.Fatalf("nothing should be deleted, got %v", report.Deleted)
	}
}

func TestBackupReplicatesToDestination(t *testing.T) {
	setup := newTestEngine(t)
	destDir := filepath.Join(setup.root, "offsite")
	setup.engine.dest = NewLocalDestination(destDir)

	artifact, report, err := setup.engine.BackupWorld(setup.inst, false)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !report.OK() {
		t.Fatalf("replication failed: %+v", report.Failures)
	}

	if _, err := os.Stat(filepath.Join(destDir, filepath.Base(artifact))); err != nil {
		t.Fatalf("artifact not replicated: %v", err)
	}
}
