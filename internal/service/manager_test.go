package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

type fakeRunner struct {
	calls        [][]string
	missing      map[string]bool
	isEnabledOut string
	isEnabledErr error
}

func (f *fakeRunner) Run(name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(args) > 1 && args[1] == "is-enabled" {
		return f.isEnabledOut, f.isEnabledErr
	}
	return "", nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + name, nil
}

type fakeFlags struct {
	autoupdate map[string]bool
	autostart  map[string]bool
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{autoupdate: map[string]bool{}, autostart: map[string]bool{}}
}

func (f *fakeFlags) SetAutoupdate(name string, enabled bool) error {
	f.autoupdate[name] = enabled
	return nil
}

func (f *fakeFlags) SetAutostart(name string, enabled bool) error {
	f.autostart[name] = enabled
	return nil
}

func newTestManager(t *testing.T, runner *fakeRunner, goos string) (*Manager, string) {
	t.Helper()
	unitDir := t.TempDir()
	mgr, err := NewManager(Options{
		Runner:  runner,
		Store:   newFakeFlags(),
		UnitDir: unitDir,
		SelfExe: "/usr/local/bin/bedrockmgr",
		GOOS:    goos,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, unitDir
}

func TestConfigureWritesUnit(t *testing.T) {
	runner := &fakeRunner{}
	mgr, unitDir := newTestManager(t, runner, "linux")
	inst := server.Instance{Name: "Survival", InstallDir: "/srv/servers/Survival"}

	if err := mgr.Configure(inst, true, true); err != nil {
		t.Fatalf("configure: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(unitDir, "bedrock-Survival.service"))
	if err != nil {
		t.Fatalf("unit file not written: %v", err)
	}
	unit := string(body)
	for _, want := range []string{
		"Type=forking",
		"ExecStart=/usr/bin/screen -dmS bedrock-Survival",
		"ExecStartPre=/usr/local/bin/bedrockmgr update --server Survival",
		"WorkingDirectory=/srv/servers/Survival",
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}

	last := runner.calls[len(runner.calls)-1]
	if last[2] != "enable" {
		t.Fatalf("autostart must enable the unit, got %v", last)
	}
}

func TestConfigureWithoutAutoupdateOmitsPre(t *testing.T) {
	runner := &fakeRunner{}
	mgr, unitDir := newTestManager(t, runner, "linux")
	inst := server.Instance{Name: "Survival", InstallDir: "/srv/servers/Survival"}

	if err := mgr.Configure(inst, false, false); err != nil {
		t.Fatalf("configure: %v", err)
	}

	body, _ := os.ReadFile(filepath.Join(unitDir, "bedrock-Survival.service"))
	if strings.Contains(string(body), "ExecStartPre") {
		t.Fatalf("unexpected ExecStartPre without autoupdate:\n%s", body)
	}

	last := runner.calls[len(runner.calls)-1]
	if last[2] != "disable" {
		t.Fatalf("autostart=false must disable the unit, got %v", last)
	}
}

func TestConfigureWindowsPersistsFlagsOnly(t *testing.T) {
	runner := &fakeRunner{}
	flags := newFakeFlags()
	mgr, err := NewManager(Options{
		Runner:  runner,
		Store:   flags,
		UnitDir: t.TempDir(),
		SelfExe: `C:\bsm\bedrockmgr.exe`,
		GOOS:    "windows",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	inst := server.Instance{Name: "Survival", InstallDir: `C:\servers\Survival`}
	if err := mgr.Configure(inst, true, true); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !flags.autoupdate["Survival"] || !flags.autostart["Survival"] {
		t.Fatalf("flags not persisted: %+v", flags)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no host commands expected on windows, got %v", runner.calls)
	}
}

func TestConfigureMissingSystemctl(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"systemctl": true}}
	mgr, _ := newTestManager(t, runner, "linux")
	inst := server.Instance{Name: "Survival", InstallDir: "/srv/servers/Survival"}

	err := mgr.Configure(inst, true, false)
	if !errors.Is(err, apperr.ErrCommandNotFound) {
		t.Fatalf("expected command-not-found, got %v", err)
	}
}

func TestStartUnitWithoutUnitFallsBack(t *testing.T) {
	runner := &fakeRunner{}
	mgr, _ := newTestManager(t, runner, "linux")

	started, err := mgr.StartUnit("Survival")
	if err != nil {
		t.Fatalf("start unit: %v", err)
	}
	if started {
		t.Fatalf("no unit file exists; StartUnit must report false")
	}
}

func TestStartUnitUsesSystemctl(t *testing.T) {
	runner := &fakeRunner{}
	mgr, unitDir := newTestManager(t, runner, "linux")
	if err := os.WriteFile(filepath.Join(unitDir, "bedrock-Survival.service"), []byte("[Unit]\n"), 0644); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	started, err := mgr.StartUnit("Survival")
	if err != nil {
		t.Fatalf("start unit: %v", err)
	}
	if !started {
		t.Fatalf("expected unit start")
	}
	last := runner.calls[len(runner.calls)-1]
	if last[2] != "start" || last[3] != "bedrock-Survival.service" {
		t.Fatalf("unexpected systemctl call %v", last)
	}
}

func TestRemoveMissingUnitIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	mgr, _ := newTestManager(t, runner, "linux")

	if err := mgr.Remove("Survival"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no commands expected for a missing unit, got %v", runner.calls)
	}
}
