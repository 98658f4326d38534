package sched

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

type fakeSchtasks struct {
	calls [][]string
	err   error
}

func (f *fakeSchtasks) Run(name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return "", f.err
}

func (f *fakeSchtasks) LookPath(name string) (string, error) {
	return `C:\Windows\System32\` + name + ".exe", nil
}

func newTestTaskBridge(t *testing.T, runner *fakeSchtasks) (*TaskBridge, string) {
	t.Helper()
	root := t.TempDir()
	bridge := NewTaskBridge(runner, `C:\bsm\bedrockmgr.exe`, func(instance string) string {
		return filepath.Join(root, instance)
	})
	stamp := mustTime(t, "2026-03-01T12:00:00")
	bridge.now = func() time.Time { return stamp }
	return bridge, root
}

func weeklyBackupTask(t *testing.T) ScheduledTask {
	return ScheduledTask{
		Command: "backup-all",
		Triggers: []Trigger{{
			Type:  TriggerWeekly,
			Start: mustTime(t, "2026-03-07T05:00:00"),
			Days:  []string{"Saturday", "Sunday"},
		}},
	}
}

func TestTaskAddRendersWeeklyXML(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, root := newTestTaskBridge(t, runner)

	name, err := bridge.Add("Survival", weeklyBackupTask(t))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(name, "bedrock_Survival_backup_all_") {
		t.Fatalf("unexpected task name %q", name)
	}

	body, err := os.ReadFile(filepath.Join(root, "Survival", name+".xml"))
	if err != nil {
		t.Fatalf("definition file missing: %v", err)
	}
	xml := string(body)
	for _, want := range []string{
		"<Saturday></Saturday>",
		"<Sunday></Sunday>",
		"<StartBoundary>2026-03-07T05:00:00</StartBoundary>",
		"<Arguments>backup-all --server Survival</Arguments>",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("XML missing %q:\n%s", want, xml)
		}
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected one schtasks call, got %v", runner.calls)
	}
	call := runner.calls[0]
	if call[0] != "schtasks" || call[1] != "/Create" || call[3] != name {
		t.Fatalf("unexpected registration call %v", call)
	}
}

func TestTaskAddRejectsUnknownCommand(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, _ := newTestTaskBridge(t, runner)

	_, err := bridge.Add("Survival", ScheduledTask{Command: "rm-rf", Triggers: []Trigger{{Type: TriggerLogon}}})
	if !errors.Is(err, apperr.ErrUserInput) {
		t.Fatalf("expected allowlist rejection, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no OS call expected for a rejected command, got %v", runner.calls)
	}
}

func TestTaskModifyReturnsNewName(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, root := newTestTaskBridge(t, runner)

	oldName, err := bridge.Add("Survival", weeklyBackupTask(t))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// A later clock gives the replacement a distinct timestamp suffix.
	stamp := mustTime(t, "2026-03-02T12:00:00")
	bridge.now = func() time.Time { return stamp }

	task := weeklyBackupTask(t)
	task.Triggers[0].Days = []string{"Sunday"}
	newName, err := bridge.Modify("Survival", oldName, task)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if newName == oldName {
		t.Fatalf("modify must produce a fresh task name")
	}

	if _, err := os.Stat(filepath.Join(root, "Survival", oldName+".xml")); !os.IsNotExist(err) {
		t.Fatalf("old definition file must be gone")
	}
	if _, err := os.Stat(filepath.Join(root, "Survival", newName+".xml")); err != nil {
		t.Fatalf("new definition file missing: %v", err)
	}
}

func TestTaskRemoveUnknown(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, _ := newTestTaskBridge(t, runner)

	err := bridge.Remove("Survival", "bedrock_Survival_backup_all_19700101000000")
	if !errors.Is(err, apperr.ErrFileNotFound) {
		t.Fatalf("expected file-not-found, got %v", err)
	}
}

func TestTaskGetRoundTrip(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, _ := newTestTaskBridge(t, runner)

	task := ScheduledTask{
		Command: "update-server",
		Triggers: []Trigger{
			{Type: TriggerDaily, Start: mustTime(t, "2026-03-01T03:30:00"), Interval: 2},
			{Type: TriggerMonthly, Start: mustTime(t, "2026-03-01T04:00:00"), DaysOfMonth: []int{1, 15}, Months: []string{"January", "July"}},
			{Type: TriggerLogon},
		},
	}

	name, err := bridge.Add("Survival", task)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := bridge.Get("Survival", name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Command != "update-server" {
		t.Fatalf("command round-trip: %q", got.Command)
	}
	if len(got.Triggers) != 3 {
		t.Fatalf("expected 3 triggers, got %+v", got.Triggers)
	}

	daily := got.Triggers[0]
	if daily.Type != TriggerDaily || daily.Interval != 2 {
		t.Fatalf("daily trigger mangled: %+v", daily)
	}
	monthly := got.Triggers[1]
	if monthly.Type != TriggerMonthly || len(monthly.DaysOfMonth) != 2 || len(monthly.Months) != 2 {
		t.Fatalf("monthly trigger mangled: %+v", monthly)
	}
	if got.Triggers[2].Type != TriggerLogon {
		t.Fatalf("logon trigger mangled: %+v", got.Triggers[2])
	}
}

func TestTaskGetMalformedXML(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, root := newTestTaskBridge(t, runner)

	dir := filepath.Join(root, "Survival")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := "bedrock_Survival_backup_all_20260301120000"
	if err := os.WriteFile(filepath.Join(dir, name+".xml"), []byte("<Task><broken"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := bridge.Get("Survival", name)
	if !errors.Is(err, apperr.ErrConfigParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestTaskListFiltersForeignFiles(t *testing.T) {
	runner := &fakeSchtasks{}
	bridge, root := newTestTaskBridge(t, runner)

	name, err := bridge.Add("Survival", weeklyBackupTask(t))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	dir := filepath.Join(root, "Survival")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bedrock_Creative_start_server_20260301120000.xml"), []byte("<Task/>"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tasks, names, err := bridge.List("Survival")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != name {
		t.Fatalf("unexpected names %v", names)
	}
	if tasks[name].Command != "backup-all" {
		t.Fatalf("unexpected task %+v", tasks[name])
	}
}
