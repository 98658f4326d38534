package sched

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// taskNameLayout is the timestamp suffix embedded in task names. A
// fresh name per registration makes modify a delete-plus-create and
// the returned name authoritative.
const taskNameLayout = "20060102150405"

// TaskBridge registers per-instance tasks with the Windows Task
// Scheduler. Each task is backed by one XML definition file under the
// instance's configuration directory; the registered task name is the
// file's logical key.
type TaskBridge struct {
	runner  Runner
	selfExe string
	// configDir resolves the instance's configuration directory.
	configDir func(instance string) string
	now       func() time.Time
}

// NewTaskBridge creates the Windows scheduler backend.
func NewTaskBridge(runner Runner, selfExe string, configDir func(instance string) string) *TaskBridge {
	return &TaskBridge{runner: runner, selfExe: selfExe, configDir: configDir, now: time.Now}
}

// TaskName builds the registered name for a command scheduled now.
func (b *TaskBridge) taskName(instance, command string) string {
	safe := strings.ReplaceAll(command, "-", "_")
	return fmt.Sprintf("bedrock_%s_%s_%s", instance, safe, b.now().Format(taskNameLayout))
}

func (b *TaskBridge) taskFile(instance, name string) string {
	return filepath.Join(b.configDir(instance), name+".xml")
}

// Add validates the task, writes its definition file and registers it.
// The returned name is the task's identity for modify and remove.
func (b *TaskBridge) Add(instance string, task ScheduledTask) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}

	body, err := renderTaskXML(instance, b.selfExe, task, b.now())
	if err != nil {
		return "", err
	}

	dir := b.configDir(instance)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to create task directory %s: %v", dir, err)
	}

	name := b.taskName(instance, task.Command)
	path := b.taskFile(instance, name)
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to write task file %s: %v", path, err)
	}

	output, err := b.runner.Run("schtasks", "/Create", "/TN", name, "/XML", path, "/F")
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to register task %s: %w (output: %s)", name, err, strings.TrimSpace(output))
	}

	return name, nil
}

// Modify removes the old task and registers the replacement. The old
// name is gone afterwards; callers must adopt the returned name.
func (b *TaskBridge) Modify(instance, oldName string, task ScheduledTask) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	if err := b.Remove(instance, oldName); err != nil {
		return "", err
	}
	return b.Add(instance, task)
}

// Remove unregisters the task and deletes its definition file.
func (b *TaskBridge) Remove(instance, name string) error {
	path := b.taskFile(instance, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return apperr.Wrap(apperr.ErrFileNotFound, "no task %s for %s", name, instance)
	}

	if output, err := b.runner.Run("schtasks", "/Delete", "/TN", name, "/F"); err != nil {
		return fmt.Errorf("failed to unregister task %s: %w (output: %s)", name, err, strings.TrimSpace(output))
	}
	if err := os.Remove(path); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to remove task file %s: %v", path, err)
	}
	return nil
}

// Get parses one task's definition file back into the trigger model.
func (b *TaskBridge) Get(instance, name string) (ScheduledTask, error) {
	body, err := os.ReadFile(b.taskFile(instance, name))
	if err != nil {
		if os.IsNotExist(err) {
			return ScheduledTask{}, apperr.Wrap(apperr.ErrFileNotFound, "no task %s for %s", name, instance)
		}
		return ScheduledTask{}, apperr.Wrap(apperr.ErrFileOperation, "failed to read task %s: %v", name, err)
	}
	return parseTaskXML(body)
}

// List returns all registered task names and definitions for the
// instance, sorted by name so the timestamp suffix gives creation
// order.
func (b *TaskBridge) List(instance string) (map[string]ScheduledTask, []string, error) {
	entries, err := os.ReadDir(b.configDir(instance))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ScheduledTask{}, nil, nil
		}
		return nil, nil, apperr.Wrap(apperr.ErrFileOperation, "failed to list tasks for %s: %v", instance, err)
	}

	tasks := make(map[string]ScheduledTask)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".xml")
		if !strings.HasPrefix(name, "bedrock_"+instance+"_") {
			continue
		}
		task, err := b.Get(instance, name)
		if err != nil {
			continue
		}
		tasks[name] = task
		names = append(names, name)
	}
	sort.Strings(names)

	return tasks, names, nil
}
