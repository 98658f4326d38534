package service

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

// AutoupdateStore persists the per-instance autoupdate flag. On
// Windows that flag is the whole of the service configuration.
type AutoupdateStore interface {
	SetAutoupdate(name string, enabled bool) error
	SetAutostart(name string, enabled bool) error
}

// Runner executes host commands; satisfied by server.ExecRunner.
type Runner interface {
	Run(name string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

// Manager owns the per-instance service units.
type Manager struct {
	runner  Runner
	store   AutoupdateStore
	unitDir string
	selfExe string
	goos    string
}

// Options configures a service Manager.
type Options struct {
	Runner  Runner
	Store   AutoupdateStore
	UnitDir string // defaults to ~/.config/systemd/user
	SelfExe string // defaults to the running executable
	GOOS    string // defaults to runtime.GOOS
}

// NewManager creates a service manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Runner == nil {
		opts.Runner = server.ExecRunner{}
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.SelfExe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		opts.SelfExe = exe
	}
	if opts.UnitDir == "" && opts.GOOS == "linux" {
		dir, err := DefaultUnitDir()
		if err != nil {
			return nil, err
		}
		opts.UnitDir = dir
	}

	return &Manager{
		runner:  opts.Runner,
		store:   opts.Store,
		unitDir: opts.UnitDir,
		selfExe: opts.SelfExe,
		goos:    opts.GOOS,
	}, nil
}

// Configure creates or rewrites the instance's service registration.
// On Linux it writes the unit file and enables or disables it per the
// autostart flag; on Windows only the flags are persisted.
func (m *Manager) Configure(inst server.Instance, autostart, autoupdate bool) error {
	if m.store != nil {
		if err := m.store.SetAutoupdate(inst.Name, autoupdate); err != nil {
			return fmt.Errorf("failed to persist autoupdate for %s: %w", inst.Name, err)
		}
		if err := m.store.SetAutostart(inst.Name, autostart); err != nil {
			return fmt.Errorf("failed to persist autostart for %s: %w", inst.Name, err)
		}
	}

	if m.goos != "linux" {
		// No service manager integration off Linux; the flags above are
		// honored by the updater and the manager's own startup.
		return nil
	}

	if err := m.requireSystemctl(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create unit directory %s: %v", m.unitDir, err)
	}

	unitPath := filepath.Join(m.unitDir, UnitName(inst.Name))
	if err := os.WriteFile(unitPath, []byte(renderUnit(inst, m.selfExe, autoupdate)), 0644); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to write unit %s: %v", unitPath, err)
	}

	if out, err := m.runner.Run("systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload failed: %w (output: %s)", err, strings.TrimSpace(out))
	}

	if autostart {
		return m.Enable(inst.Name)
	}
	return m.Disable(inst.Name)
}

// Enable marks the instance's unit to start at login.
func (m *Manager) Enable(instance string) error {
	if m.goos != "linux" {
		return apperr.Wrap(apperr.ErrUnsupportedPlatform, "service units are Linux only")
	}
	if err := m.requireSystemctl(); err != nil {
		return err
	}
	if out, err := m.runner.Run("systemctl", "--user", "enable", UnitName(instance)); err != nil {
		return fmt.Errorf("failed to enable %s: %w (output: %s)", UnitName(instance), err, strings.TrimSpace(out))
	}
	return nil
}

// Disable removes the instance's unit from login startup.
func (m *Manager) Disable(instance string) error {
	if m.goos != "linux" {
		return apperr.Wrap(apperr.ErrUnsupportedPlatform, "service units are Linux only")
	}
	if err := m.requireSystemctl(); err != nil {
		return err
	}
	if out, err := m.runner.Run("systemctl", "--user", "disable", UnitName(instance)); err != nil {
		return fmt.Errorf("failed to disable %s: %w (output: %s)", UnitName(instance), err, strings.TrimSpace(out))
	}
	return nil
}

// Remove disables and deletes the instance's unit file. Missing units
// are a no-op so instance deletion stays idempotent.
func (m *Manager) Remove(instance string) error {
	if m.goos != "linux" {
		return nil
	}

	unitPath := filepath.Join(m.unitDir, UnitName(instance))
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return nil
	}

	if err := m.Disable(instance); err != nil {
		log.Printf("[Service] Disable before removal of %s failed: %v", UnitName(instance), err)
	}
	if err := os.Remove(unitPath); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to remove unit %s: %v", unitPath, err)
	}
	if out, err := m.runner.Run("systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload failed: %w (output: %s)", err, strings.TrimSpace(out))
	}
	return nil
}

// StartUnit starts the instance through its unit if one is registered.
// It reports false when no unit file exists so the caller can fall
// back to a direct launch.
func (m *Manager) StartUnit(instance string) (bool, error) {
	if m.goos != "linux" {
		return false, nil
	}

	unitPath := filepath.Join(m.unitDir, UnitName(instance))
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return false, nil
	}
	if err := m.requireSystemctl(); err != nil {
		return false, err
	}

	if out, err := m.runner.Run("systemctl", "--user", "start", UnitName(instance)); err != nil {
		return true, fmt.Errorf("failed to start %s: %w (output: %s)", UnitName(instance), err, strings.TrimSpace(out))
	}
	return true, nil
}

// IsEnabled reports whether the instance's unit starts at login.
func (m *Manager) IsEnabled(instance string) (bool, error) {
	if m.goos != "linux" {
		return false, nil
	}
	if err := m.requireSystemctl(); err != nil {
		return false, err
	}

	out, err := m.runner.Run("systemctl", "--user", "is-enabled", UnitName(instance))
	state := strings.TrimSpace(out)
	if err != nil {
		// is-enabled exits non-zero for disabled and unknown units.
		return false, nil
	}
	return state == "enabled", nil
}

func (m *Manager) requireSystemctl() error {
	if _, err := m.runner.LookPath("systemctl"); err != nil {
		return apperr.Wrap(apperr.ErrCommandNotFound, "systemctl is not available")
	}
	return nil
}
