// Package properties reads and writes the three standard configuration
// files of a Bedrock server installation: server.properties,
// allowlist.json and permissions.json.
package properties

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// Standard config file names inside a server installation directory.
const (
	ServerPropertiesFile = "server.properties"
	AllowlistFile        = "allowlist.json"
	PermissionsFile      = "permissions.json"
)

// StandardFiles lists the config files covered by backup-all and
// restore-all, in a stable order.
var StandardFiles = []string{ServerPropertiesFile, AllowlistFile, PermissionsFile}

// AllowlistEntry is one row of allowlist.json.
type AllowlistEntry struct {
	Name               string `json:"name"`
	XUID               string `json:"xuid,omitempty"`
	IgnoresPlayerLimit bool   `json:"ignoresPlayerLimit"`
}

// PermissionEntry is one row of permissions.json.
type PermissionEntry struct {
	Permission string `json:"permission"`
	XUID       string `json:"xuid"`
}

// Manager resolves config files relative to each instance's
// installation directory.
type Manager struct {
	serverDir func(name string) string
}

// NewManager creates a properties manager. serverDir maps an instance
// name to its installation directory.
func NewManager(serverDir func(name string) string) *Manager {
	return &Manager{serverDir: serverDir}
}

// PropertiesPath returns the server.properties path for an instance.
func (m *Manager) PropertiesPath(instance string) string {
	return filepath.Join(m.serverDir(instance), ServerPropertiesFile)
}

// GetWorldName returns the level-name declared in server.properties.
func (m *Manager) GetWorldName(instance string) (string, error) {
	value, err := m.GetProperty(instance, "level-name")
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", apperr.Wrap(apperr.ErrConfigParse, "server.properties for %s declares no level-name", instance)
	}
	return value, nil
}

// GetProperty returns one key from server.properties, or "" if absent.
func (m *Manager) GetProperty(instance, key string) (string, error) {
	pairs, _, err := m.readProperties(instance)
	if err != nil {
		return "", err
	}
	return pairs[key], nil
}

// SetProperty updates or appends one key in server.properties,
// preserving file order and comments.
func (m *Manager) SetProperty(instance, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return apperr.Wrap(apperr.ErrUserInput, "property key is empty")
	}

	_, lines, err := m.readProperties(instance)
	if err != nil {
		return err
	}

	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
			lines[i] = key + "=" + value
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, key+"="+value)
	}

	path := m.PropertiesPath(instance)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to write %s: %v", path, err)
	}
	return nil
}

func (m *Manager) readProperties(instance string) (map[string]string, []string, error) {
	path := m.PropertiesPath(instance)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apperr.Wrap(apperr.ErrFileNotFound, "%s", path)
		}
		return nil, nil, apperr.Wrap(apperr.ErrFileOperation, "failed to open %s: %v", path, err)
	}
	defer file.Close()

	pairs := make(map[string]string)
	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, v, ok := strings.Cut(trimmed, "="); ok {
			pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, apperr.Wrap(apperr.ErrFileOperation, "failed to read %s: %v", path, err)
	}

	return pairs, lines, nil
}

// ReadAllowlist parses allowlist.json. A missing file is an empty list.
func (m *Manager) ReadAllowlist(instance string) ([]AllowlistEntry, error) {
	var entries []AllowlistEntry
	if err := m.readJSON(instance, AllowlistFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteAllowlist replaces allowlist.json.
func (m *Manager) WriteAllowlist(instance string, entries []AllowlistEntry) error {
	return m.writeJSON(instance, AllowlistFile, entries)
}

// ReadPermissions parses permissions.json. A missing file is an empty
// list.
func (m *Manager) ReadPermissions(instance string) ([]PermissionEntry, error) {
	var entries []PermissionEntry
	if err := m.readJSON(instance, PermissionsFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// WritePermissions replaces permissions.json.
func (m *Manager) WritePermissions(instance string, entries []PermissionEntry) error {
	return m.writeJSON(instance, PermissionsFile, entries)
}

func (m *Manager) readJSON(instance, filename string, out interface{}) error {
	path := filepath.Join(m.serverDir(instance), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.ErrFileOperation, "failed to read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.ErrConfigParse, "malformed %s for %s: %v", filename, instance, err)
	}
	return nil
}

func (m *Manager) writeJSON(instance, filename string, value interface{}) error {
	path := filepath.Join(m.serverDir(instance), filename)
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filename, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to write %s: %v", path, err)
	}
	return nil
}
