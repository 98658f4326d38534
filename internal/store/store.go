// Package store persists per-instance configuration records and player
// sightings in the manager database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// Target version policies. Anything else is a pinned version string.
const (
	TargetLatest  = "LATEST"
	TargetPreview = "PREVIEW"
)

// Instance is the persisted configuration record for one server.
type Instance struct {
	Name             string
	InstallDir       string
	InstalledVersion string
	TargetVersion    string
	Autostart        bool
	Autoupdate       bool
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Player is one recorded player sighting.
type Player struct {
	XUID         string
	Name         string
	LastSeen     time.Time
	LastInstance string
}

var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateInstanceName rejects names that are not filesystem safe.
func ValidateInstanceName(name string) error {
	if name == "" || len(name) > 64 || !instanceNamePattern.MatchString(name) {
		return apperr.Wrap(apperr.ErrInvalidServerName, "%q", name)
	}
	return nil
}

// Store provides access to instance and player records.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateInstance inserts a new instance record.
func (s *Store) CreateInstance(inst *Instance) error {
	if err := ValidateInstanceName(inst.Name); err != nil {
		return err
	}

	now := time.Now()
	if inst.TargetVersion == "" {
		inst.TargetVersion = TargetLatest
	}
	if inst.Status == "" {
		inst.Status = "Stopped"
	}

	_, err := s.db.Exec(`
		INSERT INTO instances (name, install_dir, installed_version, target_version, autostart, autoupdate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.Name, inst.InstallDir, inst.InstalledVersion, inst.TargetVersion, inst.Autostart, inst.Autoupdate, inst.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", inst.Name, err)
	}

	inst.CreatedAt = now
	inst.UpdatedAt = now
	return nil
}

// GetInstance loads one instance record.
func (s *Store) GetInstance(name string) (*Instance, error) {
	inst := &Instance{}
	err := s.db.QueryRow(`
		SELECT name, install_dir, installed_version, target_version, autostart, autoupdate, status, created_at, updated_at
		FROM instances WHERE name = ?
	`, name).Scan(
		&inst.Name, &inst.InstallDir, &inst.InstalledVersion, &inst.TargetVersion,
		&inst.Autostart, &inst.Autoupdate, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.ErrInvalidServerName, "unknown instance %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", name, err)
	}
	return inst, nil
}

// ListInstances returns every instance record.
func (s *Store) ListInstances() ([]*Instance, error) {
	rows, err := s.db.Query(`
		SELECT name, install_dir, installed_version, target_version, autostart, autoupdate, status, created_at, updated_at
		FROM instances ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst := &Instance{}
		if err := rows.Scan(
			&inst.Name, &inst.InstallDir, &inst.InstalledVersion, &inst.TargetVersion,
			&inst.Autostart, &inst.Autoupdate, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// DeleteInstance removes one instance record.
func (s *Store) DeleteInstance(name string) error {
	result, err := s.db.Exec(`DELETE FROM instances WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.ErrInvalidServerName, "unknown instance %q", name)
	}
	return nil
}

// GetStatus returns the last persisted lifecycle status.
func (s *Store) GetStatus(name string) (string, error) {
	inst, err := s.GetInstance(name)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

// SetStatus persists the lifecycle status.
func (s *Store) SetStatus(name, status string) error {
	return s.updateField(name, "status", status)
}

// GetInstalledVersion returns the recorded installed version.
func (s *Store) GetInstalledVersion(name string) (string, error) {
	inst, err := s.GetInstance(name)
	if err != nil {
		return "", err
	}
	return inst.InstalledVersion, nil
}

// SetInstalledVersion records the installed version.
func (s *Store) SetInstalledVersion(name, version string) error {
	return s.updateField(name, "installed_version", version)
}

// GetAutoupdate returns the autoupdate flag.
func (s *Store) GetAutoupdate(name string) (bool, error) {
	inst, err := s.GetInstance(name)
	if err != nil {
		return false, err
	}
	return inst.Autoupdate, nil
}

// SetAutoupdate persists the autoupdate flag.
func (s *Store) SetAutoupdate(name string, enabled bool) error {
	return s.updateField(name, "autoupdate", enabled)
}

// SetAutostart persists the autostart flag.
func (s *Store) SetAutostart(name string, enabled bool) error {
	return s.updateField(name, "autostart", enabled)
}

// SetTargetVersion persists the target version policy.
func (s *Store) SetTargetVersion(name, target string) error {
	if target == "" {
		target = TargetLatest
	}
	return s.updateField(name, "target_version", target)
}

func (s *Store) updateField(name, field string, value interface{}) error {
	// field is always one of our own column names, never caller input
	query := fmt.Sprintf(`UPDATE instances SET %s = ?, updated_at = ? WHERE name = ?`, field)
	result, err := s.db.Exec(query, value, time.Now(), name)
	if err != nil {
		return fmt.Errorf("failed to update %s for instance %s: %w", field, name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.ErrInvalidServerName, "unknown instance %q", name)
	}
	return nil
}

// UpsertPlayer records a player sighting.
func (s *Store) UpsertPlayer(xuid, name, instance string, seen time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO players (xuid, name, last_seen, last_instance)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(xuid) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen,
			last_instance = excluded.last_instance
	`, xuid, name, seen, instance)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", xuid, err)
	}
	return nil
}

// ListPlayers returns every recorded player.
func (s *Store) ListPlayers() ([]*Player, error) {
	rows, err := s.db.Query(`SELECT xuid, name, last_seen, last_instance FROM players ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		p := &Player{}
		if err := rows.Scan(&p.XUID, &p.Name, &p.LastSeen, &p.LastInstance); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
