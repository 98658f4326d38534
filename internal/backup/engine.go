package backup

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/properties"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

// Controller is the slice of the supervisor the engine needs for the
// stop/start bracket. The engine never talks to the process directly.
type Controller interface {
	Start(inst server.Instance) error
	Stop(inst server.Instance) error
	Probe(inst server.Instance) (server.ProbeResult, error)
}

// WorldNamer resolves the active world directory name from the
// instance's properties file.
type WorldNamer interface {
	GetWorldName(instance string) (string, error)
}

// Failure records one per-item failure inside a batch operation.
type Failure struct {
	Item string
	Err  error
}

// Report is the structured outcome of a batch operation. Batches
// complete as far as they can and collect failures instead of
// aborting.
type Report struct {
	Instance string
	Created  []string
	Restored []string
	Deleted  []string
	// Missing lists kinds restore-all found no artifact for.
	Missing  []string
	Failures []Failure
	// RestartErr is set when the operation itself succeeded but the
	// instance could not be restarted afterwards.
	RestartErr error
}

// OK reports whether the batch completed without failures.
func (r *Report) OK() bool {
	return len(r.Failures) == 0 && r.RestartErr == nil
}

// Engine creates, restores, prunes and replicates backup artifacts.
// Calls against the same instance must be serialized by the caller;
// the stop/start bracket is not reentrant-safe.
type Engine struct {
	ctl       Controller
	worlds    WorldNamer
	serverDir func(instance string) string
	backupDir func(instance string) string
	dest      Destination
	now       func() time.Time
}

// NewEngine creates a backup engine. dest may be nil when off-site
// replication is not configured.
func NewEngine(ctl Controller, worlds WorldNamer, serverDir, backupDir func(string) string, dest Destination) *Engine {
	return &Engine{
		ctl:       ctl,
		worlds:    worlds,
		serverDir: serverDir,
		backupDir: backupDir,
		dest:      dest,
		now:       time.Now,
	}
}

// BackupWorld zips the instance's active world into a timestamped
// artifact and returns the artifact path.
func (e *Engine) BackupWorld(inst server.Instance, stopStart bool) (string, *Report, error) {
	report := &Report{Instance: inst.Name}

	var artifact string
	err := e.bracket(inst, stopStart, report, func() error {
		path, err := e.backupWorld(inst)
		if err != nil {
			return err
		}
		artifact = path
		report.Created = append(report.Created, filepath.Base(path))
		e.replicate(path, report)
		return nil
	})
	return artifact, report, err
}

// BackupConfigFile copies one named config file into a timestamped
// sibling in the backup directory.
func (e *Engine) BackupConfigFile(inst server.Instance, filename string, stopStart bool) (string, *Report, error) {
	report := &Report{Instance: inst.Name}

	var artifact string
	err := e.bracket(inst, stopStart, report, func() error {
		path, err := e.backupConfigFile(inst, filename)
		if err != nil {
			return err
		}
		artifact = path
		report.Created = append(report.Created, filepath.Base(path))
		e.replicate(path, report)
		return nil
	})
	return artifact, report, err
}

// BackupAll archives the world and the three standard config files as
// one logical unit. A failing file is recorded and the rest still run.
func (e *Engine) BackupAll(inst server.Instance, stopStart bool) (*Report, error) {
	report := &Report{Instance: inst.Name}

	err := e.bracket(inst, stopStart, report, func() error {
		if path, err := e.backupWorld(inst); err != nil {
			report.Failures = append(report.Failures, Failure{Item: KindWorld, Err: err})
		} else {
			report.Created = append(report.Created, filepath.Base(path))
			e.replicate(path, report)
		}

		for _, file := range properties.StandardFiles {
			path, err := e.backupConfigFile(inst, file)
			if err != nil {
				report.Failures = append(report.Failures, Failure{Item: file, Err: err})
				continue
			}
			report.Created = append(report.Created, filepath.Base(path))
			e.replicate(path, report)
		}
		return nil
	})
	return report, err
}

// RestoreWorld extracts a world artifact over the instance's active
// world directory. The artifact must live inside the instance's
// backup directory.
func (e *Engine) RestoreWorld(inst server.Instance, artifactPath string, stopStart bool) (*Report, error) {
	report := &Report{Instance: inst.Name}

	err := e.bracket(inst, stopStart, report, func() error {
		if err := e.restoreWorld(inst, artifactPath); err != nil {
			return err
		}
		report.Restored = append(report.Restored, filepath.Base(artifactPath))
		return nil
	})
	return report, err
}

// RestoreConfig copies a config artifact back over its source file.
func (e *Engine) RestoreConfig(inst server.Instance, artifactPath string, stopStart bool) (*Report, error) {
	report := &Report{Instance: inst.Name}

	err := e.bracket(inst, stopStart, report, func() error {
		if err := e.restoreConfig(inst, artifactPath); err != nil {
			return err
		}
		report.Restored = append(report.Restored, filepath.Base(artifactPath))
		return nil
	})
	return report, err
}

// RestoreAll restores the newest artifact of each kind. Kinds with no
// artifact are reported as missing, not errors.
func (e *Engine) RestoreAll(inst server.Instance, stopStart bool) (*Report, error) {
	report := &Report{Instance: inst.Name}

	artifacts, err := e.listArtifacts(inst)
	if err != nil {
		return report, err
	}
	newest := newestPerKind(artifacts)

	err = e.bracket(inst, stopStart, report, func() error {
		if world, ok := newest[KindWorld]; ok {
			path := filepath.Join(e.backupDir(inst.Name), world.Filename)
			if err := e.restoreWorld(inst, path); err != nil {
				report.Failures = append(report.Failures, Failure{Item: world.Filename, Err: err})
			} else {
				report.Restored = append(report.Restored, world.Filename)
			}
		} else {
			report.Missing = append(report.Missing, KindWorld)
		}

		for _, file := range properties.StandardFiles {
			kind := configKind(file)
			artifact, ok := newest[kind]
			if !ok {
				report.Missing = append(report.Missing, file)
				continue
			}
			path := filepath.Join(e.backupDir(inst.Name), artifact.Filename)
			if err := e.restoreConfig(inst, path); err != nil {
				report.Failures = append(report.Failures, Failure{Item: artifact.Filename, Err: err})
				continue
			}
			report.Restored = append(report.Restored, artifact.Filename)
		}
		return nil
	})
	return report, err
}

// Prune keeps the newest keepPerKind artifacts of each kind and
// deletes the rest. Deletion failures are collected, not fatal.
func (e *Engine) Prune(inst server.Instance, keepPerKind int) (*Report, error) {
	report := &Report{Instance: inst.Name}
	if keepPerKind < 0 {
		return report, apperr.Wrap(apperr.ErrUserInput, "keep count must not be negative")
	}

	artifacts, err := e.listArtifacts(inst)
	if err != nil {
		return report, err
	}

	byKind := make(map[string][]storedArtifact)
	for _, artifact := range artifacts {
		byKind[artifact.Kind] = append(byKind[artifact.Kind], artifact)
	}

	for _, group := range byKind {
		// Newest by modification time first.
		sort.Slice(group, func(i, j int) bool {
			return group[i].ModTime.After(group[j].ModTime)
		})
		for _, stale := range group[min(keepPerKind, len(group)):] {
			path := filepath.Join(e.backupDir(inst.Name), stale.Filename)
			if err := os.Remove(path); err != nil {
				report.Failures = append(report.Failures, Failure{Item: stale.Filename, Err: err})
				continue
			}
			report.Deleted = append(report.Deleted, stale.Filename)
		}
	}

	sort.Strings(report.Deleted)
	return report, nil
}

// List returns all artifacts for the instance, newest first.
func (e *Engine) List(inst server.Instance) ([]Artifact, error) {
	stored, err := e.listArtifacts(inst)
	if err != nil {
		return nil, err
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].ModTime.After(stored[j].ModTime)
	})

	artifacts := make([]Artifact, 0, len(stored))
	for _, s := range stored {
		artifacts = append(artifacts, s.Artifact)
	}
	return artifacts, nil
}

func (e *Engine) backupWorld(inst server.Instance) (string, error) {
	worldName, err := e.worlds.GetWorldName(inst.Name)
	if err != nil {
		return "", err
	}

	worldDir := filepath.Join(e.serverDir(inst.Name), "worlds", worldName)
	if _, err := os.Stat(worldDir); err != nil {
		return "", apperr.Wrap(apperr.ErrFileNotFound, "world directory %s", worldDir)
	}

	dir := e.backupDir(inst.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to create backup directory %s: %v", dir, err)
	}

	artifact := filepath.Join(dir, worldArtifactName(e.now()))
	if err := zipDirectory(worldDir, artifact); err != nil {
		os.Remove(artifact)
		return "", err
	}

	log.Printf("[Backup] Archived world %s for %s -> %s", worldName, inst.Name, filepath.Base(artifact))
	return artifact, nil
}

func (e *Engine) backupConfigFile(inst server.Instance, filename string) (string, error) {
	source := filepath.Join(e.serverDir(inst.Name), filepath.Base(filename))
	artifact := filepath.Join(e.backupDir(inst.Name), configArtifactName(filename, e.now()))

	if err := copyFile(source, artifact); err != nil {
		return "", err
	}
	return artifact, nil
}

func (e *Engine) restoreWorld(inst server.Instance, artifactPath string) error {
	if err := e.validateArtifactPath(inst, artifactPath); err != nil {
		return err
	}
	parsed, err := ParseArtifact(artifactPath)
	if err != nil {
		return err
	}
	if parsed.Kind != KindWorld {
		return apperr.Wrap(apperr.ErrUserInput, "%s is not a world artifact", parsed.Filename)
	}

	worldName, err := e.worlds.GetWorldName(inst.Name)
	if err != nil {
		return err
	}

	worldDir := filepath.Join(e.serverDir(inst.Name), "worlds", worldName)
	if err := unzipDirectory(artifactPath, worldDir); err != nil {
		return err
	}

	log.Printf("[Backup] Restored world %s for %s from %s", worldName, inst.Name, filepath.Base(artifactPath))
	return nil
}

func (e *Engine) restoreConfig(inst server.Instance, artifactPath string) error {
	if err := e.validateArtifactPath(inst, artifactPath); err != nil {
		return err
	}
	parsed, err := ParseArtifact(artifactPath)
	if err != nil {
		return err
	}
	if parsed.Kind == KindWorld {
		return apperr.Wrap(apperr.ErrUserInput, "%s is a world artifact", parsed.Filename)
	}

	target := filepath.Join(e.serverDir(inst.Name), parsed.Kind+filepath.Ext(parsed.Filename))
	return copyFile(artifactPath, target)
}

// validateArtifactPath rejects artifact paths outside the instance's
// backup directory.
func (e *Engine) validateArtifactPath(inst server.Instance, artifactPath string) error {
	base, err := filepath.Abs(e.backupDir(inst.Name))
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to resolve backup directory: %v", err)
	}
	target, err := filepath.Abs(artifactPath)
	if err != nil {
		return apperr.Wrap(apperr.ErrUserInput, "bad artifact path %s: %v", artifactPath, err)
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apperr.Wrap(apperr.ErrUserInput, "artifact %s is outside the backup directory", artifactPath)
	}
	return nil
}

// bracket stops a running instance before fn and restarts it after. A
// restart failure after a successful fn lands in report.RestartErr so
// the operation outcome is not masked.
func (e *Engine) bracket(inst server.Instance, stopStart bool, report *Report, fn func() error) error {
	wasRunning := false
	if stopStart {
		probe, err := e.ctl.Probe(inst)
		if err != nil {
			return fmt.Errorf("probe failed for %s: %w", inst.Name, err)
		}
		if probe.Running {
			wasRunning = true
			if err := e.ctl.Stop(inst); err != nil {
				return fmt.Errorf("failed to stop %s before file operation: %w", inst.Name, err)
			}
		}
	}

	opErr := fn()

	if wasRunning {
		if err := e.ctl.Start(inst); err != nil {
			if opErr == nil {
				report.RestartErr = err
				log.Printf("[Backup] Operation on %s succeeded but restart failed: %v", inst.Name, err)
			} else {
				log.Printf("[Backup] Restart of %s after failed operation also failed: %v", inst.Name, err)
			}
		}
	}

	return opErr
}

// replicate pushes one artifact to the configured destination. A
// replication failure is reported alongside the successful backup.
func (e *Engine) replicate(artifactPath string, report *Report) {
	if e.dest == nil {
		return
	}

	file, err := os.Open(artifactPath)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Item: "replicate " + filepath.Base(artifactPath), Err: err})
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		report.Failures = append(report.Failures, Failure{Item: "replicate " + filepath.Base(artifactPath), Err: err})
		return
	}

	if err := e.dest.Upload(filepath.Base(artifactPath), file, info.Size()); err != nil {
		report.Failures = append(report.Failures, Failure{Item: "replicate " + filepath.Base(artifactPath), Err: err})
	}
}

// storedArtifact pairs a parsed artifact with its on-disk mod time,
// which drives retention ordering.
type storedArtifact struct {
	Artifact
	ModTime time.Time
}

func (e *Engine) listArtifacts(inst server.Instance) ([]storedArtifact, error) {
	entries, err := os.ReadDir(e.backupDir(inst.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.ErrFileOperation, "failed to read backup directory: %v", err)
	}

	var artifacts []storedArtifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parsed, err := ParseArtifact(entry.Name())
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, storedArtifact{Artifact: parsed, ModTime: info.ModTime()})
	}
	return artifacts, nil
}

func newestPerKind(artifacts []storedArtifact) map[string]storedArtifact {
	newest := make(map[string]storedArtifact)
	for _, artifact := range artifacts {
		current, ok := newest[artifact.Kind]
		if !ok || artifact.ModTime.After(current.ModTime) {
			newest[artifact.Kind] = artifact
		}
	}
	return newest
}

// configKind maps a tracked config filename to its artifact kind.
func configKind(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
