package updater

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/backup"
	"github.com/bedrockmgr/bedrock-server-manager/internal/properties"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
)

// InstanceStore is the slice of the store the updater needs.
type InstanceStore interface {
	GetInstance(name string) (*store.Instance, error)
	SetInstalledVersion(name, version string) error
}

// Controller brackets the install with a stop and restart.
type Controller interface {
	Start(inst server.Instance) error
	Stop(inst server.Instance) error
	Probe(inst server.Instance) (server.ProbeResult, error)
}

// Backupper takes the pre-update backup.
type Backupper interface {
	BackupAll(inst server.Instance, stopStart bool) (*backup.Report, error)
}

// Result describes one completed update.
type Result struct {
	Instance    string
	FromVersion string
	ToVersion   string
	// UpToDate is set when the installed version already matches the
	// target and nothing was touched.
	UpToDate bool
}

// Updater resolves an instance's target version, downloads the build
// and installs it in place. Worlds and the standard config files
// survive the install.
type Updater struct {
	store       InstanceStore
	ctl         Controller
	backups     Backupper
	client      *http.Client
	manifestURL string
	downloadDir string
}

// New creates an updater. downloadTimeout bounds one archive download.
func New(instanceStore InstanceStore, ctl Controller, backups Backupper, manifestURL, downloadDir string, downloadTimeout time.Duration) *Updater {
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Minute
	}
	return &Updater{
		store:       instanceStore,
		ctl:         ctl,
		backups:     backups,
		client:      &http.Client{Timeout: downloadTimeout},
		manifestURL: manifestURL,
		downloadDir: downloadDir,
	}
}

// Update brings the instance to its target version. The sequence is
// backup-all, stop, extract, restart; a failure after the stop leaves
// the instance stopped rather than restarting onto a half-written
// installation.
func (u *Updater) Update(inst server.Instance) (*Result, error) {
	record, err := u.store.GetInstance(inst.Name)
	if err != nil {
		return nil, err
	}

	manifest, err := FetchManifest(u.client, u.manifestURL)
	if err != nil {
		return nil, err
	}
	release, err := manifest.Resolve(record.TargetVersion)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Instance:    inst.Name,
		FromVersion: record.InstalledVersion,
		ToVersion:   release.Version,
	}
	if record.InstalledVersion == release.Version {
		result.UpToDate = true
		return result, nil
	}

	log.Printf("[Updater] Updating %s from %q to %s", inst.Name, record.InstalledVersion, release.Version)

	archive, err := u.download(release)
	if err != nil {
		return nil, err
	}
	defer os.Remove(archive)

	// Backup first; a failed backup aborts the update.
	report, err := u.backups.BackupAll(inst, false)
	if err != nil {
		return nil, fmt.Errorf("pre-update backup for %s failed: %w", inst.Name, err)
	}
	if len(report.Failures) > 0 {
		return nil, apperr.Wrap(apperr.ErrFileOperation, "pre-update backup for %s left %d failures", inst.Name, len(report.Failures))
	}

	probe, err := u.ctl.Probe(inst)
	if err != nil {
		return nil, fmt.Errorf("probe failed for %s: %w", inst.Name, err)
	}
	wasRunning := probe.Running
	if wasRunning {
		if err := u.ctl.Stop(inst); err != nil {
			return nil, fmt.Errorf("failed to stop %s before update: %w", inst.Name, err)
		}
	}

	if err := extractServer(archive, inst.InstallDir); err != nil {
		return nil, err
	}

	if err := u.store.SetInstalledVersion(inst.Name, release.Version); err != nil {
		return nil, fmt.Errorf("failed to record version for %s: %w", inst.Name, err)
	}

	if wasRunning {
		if err := u.ctl.Start(inst); err != nil {
			return result, fmt.Errorf("update of %s succeeded but restart failed: %w", inst.Name, err)
		}
	}

	log.Printf("[Updater] %s is now on %s", inst.Name, release.Version)
	return result, nil
}

func (u *Updater) download(release Release) (string, error) {
	if err := os.MkdirAll(u.downloadDir, 0755); err != nil {
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to create download directory: %v", err)
	}

	resp, err := u.client.Get(release.URL)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", release.Version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of %s returned %s", release.Version, resp.Status)
	}

	path := filepath.Join(u.downloadDir, fmt.Sprintf("bedrock-server-%s.zip", release.Version))
	file, err := os.Create(path)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to create %s: %v", path, err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to download %s: %w", release.Version, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", apperr.Wrap(apperr.ErrFileOperation, "failed to write %s: %v", path, err)
	}

	return path, nil
}

// preservedEntry reports whether an archive path must never overwrite
// the live installation: world data and the three tracked config
// files carry server state, not server code.
func preservedEntry(name string) bool {
	if name == "worlds" || strings.HasPrefix(name, "worlds/") {
		return true
	}
	for _, file := range properties.StandardFiles {
		if name == file {
			return true
		}
	}
	return false
}

// extractServer unpacks a server archive over the install directory,
// skipping preserved entries that already exist on disk.
func extractServer(archive, installDir string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return apperr.Wrap(apperr.ErrExtract, "failed to open server archive: %v", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(installDir, 0755); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create %s: %v", installDir, err)
	}

	for _, entry := range reader.File {
		name := strings.TrimPrefix(filepath.ToSlash(entry.Name), "./")
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) || strings.Contains(name, "..") {
			return apperr.Wrap(apperr.ErrExtract, "archive entry %q escapes the install directory", entry.Name)
		}

		target := filepath.Join(installDir, filepath.FromSlash(name))
		if preservedEntry(name) {
			if _, err := os.Stat(target); err == nil {
				continue
			}
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return apperr.Wrap(apperr.ErrExtract, "failed to create %s: %v", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return apperr.Wrap(apperr.ErrExtract, "failed to create %s: %v", filepath.Dir(target), err)
		}

		src, err := entry.Open()
		if err != nil {
			return apperr.Wrap(apperr.ErrExtract, "failed to read archive entry %s: %v", entry.Name, err)
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
		if err != nil {
			src.Close()
			return apperr.Wrap(apperr.ErrExtract, "failed to create %s: %v", target, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			src.Close()
			return apperr.Wrap(apperr.ErrExtract, "failed to extract %s: %v", entry.Name, err)
		}
		dst.Close()
		src.Close()
	}

	return nil
}
