// Package backup owns the per-instance backup artifacts: creating
// them, restoring them, pruning them and replicating them to an
// optional off-site destination.
package backup

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// timestampLayout is the suffix embedded in every artifact filename.
const timestampLayout = "20060102_150405"

// KindWorld marks a zipped world artifact. Config artifacts are keyed
// by the stem of the file they back up (server, allowlist,
// permissions), so each tracked file prunes independently.
const KindWorld = "world"

// Artifact is one backup file in an instance's backup directory.
type Artifact struct {
	// Kind is KindWorld or the config file stem.
	Kind      string
	Filename  string
	CreatedAt time.Time
}

// worldArtifactName builds world_backup_<ts>.mcworld.
func worldArtifactName(createdAt time.Time) string {
	return fmt.Sprintf("world_backup_%s.mcworld", createdAt.Format(timestampLayout))
}

// configArtifactName builds <stem>_backup_<ts>.<ext> for a tracked
// config file, e.g. server.properties -> server_backup_<ts>.properties.
func configArtifactName(sourceFile string, createdAt time.Time) string {
	ext := filepath.Ext(sourceFile)
	stem := strings.TrimSuffix(filepath.Base(sourceFile), ext)
	return fmt.Sprintf("%s_backup_%s%s", stem, createdAt.Format(timestampLayout), ext)
}

// ParseArtifact classifies a backup filename. Files that do not match
// the naming scheme are rejected so foreign files in the backup
// directory are never pruned or restored.
func ParseArtifact(filename string) (Artifact, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	marker := strings.LastIndex(stem, "_backup_")
	if marker <= 0 {
		return Artifact{}, apperr.Wrap(apperr.ErrUserInput, "not a backup artifact: %s", base)
	}

	kind := stem[:marker]
	stamp := stem[marker+len("_backup_"):]
	createdAt, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
	if err != nil {
		return Artifact{}, apperr.Wrap(apperr.ErrUserInput, "bad artifact timestamp in %s", base)
	}

	if kind == KindWorld && ext != ".mcworld" {
		return Artifact{}, apperr.Wrap(apperr.ErrUserInput, "world artifact %s must be .mcworld", base)
	}

	return Artifact{Kind: kind, Filename: base, CreatedAt: createdAt}, nil
}
