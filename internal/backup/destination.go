package backup

import (
	"fmt"
	"io"

	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
)

// Destination is an off-site replication target for backup artifacts.
// Local artifacts remain the source of truth; replication failures are
// reported but never fail the backup itself.
type Destination interface {
	// Upload copies one artifact to the destination.
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download streams one artifact back from the destination.
	Download(filename string, writer io.Writer) error

	// Delete removes an artifact from the destination.
	Delete(filename string) error

	// List returns all artifacts at the destination.
	List() ([]RemoteFile, error)

	// Type returns the destination type identifier.
	Type() string
}

// RemoteFile is one artifact listed at a destination.
type RemoteFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// NewDestination builds the configured destination, or nil when
// replication is not configured.
func NewDestination(cfg config.DestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}
