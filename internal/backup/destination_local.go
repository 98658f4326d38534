package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination replicates artifacts into a second local directory,
// typically a mounted network share.
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a local replication target.
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{basePath: basePath}
}

// Upload copies one artifact into the destination directory.
func (ld *LocalDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	destPath := filepath.Join(ld.basePath, filename)
	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	if written != sizeBytes {
		os.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	log.Printf("[LocalDest] Replicated %s (%d bytes)", filename, sizeBytes)
	return nil
}

// Download reads one artifact back from the destination.
func (ld *LocalDestination) Download(filename string, writer io.Writer) error {
	file, err := os.Open(filepath.Join(ld.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to open destination file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read destination file: %w", err)
	}
	return nil
}

// Delete removes one artifact from the destination.
func (ld *LocalDestination) Delete(filename string) error {
	if err := os.Remove(filepath.Join(ld.basePath, filename)); err != nil {
		return fmt.Errorf("failed to delete destination file: %w", err)
	}
	return nil
}

// List returns all artifacts at the destination.
func (ld *LocalDestination) List() ([]RemoteFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read destination directory: %w", err)
	}

	var files []RemoteFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, RemoteFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}
	return files, nil
}

// Type returns the destination type identifier.
func (ld *LocalDestination) Type() string {
	return "local"
}
