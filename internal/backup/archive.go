package backup

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// zipDirectory archives the contents of srcDir into destFile. Entry
// names are relative to srcDir so the archive restores into any world
// directory.
func zipDirectory(srcDir, destFile string) error {
	out, err := os.Create(destFile)
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create archive %s: %v", destFile, err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	defer writer.Close()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			_, err := writer.Create(rel + "/")
			return err
		}

		entry, err := writer.Create(rel)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(entry, file)
		return err
	})
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to archive %s: %v", srcDir, err)
	}

	return writer.Close()
}

// unzipDirectory extracts an archive into destDir, rejecting entries
// that would escape it.
func unzipDirectory(srcFile, destDir string) error {
	reader, err := zip.OpenReader(srcFile)
	if err != nil {
		return apperr.Wrap(apperr.ErrExtract, "failed to open archive %s: %v", srcFile, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create %s: %v", destDir, err)
	}

	for _, entry := range reader.File {
		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return err
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

		if err := extractFile(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return apperr.Wrap(apperr.ErrExtract, "failed to read archive entry %s: %v", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return apperr.Wrap(apperr.ErrExtract, "failed to create %s: %v", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apperr.Wrap(apperr.ErrExtract, "failed to extract %s: %v", entry.Name, err)
	}
	return nil
}

// safeJoin joins an archive entry name onto base and rejects escapes.
func safeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", apperr.Wrap(apperr.ErrExtract, "archive entry %q escapes the target directory", name)
	}
	target := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperr.Wrap(apperr.ErrExtract, "archive entry %q escapes the target directory", name)
	}
	return target, nil
}

// copyFile copies src to dst, creating parent directories.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create %s: %v", filepath.Dir(dst), err)
	}

	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.Wrap(apperr.ErrFileNotFound, "%s", src)
		}
		return apperr.Wrap(apperr.ErrFileOperation, "failed to open %s: %v", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to create %s: %v", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to copy %s: %v", src, err)
	}
	return out.Close()
}
