package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AtomicWriter writes a file through a temp file in the same directory and
// renames it over the target on Commit.
type AtomicWriter struct {
	targetPath string
	tempPath   string
	tempFile   *os.File
}

// NewAtomicWriter creates a new atomic writer for the target path
func NewAtomicWriter(targetPath string) (*AtomicWriter, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)

	cleanDir := filepath.Clean(dir)
	if cleanDir != dir {
		return nil, fmt.Errorf("invalid directory path: potential directory traversal detected")
	}
	if strings.Contains(base, "..") || strings.ContainsRune(base, filepath.Separator) {
		return nil, fmt.Errorf("invalid filename: %s", base)
	}

	if err := os.MkdirAll(cleanDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := filepath.Join(cleanDir, fmt.Sprintf(".%s.tmp.%d.%d", base, os.Getpid(), time.Now().UnixNano()))
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &AtomicWriter{
		targetPath: targetPath,
		tempPath:   tempPath,
		tempFile:   tempFile,
	}, nil
}

// Write writes data to the temporary file
func (aw *AtomicWriter) Write(data []byte) (int, error) {
	if aw.tempFile == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return aw.tempFile.Write(data)
}

// Commit syncs the temp file, renames it over the target and syncs the
// directory so the rename survives a crash.
func (aw *AtomicWriter) Commit() error {
	if aw.tempFile == nil {
		return fmt.Errorf("writer is closed")
	}

	if err := aw.tempFile.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), aw.Abort())
	}
	if err := aw.tempFile.Close(); err != nil {
		aw.tempFile = nil
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), aw.Abort())
	}
	aw.tempFile = nil

	if err := os.Rename(aw.tempPath, aw.targetPath); err != nil {
		_ = os.Remove(aw.tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	syncDir(filepath.Dir(aw.targetPath))
	return nil
}

// Abort cancels the write and cleans up the temporary file
func (aw *AtomicWriter) Abort() error {
	var err error
	if aw.tempFile != nil {
		err = aw.tempFile.Close()
		aw.tempFile = nil
	}
	if removeErr := os.Remove(aw.tempPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	return err
}

// AtomicWriteFile writes data to a file atomically
func AtomicWriteFile(path string, data []byte) error {
	writer, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		return errors.Join(err, writer.Abort())
	}

	return writer.Commit()
}

// EnsureFilePermissions ensures the file has secure permissions (0600)
func EnsureFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.Mode().Perm()&0o077 != 0 {
		return os.Chmod(path, 0o600)
	}
	return nil
}

// syncDir is best effort; not every platform can fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
