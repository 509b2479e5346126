package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ancrypt/ancrypt/internal/domain"
)

// FileBackend keeps each vault in its own "<name>.ANCRYPT" file under one
// directory.
type FileBackend struct {
	dir string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend rooted at dir, creating it with 0700
// permissions if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("vault directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileBackend{dir: filepath.Clean(dir)}, nil
}

// Dir returns the vault directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the record path for name.
func (b *FileBackend) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(b.dir, domain.FileName(name)), nil
}

// Read returns the record bytes stored for name.
func (b *FileBackend) Read(name string) ([]byte, error) {
	path, err := b.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	// records copied in by hand can arrive world-readable
	_ = EnsureFilePermissions(path)
	return data, nil
}

// Write atomically replaces the record for name with data.
func (b *FileBackend) Write(name string, data []byte) error {
	path, err := b.Path(name)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// Delete removes the record for name.
func (b *FileBackend) Delete(name string) error {
	path, err := b.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, name)
		}
		return err
	}
	syncDir(b.dir)
	return nil
}

// Exists reports whether a record file exists for name.
func (b *FileBackend) Exists(name string) (bool, error) {
	path, err := b.Path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List scans the directory for record files. Other files, including lock and
// temp files, are ignored.
func (b *FileBackend) List() ([]domain.VaultInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	var vaults []domain.VaultInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name, ok := domain.VaultName(entry.Name())
		if !ok || ValidateName(name) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		vaults = append(vaults, domain.VaultInfo{
			Name:       name,
			Location:   filepath.Join(b.dir, entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(vaults, func(i, j int) bool { return vaults[i].Name < vaults[j].Name })
	return vaults, nil
}

// Lock takes the cross-process lock for name.
func (b *FileBackend) Lock(name string, timeout time.Duration) (Unlocker, error) {
	path, err := b.Path(name)
	if err != nil {
		return nil, err
	}
	fl := NewFileLock(path)
	if err := fl.Lock(timeout); err != nil {
		return nil, fmt.Errorf("failed to lock vault %q: %w", name, err)
	}
	return fl, nil
}

// Close is a no-op; FileBackend holds no open handles.
func (b *FileBackend) Close() error {
	return nil
}
