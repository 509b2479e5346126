package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ancrypt/ancrypt/internal/domain"
)

// Bucket names
var (
	VaultsBucket  = []byte("vaults")
	UpdatedBucket = []byte("updated")
)

// BoltBackend keeps every vault record as one key in a single bbolt database.
// bbolt holds an exclusive flock on the database file while open, which
// serializes processes.
type BoltBackend struct {
	db   *bbolt.DB
	path string
}

var _ Backend = (*BoltBackend)(nil)

// OpenBoltBackend opens or creates the database at path. timeout bounds the
// wait for another process to release the database.
func OpenBoltBackend(path string, timeout time.Duration) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("failed to open %s: %w", path, ErrLockTimeout)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{VaultsBucket, UpdatedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, path: path}, nil
}

// Path returns the database path.
func (b *BoltBackend) Path() string {
	return b.path
}

// Read returns a copy of the record stored for name.
func (b *BoltBackend) Read(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(VaultsBucket).Get([]byte(name))
		if value == nil {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, name)
		}
		// bbolt values are only valid for the life of the transaction
		data = bytes.Clone(value)
		return nil
	})
	return data, b.wrap(err)
}

// Write stores data for name and stamps its update time in one transaction.
func (b *BoltBackend) Write(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(VaultsBucket).Put([]byte(name), data); err != nil {
			return fmt.Errorf("failed to store vault record: %w", err)
		}
		stamp := binary.BigEndian.AppendUint64(nil, uint64(time.Now().UnixNano()))
		return tx.Bucket(UpdatedBucket).Put([]byte(name), stamp)
	})
	return b.wrap(err)
}

// Delete removes the record for name.
func (b *BoltBackend) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, name)
		}
		if err := vaults.Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(UpdatedBucket).Delete([]byte(name))
	})
	return b.wrap(err)
}

// Exists reports whether a record is stored under name.
func (b *BoltBackend) Exists(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(VaultsBucket).Get([]byte(name)) != nil
		return nil
	})
	return found, b.wrap(err)
}

// List describes every stored vault in key order.
func (b *BoltBackend) List() ([]domain.VaultInfo, error) {
	var vaults []domain.VaultInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		updated := tx.Bucket(UpdatedBucket)
		return tx.Bucket(VaultsBucket).ForEach(func(k, v []byte) error {
			info := domain.VaultInfo{
				Name:     string(k),
				Location: b.path,
				Size:     int64(len(v)),
			}
			if stamp := updated.Get(k); len(stamp) == 8 {
				info.ModifiedAt = time.Unix(0, int64(binary.BigEndian.Uint64(stamp)))
			}
			vaults = append(vaults, info)
			return nil
		})
	})
	return vaults, b.wrap(err)
}

// Lock is a no-op: the database flock already excludes other processes.
func (b *BoltBackend) Lock(name string, _ time.Duration) (Unlocker, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return nopUnlocker{}, nil
}

// Close closes the database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) wrap(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

type nopUnlocker struct{}

func (nopUnlocker) Unlock() error { return nil }
