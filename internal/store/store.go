// Package store persists encoded vault records. Records are opaque bytes here;
// encoding and encryption belong to the vault package.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ancrypt/ancrypt/internal/domain"
)

// MaxNameLength bounds vault names so record paths stay portable.
const MaxNameLength = 200

// Error variables for store operations
var (
	// ErrVaultNotFound is returned when no record exists for the vault name
	ErrVaultNotFound = errors.New("vault not found")
	// ErrInvalidName is returned when a vault name cannot be mapped to a record
	ErrInvalidName = errors.New("invalid vault name")
	// ErrClosed is returned when a closed backend is used
	ErrClosed = errors.New("store is closed")
)

// Unlocker releases a lock returned by Backend.Lock.
type Unlocker interface {
	Unlock() error
}

// Backend stores one record per vault name.
type Backend interface {
	// Read returns the stored record, or ErrVaultNotFound.
	Read(name string) ([]byte, error)
	// Write atomically replaces the stored record. A reader sees either the
	// previous record or the new one, never a mix.
	Write(name string, data []byte) error
	// Delete removes the stored record, or returns ErrVaultNotFound.
	Delete(name string) error
	// Exists reports whether a record is stored under name.
	Exists(name string) (bool, error)
	// List describes every stored vault, ordered by name.
	List() ([]domain.VaultInfo, error)
	// Lock takes a cross-process lock on name for read-modify-write sequences.
	Lock(name string, timeout time.Duration) (Unlocker, error)
	// Close releases backend resources.
	Close() error
}

// ValidateName checks that name can be used as a record key and file name.
func ValidateName(name string) error {
	switch {
	case name == "" || strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	case name == "." || strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\:*?\"<>|\x00"):
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidName, name)
	}
	return nil
}
