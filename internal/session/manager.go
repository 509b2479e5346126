// Package session hosts at most one open vault at a time and serializes
// every operation on it.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ancrypt/ancrypt/internal/clipboard"
	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
	"github.com/ancrypt/ancrypt/internal/domain"
	"github.com/ancrypt/ancrypt/internal/store"
	"github.com/ancrypt/ancrypt/internal/vault"
)

// DefaultLockTimeout bounds the wait for another process holding a vault.
const DefaultLockTimeout = 5 * time.Second

var (
	// ErrNoOpenVault is returned when an operation needs an open vault and none is
	ErrNoOpenVault = errors.New("no vault is open")
	// ErrNoClipboard is returned by CopySecret when no clipboard was configured
	ErrNoClipboard = errors.New("clipboard not available")
)

// Config configures a Manager.
type Config struct {
	Backend     store.Backend
	Options     vault.Options
	Clipboard   *clipboard.Clipboard
	LockTimeout time.Duration
}

// Manager owns the open vault. All methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	backend     store.Backend
	opts        vault.Options
	clip        *clipboard.Clipboard
	lockTimeout time.Duration
	log         *zap.Logger

	current *vault.Unlocked
	held    store.Unlocker
}

// NewManager returns a Manager with no open vault.
func NewManager(cfg Config) *Manager {
	log := cfg.Options.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Manager{
		backend:     cfg.Backend,
		opts:        cfg.Options,
		clip:        cfg.Clipboard,
		lockTimeout: timeout,
		log:         log.Named("session"),
	}
}

// Create creates a new vault and leaves it open, locking any vault that was
// open before. Key derivation runs on a worker goroutine; if ctx ends first
// Create returns ctx.Err() and the vault, which is still written, is locked
// once derivation finishes.
func (m *Manager) Create(ctx context.Context, name string, password []byte) error {
	return m.open(ctx, name, password, func(name string, pw []byte) (*vault.Unlocked, error) {
		return vault.Create(m.backend, name, pw, m.opts)
	})
}

// Open loads and unlocks the named vault, locking any vault that was open
// before. Cancellation behaves as for Create.
func (m *Manager) Open(ctx context.Context, name string, password []byte) error {
	return m.open(ctx, name, password, func(name string, pw []byte) (*vault.Unlocked, error) {
		locked, err := vault.Load(m.backend, name, m.opts)
		if err != nil {
			return nil, err
		}
		u, err := locked.Unlock(pw)
		locked.Discard()
		return u, err
	})
}

func (m *Manager) open(ctx context.Context, name string, password []byte, fn func(string, []byte) (*vault.Unlocked, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lockCurrent()

	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	held, err := m.backend.Lock(name, m.lockTimeout)
	if err != nil {
		return err
	}

	release := func() {
		if uerr := held.Unlock(); uerr != nil {
			m.log.Warn("failed to release vault lock", zap.Error(uerr))
		}
	}

	// the worker may outlive this call, so it gets its own copy
	pw := bytes.Clone(password)
	u, err := derive(ctx, func() (*vault.Unlocked, error) {
		defer vault.Zeroize(pw)
		return fn(name, pw)
	}, release)
	if err != nil {
		// an abandoned worker releases the lock itself once it is done
		if err != ctx.Err() {
			release()
		}
		return err
	}

	m.current, m.held = u, held
	m.log.Debug("vault opened", zap.String("vault", name))
	return nil
}

// discard disposes of a derivation result nobody is waiting for.
var discard = func(u *vault.Unlocked) { u.Lock() }

// derive runs fn on a worker goroutine. When ctx ends first, the eventual
// result is locked and dropped and then late, if set, is called.
func derive(ctx context.Context, fn func() (*vault.Unlocked, error), late func()) (*vault.Unlocked, error) {
	type result struct {
		u   *vault.Unlocked
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := fn()
		done <- result{u, err}
	}()

	select {
	case r := <-done:
		return r.u, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.u != nil {
				discard(r.u)
			}
			if late != nil {
				late()
			}
		}()
		return nil, ctx.Err()
	}
}

// Lock locks the open vault. It is a no-op when nothing is open.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCurrent()
}

func (m *Manager) lockCurrent() {
	if m.current == nil {
		return
	}
	m.current.Lock()
	m.current = nil
	if m.held != nil {
		if err := m.held.Unlock(); err != nil {
			m.log.Warn("failed to release vault lock", zap.Error(err))
		}
		m.held = nil
	}
}

// IsOpen reports whether a vault is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns the name of the open vault, or "" when none is open.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Name()
}

// Names lists the secret names of the open vault.
func (m *Manager) Names() ([]string, error) {
	var names []string
	err := m.withOpen(func(u *vault.Unlocked) error {
		names = u.Names()
		return nil
	})
	return names, err
}

// Get returns a copy of the named secret.
func (m *Manager) Get(name string) ([]byte, error) {
	var value []byte
	err := m.withOpen(func(u *vault.Unlocked) (err error) {
		value, err = u.Get(name)
		return err
	})
	return value, err
}

// Add stores a new secret in the open vault.
func (m *Manager) Add(name string, secret []byte) error {
	return m.withOpen(func(u *vault.Unlocked) error {
		return u.Insert(name, secret)
	})
}

// Remove deletes a secret from the open vault.
func (m *Manager) Remove(name string) error {
	return m.withOpen(func(u *vault.Unlocked) error {
		return u.Remove(name)
	})
}

// Generate stores a generated secret under name and returns a copy of it.
func (m *Manager) Generate(name string, length int, charset internalcrypto.Charset) ([]byte, error) {
	var value []byte
	err := m.withOpen(func(u *vault.Unlocked) (err error) {
		value, err = u.Generate(name, length, charset)
		return err
	})
	return value, err
}

// Rekey replaces the master password of the open vault. It runs on the
// caller's goroutine.
func (m *Manager) Rekey(newPassword []byte) error {
	return m.withOpen(func(u *vault.Unlocked) error {
		return u.Rekey(newPassword)
	})
}

// CopySecret copies the named secret to the clipboard and schedules it to be
// cleared after ttl.
func (m *Manager) CopySecret(name string, ttl time.Duration) (*clipboard.Pending, error) {
	if m.clip == nil {
		return nil, ErrNoClipboard
	}
	value, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	defer vault.Zeroize(value)
	return m.clip.Copy(value, ttl)
}

// Vaults lists the stored vaults.
func (m *Manager) Vaults() ([]domain.VaultInfo, error) {
	return m.backend.List()
}

// DeleteVault irreversibly removes the named vault, locking it first if it
// is the open one.
func (m *Manager) DeleteVault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if m.current != nil && m.current.Name() == name {
		m.lockCurrent()
	}

	held, err := m.backend.Lock(name, m.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Unlock(); err != nil {
			m.log.Warn("failed to release vault lock", zap.Error(err))
		}
	}()

	if err := vault.Delete(m.backend, name); err != nil {
		return err
	}
	m.log.Info("vault deleted", zap.String("vault", name))
	return nil
}

// Close locks the open vault and closes the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCurrent()
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", vault.ErrEmptyName
	}
	if err := store.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func (m *Manager) withOpen(fn func(*vault.Unlocked) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoOpenVault
	}
	return fn(m.current)
}
