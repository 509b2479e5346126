// Package vault implements the cryptographic core of an ancrypt vault: master
// password derivation and verification, the sealed secret map, the on-disk
// record format and the Pending -> Locked -> Unlocked lifecycle.
//
// Each lifecycle stage is its own type. Secrets are only reachable through
// an *Unlocked, which can only be obtained by creating a vault or by
// unlocking a *Locked with the correct password.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
)

// MaxSecretNameLength bounds secret names so they fit the record encoding.
const MaxSecretNameLength = 1024

// slowDerivation is the lower bound we expect a production derivation to take.
const slowDerivation = 100 * time.Millisecond

// Storage is the persistence the vault needs. Write must replace the stored
// record atomically.
type Storage interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	Delete(name string) error
	Exists(name string) (bool, error)
}

// Options configures vault creation and loading.
type Options struct {
	// Iterations is the PBKDF2 iteration count for new vaults.
	Iterations uint32
	// Verifier selects the password verifier for new vaults.
	Verifier VerifierConfig
	// Logger receives lifecycle events. Secrets are never logged.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.Verifier.Algorithm == 0 {
		o.Verifier.Algorithm = VerifierPBKDF2
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Pending is a vault that has not been persisted yet.
type Pending struct {
	opts     Options
	consumed bool
}

// NewPending returns a vault ready to be created with opts.
func NewPending(opts Options) *Pending {
	return &Pending{opts: opts.withDefaults()}
}

// Create derives fresh key material for password, persists an empty vault
// under name and returns it unlocked. A Pending can be created only once.
func (p *Pending) Create(st Storage, name string, password []byte) (*Unlocked, error) {
	if p.consumed {
		return nil, fmt.Errorf("pending vault already created")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	exists, err := st.Exists(name)
	if err != nil {
		return nil, fmt.Errorf("failed to check vault %q: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, name)
	}
	p.consumed = true

	log := p.opts.Logger.With(zap.String("vault", name))

	keys, key, err := newKeys(p.opts.Iterations, p.opts.Verifier, password, log)
	if err != nil {
		return nil, err
	}

	sealed, err := NewSealedStore()
	if err != nil {
		key.release()
		keys.wipe()
		return nil, err
	}

	u := &Unlocked{
		name:    name,
		st:      st,
		keys:    keys,
		sealed:  sealed,
		key:     key,
		secrets: make(map[string][]byte),
		log:     log,
	}

	if err := u.persist(); err != nil {
		u.Lock()
		return nil, err
	}

	log.Info("vault created",
		zap.Uint32("iterations", keys.Iterations),
		zap.Stringer("verifier", keys.Algorithm))
	return u, nil
}

// Create is shorthand for NewPending(opts).Create(st, name, password).
func Create(st Storage, name string, password []byte, opts Options) (*Unlocked, error) {
	return NewPending(opts).Create(st, name, password)
}

// Load reads and decodes the stored record for name. The result is locked:
// the secret map is only reachable after Unlock.
func Load(st Storage, name string, opts Options) (*Locked, error) {
	opts = opts.withDefaults()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	data, err := st.Read(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault %q: %w", name, err)
	}

	keys, sealed, err := DecodeRecord(data)
	if err != nil {
		opts.Logger.Warn("vault record rejected", zap.String("vault", name), zap.Error(err))
		return nil, fmt.Errorf("vault %q: %w", name, err)
	}

	return &Locked{
		name:   name,
		st:     st,
		keys:   keys,
		sealed: sealed,
		log:    opts.Logger.With(zap.String("vault", name)),
	}, nil
}

// Delete irreversibly removes the stored record for name. The vault does not
// need to be unlocked.
func Delete(st Storage, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := st.Delete(name); err != nil {
		return fmt.Errorf("failed to delete vault %q: %w", name, err)
	}
	return nil
}

// Locked is a vault loaded from storage whose password has not been proven.
type Locked struct {
	name   string
	st     Storage
	keys   *KeyMaterial
	sealed *SealedStore
	log    *zap.Logger
}

// Name returns the vault name.
func (l *Locked) Name() string {
	return l.name
}

// Unlock verifies password against the stored verifier, re-derives the key
// from the stored salt and iteration count and decrypts the secret map. On
// any failure l is left unchanged and can be retried.
func (l *Locked) Unlock(password []byte) (*Unlocked, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	var ok bool
	timeDerivation(l.log, "verify", l.keys.Iterations, func() {
		ok = l.keys.Verify(password)
	})
	if !ok {
		l.log.Info("unlock rejected")
		return nil, ErrWrongPassword
	}

	var raw []byte
	timeDerivation(l.log, "derive key", l.keys.Iterations, func() {
		raw = l.keys.DeriveKey(password)
	})
	key := newLockedKey(raw)

	plaintext, err := l.sealed.Open(key.bytes())
	if err != nil {
		key.release()
		l.log.Warn("sealed store failed authentication", zap.Uint64("counter", l.sealed.counter))
		return nil, fmt.Errorf("vault %q: %w", l.name, err)
	}

	secrets, err := decodeSecrets(plaintext)
	Zeroize(plaintext)
	if err != nil {
		key.release()
		return nil, fmt.Errorf("vault %q: %w", l.name, err)
	}

	l.log.Info("vault unlocked", zap.Int("secrets", len(secrets)))
	return &Unlocked{
		name:    l.name,
		st:      l.st,
		keys:    l.keys.Clone(),
		sealed:  l.sealed.Clone(),
		key:     key,
		secrets: secrets,
		log:     l.log,
	}, nil
}

// Discard zeroes the verifier credential and ciphertext held by l.
func (l *Locked) Discard() {
	l.keys.wipe()
	l.sealed.wipe()
}

// Unlocked is a vault whose password has been verified. It holds the derived
// key and the decrypted secret map until Lock is called.
type Unlocked struct {
	name    string
	st      Storage
	keys    *KeyMaterial
	sealed  *SealedStore
	key     *lockedKey
	secrets map[string][]byte
	log     *zap.Logger
	locked  bool
}

// Name returns the vault name.
func (u *Unlocked) Name() string {
	return u.name
}

// IsLocked reports whether Lock has been called.
func (u *Unlocked) IsLocked() bool {
	return u.locked
}

// Get returns a copy of the named secret. The caller owns the copy and
// should Zeroize it when done.
func (u *Unlocked) Get(name string) ([]byte, error) {
	if u.locked {
		return nil, ErrVaultLocked
	}
	value, ok := u.secrets[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return bytes.Clone(value), nil
}

// Has reports whether a secret with name exists.
func (u *Unlocked) Has(name string) bool {
	if u.locked {
		return false
	}
	_, ok := u.secrets[strings.TrimSpace(name)]
	return ok
}

// Names returns the secret names in lexical order.
func (u *Unlocked) Names() []string {
	if u.locked {
		return nil
	}
	names := make([]string, 0, len(u.secrets))
	for name := range u.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of secrets.
func (u *Unlocked) Len() int {
	return len(u.secrets)
}

// Insert adds a new secret and persists the vault before returning. The
// name is trimmed and the secret bytes are copied.
func (u *Unlocked) Insert(name string, secret []byte) error {
	if u.locked {
		return ErrVaultLocked
	}
	name = strings.TrimSpace(name)
	if err := validateSecretName(name); err != nil {
		return err
	}
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	if _, ok := u.secrets[name]; ok {
		return fmt.Errorf("%w: %s", ErrSecretExists, name)
	}

	value := bytes.Clone(secret)
	u.secrets[name] = value
	if err := u.persist(); err != nil {
		delete(u.secrets, name)
		Zeroize(value)
		return err
	}

	u.log.Debug("secret added", zap.Int("secrets", len(u.secrets)))
	return nil
}

// Remove deletes a secret and persists the vault before returning.
func (u *Unlocked) Remove(name string) error {
	if u.locked {
		return ErrVaultLocked
	}
	name = strings.TrimSpace(name)
	value, ok := u.secrets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	delete(u.secrets, name)
	if err := u.persist(); err != nil {
		u.secrets[name] = value
		return err
	}
	Zeroize(value)

	u.log.Debug("secret removed", zap.Int("secrets", len(u.secrets)))
	return nil
}

// Generate creates a random secret of length characters from charset,
// stores it under name and returns a copy of it.
func (u *Unlocked) Generate(name string, length int, charset internalcrypto.Charset) ([]byte, error) {
	if u.locked {
		return nil, ErrVaultLocked
	}
	name = strings.TrimSpace(name)
	if err := validateSecretName(name); err != nil {
		return nil, err
	}
	if _, ok := u.secrets[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretExists, name)
	}

	secret, err := internalcrypto.GenerateSecret(length, charset)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	defer Zeroize(secret)

	if err := u.Insert(name, secret); err != nil {
		return nil, err
	}
	return bytes.Clone(secret), nil
}

// Rekey replaces all key material: new salt, verifier, derived key, domain
// tag and nonce prefix, with the counter back at zero. It is the only way to
// resume writing after ErrNonceExhausted.
func (u *Unlocked) Rekey(newPassword []byte) error {
	if u.locked {
		return ErrVaultLocked
	}
	if len(newPassword) == 0 {
		return ErrEmptyPassword
	}

	verifier := VerifierConfig{Algorithm: u.keys.Algorithm, Argon2: u.keys.Argon2}
	keys, key, err := newKeys(u.keys.Iterations, verifier, newPassword, u.log)
	if err != nil {
		return err
	}
	sealed, err := NewSealedStore()
	if err != nil {
		key.release()
		keys.wipe()
		return err
	}

	next, err := u.seal(sealed, key.bytes())
	if err != nil {
		key.release()
		keys.wipe()
		return err
	}
	if err := u.write(keys, next); err != nil {
		key.release()
		keys.wipe()
		return err
	}

	u.key.release()
	u.keys.wipe()
	u.sealed.wipe()
	u.keys, u.sealed, u.key = keys, next, key

	u.log.Info("vault rekeyed")
	return nil
}

// Lock zeroes every secret value, the derived key, the verifier credential
// and the ciphertext, and makes u unusable. It is safe to call more than once.
func (u *Unlocked) Lock() {
	if u.locked {
		return
	}
	wipeSecrets(u.secrets)
	u.secrets = nil
	u.key.release()
	u.keys.wipe()
	u.sealed.wipe()
	u.locked = true
	u.log.Info("vault locked")
}

// persist seals the current secret map under the next nonce and writes the
// full record. The consumed counter is kept even if the write fails.
func (u *Unlocked) persist() error {
	next, err := u.seal(u.sealed, u.key.bytes())
	if err != nil {
		return err
	}
	prev := u.sealed
	u.sealed = next
	prev.wipe()

	return u.write(u.keys, next)
}

func (u *Unlocked) seal(sealed *SealedStore, key []byte) (*SealedStore, error) {
	plaintext := encodeSecrets(u.secrets)
	defer Zeroize(plaintext)

	next, err := sealed.Seal(key, plaintext)
	if err != nil {
		if errors.Is(err, ErrNonceExhausted) {
			u.log.Error("nonce counter exhausted, vault must be rekeyed")
		}
		return nil, fmt.Errorf("failed to seal vault %q: %w", u.name, err)
	}
	return next, nil
}

func (u *Unlocked) write(keys *KeyMaterial, sealed *SealedStore) error {
	if err := u.st.Write(u.name, EncodeRecord(keys, sealed)); err != nil {
		u.log.Error("failed to persist vault", zap.Error(err))
		return fmt.Errorf("failed to write vault %q: %w", u.name, err)
	}
	u.log.Debug("vault persisted", zap.Uint64("counter", sealed.counter))
	return nil
}

func newKeys(iterations uint32, verifier VerifierConfig, password []byte, log *zap.Logger) (*KeyMaterial, *lockedKey, error) {
	keys, err := NewKeyMaterial(iterations, verifier)
	if err != nil {
		return nil, nil, err
	}

	var verr error
	timeDerivation(log, "derive verifier", iterations, func() {
		verr = keys.DeriveVerifier(password)
	})
	if verr != nil {
		return nil, nil, verr
	}

	var raw []byte
	timeDerivation(log, "derive key", iterations, func() {
		raw = keys.DeriveKey(password)
	})
	return keys, newLockedKey(raw), nil
}

func validateSecretName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxSecretNameLength {
		return fmt.Errorf("secret name too long (maximum %d bytes)", MaxSecretNameLength)
	}
	return nil
}

func timeDerivation(log *zap.Logger, op string, iterations uint32, fn func()) {
	start := time.Now()
	fn()
	elapsed := time.Since(start)

	log.Debug("key derivation", zap.String("op", op), zap.Uint32("iterations", iterations), zap.Duration("elapsed", elapsed))
	if iterations >= DefaultIterations && elapsed < slowDerivation {
		log.Warn("key derivation faster than expected, consider raising iterations",
			zap.String("op", op), zap.Duration("elapsed", elapsed))
	}
}
