package vault

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key material sizes
	SaltSize       = 128 // per-vault salt
	VerifierIDSize = 128 // random identifier mixed into the verifier salt
	CredentialSize = 32  // verifier output
	KeySize        = 32  // ChaCha20-Poly1305 key size

	// MinIterations is the lowest PBKDF2 iteration count accepted, for throwaway and test vaults
	MinIterations = 100
	// DefaultIterations is the PBKDF2 iteration count for real vaults
	DefaultIterations = 600_000

	// Default Argon2id verifier parameters (~300ms on modern hardware)
	DefaultArgon2Memory      = 64 * 1024 // 64 MB
	DefaultArgon2Iterations  = 3
	DefaultArgon2Parallelism = 4
)

// VerifierAlgorithm selects how the password verifier credential is computed.
// The encryption key is always PBKDF2-HMAC-SHA512 regardless of this choice.
type VerifierAlgorithm uint8

const (
	// VerifierPBKDF2 computes the credential with PBKDF2-HMAC-SHA512
	VerifierPBKDF2 VerifierAlgorithm = 1
	// VerifierArgon2id computes the credential with Argon2id
	VerifierArgon2id VerifierAlgorithm = 2
)

func (a VerifierAlgorithm) String() string {
	switch a {
	case VerifierPBKDF2:
		return "pbkdf2-sha512"
	case VerifierArgon2id:
		return "argon2id"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseVerifierAlgorithm maps a configuration name to a VerifierAlgorithm.
func ParseVerifierAlgorithm(name string) (VerifierAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pbkdf2", "pbkdf2-sha512":
		return VerifierPBKDF2, nil
	case "argon2id", "argon2":
		return VerifierArgon2id, nil
	default:
		return 0, fmt.Errorf("unknown verifier algorithm %q (valid: pbkdf2-sha512, argon2id)", name)
	}
}

// Argon2Params holds the Argon2id verifier parameters
type Argon2Params struct {
	Memory      uint32 `yaml:"memory"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// DefaultArgon2Params returns the default Argon2id parameters
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      DefaultArgon2Memory,
		Iterations:  DefaultArgon2Iterations,
		Parallelism: DefaultArgon2Parallelism,
	}
}

// ValidateArgon2Params validates Argon2id parameters
func ValidateArgon2Params(params Argon2Params) error {
	if params.Memory < 1024 {
		return errors.New("memory parameter too low (minimum 1024 KB)")
	}
	if params.Memory > 1024*1024 {
		return errors.New("memory parameter too high (maximum 1 GB)")
	}
	if params.Iterations < 1 {
		return errors.New("iterations parameter too low (minimum 1)")
	}
	if params.Iterations > 100 {
		return errors.New("iterations parameter too high (maximum 100)")
	}
	if params.Parallelism < 1 {
		return errors.New("parallelism parameter too low (minimum 1)")
	}
	return nil
}

// VerifierConfig picks the verifier algorithm for new vaults.
type VerifierConfig struct {
	Algorithm VerifierAlgorithm
	Argon2    Argon2Params
}

// DefaultVerifierConfig returns the PBKDF2 verifier used by the reference format.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{Algorithm: VerifierPBKDF2}
}

// Validate checks that the configuration can produce a verifier.
func (c VerifierConfig) Validate() error {
	switch c.Algorithm {
	case VerifierPBKDF2:
		return nil
	case VerifierArgon2id:
		return ValidateArgon2Params(c.Argon2)
	default:
		return fmt.Errorf("unknown verifier algorithm %d", uint8(c.Algorithm))
	}
}

// KeyMaterial is the persisted password-derivation state of a vault: the
// iteration count, the salt and the verifier pair. The derived encryption key
// is never part of it.
type KeyMaterial struct {
	Iterations uint32
	Salt       []byte
	Algorithm  VerifierAlgorithm
	Argon2     Argon2Params
	VerifierID []byte
	Credential []byte
}

// NewKeyMaterial generates a fresh salt for a new vault. The verifier is
// filled in by DeriveVerifier.
func NewKeyMaterial(iterations uint32, verifier VerifierConfig) (*KeyMaterial, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("iterations must be at least %d, got %d", MinIterations, iterations)
	}
	if err := verifier.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}

	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	km := &KeyMaterial{
		Iterations: iterations,
		Salt:       salt,
		Algorithm:  verifier.Algorithm,
	}
	if verifier.Algorithm == VerifierArgon2id {
		km.Argon2 = verifier.Argon2
	}
	return km, nil
}

// DeriveVerifier generates a new random identifier and computes the
// credential for password over salt||identifier.
func (km *KeyMaterial) DeriveVerifier(password []byte) error {
	id, err := randomBytes(VerifierIDSize)
	if err != nil {
		return fmt.Errorf("failed to generate verifier identifier: %w", err)
	}

	credential := km.credential(id, password)

	Zeroize(km.Credential)
	km.VerifierID = id
	km.Credential = credential
	return nil
}

// Verify recomputes the credential for candidate and compares it with the
// stored one in constant time.
func (km *KeyMaterial) Verify(candidate []byte) bool {
	if len(km.VerifierID) != VerifierIDSize || len(km.Credential) != CredentialSize {
		return false
	}
	computed := km.credential(km.VerifierID, candidate)
	defer Zeroize(computed)
	return SecureCompare(computed, km.Credential)
}

// DeriveKey derives the symmetric encryption key for km's salt and iterations.
func (km *KeyMaterial) DeriveKey(password []byte) []byte {
	return DeriveKey(km.Salt, km.Iterations, password)
}

func (km *KeyMaterial) credential(id, password []byte) []byte {
	salt := make([]byte, 0, len(km.Salt)+len(id))
	salt = append(salt, km.Salt...)
	salt = append(salt, id...)

	switch km.Algorithm {
	case VerifierArgon2id:
		return argon2.IDKey(password, salt, km.Argon2.Iterations, km.Argon2.Memory, km.Argon2.Parallelism, CredentialSize)
	default:
		return pbkdf2.Key(password, salt, int(km.Iterations), CredentialSize, sha512.New)
	}
}

// Clone returns a deep copy of km.
func (km *KeyMaterial) Clone() *KeyMaterial {
	return &KeyMaterial{
		Iterations: km.Iterations,
		Salt:       bytes.Clone(km.Salt),
		Algorithm:  km.Algorithm,
		Argon2:     km.Argon2,
		VerifierID: bytes.Clone(km.VerifierID),
		Credential: bytes.Clone(km.Credential),
	}
}

// wipe zeroes the verifier credential.
func (km *KeyMaterial) wipe() {
	Zeroize(km.Credential)
}

// DeriveKey computes PBKDF2-HMAC-SHA512(iterations, salt, password) as a
// KeySize key. It depends on nothing but its arguments, so the same password
// always yields the same key for a vault.
func DeriveKey(salt []byte, iterations uint32, password []byte) []byte {
	return pbkdf2.Key(password, salt, int(iterations), KeySize, sha512.New)
}
