package vault

import (
	"errors"

	"github.com/ancrypt/ancrypt/internal/store"
)

// Input errors. These never change vault state.
var (
	// ErrEmptyName is returned when a vault or secret name is empty
	ErrEmptyName = errors.New("name cannot be empty")
	// ErrEmptyPassword is returned when a master password is empty
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrEmptySecret is returned when a secret value is empty
	ErrEmptySecret = errors.New("secret cannot be empty")
	// ErrSecretExists is returned when inserting a name that is already present
	ErrSecretExists = errors.New("secret already exists")
	// ErrSecretNotFound is returned when the named secret is not in the vault
	ErrSecretNotFound = errors.New("secret not found")
)

// Lifecycle errors.
var (
	// ErrVaultNotFound is returned when no stored record exists for a vault name
	ErrVaultNotFound = store.ErrVaultNotFound
	// ErrVaultExists is returned when creating a vault whose name is taken
	ErrVaultExists = errors.New("vault already exists")
	// ErrVaultLocked is returned when a locked or discarded vault is used
	ErrVaultLocked = errors.New("vault is locked")
	// ErrWrongPassword is returned when the master password does not match the verifier
	ErrWrongPassword = errors.New("incorrect password")
)

// Integrity and cryptographic errors.
var (
	// ErrCorruptStore is returned when a stored record cannot be decoded
	ErrCorruptStore = errors.New("incompatible or corrupted store")
	// ErrDecryptionFailed is returned when authenticated decryption fails
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrNonceExhausted is returned when the nonce counter cannot advance; the vault must be rekeyed
	ErrNonceExhausted = errors.New("nonce counter exhausted, rekey required")
	// ErrInvalidKeySize is returned when a key is not KeySize bytes
	ErrInvalidKeySize = errors.New("invalid key size")
)

// IsInputError reports whether err is a recoverable user input error.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrEmptyPassword) ||
		errors.Is(err, ErrEmptySecret) ||
		errors.Is(err, ErrSecretExists) ||
		errors.Is(err, ErrSecretNotFound) ||
		errors.Is(err, ErrVaultExists) ||
		errors.Is(err, store.ErrInvalidName)
}
