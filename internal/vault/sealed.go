package vault

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// DomainTagSize is the size of the per-vault associated data
	DomainTagSize = 128
	// NoncePrefixSize is the size of the random per-vault nonce prefix
	NoncePrefixSize = 4
	// NonceSize is the ChaCha20-Poly1305 nonce size: prefix || big-endian counter
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag size
	TagSize = chacha20poly1305.Overhead
)

// SealedStore is the authenticated-encryption envelope around the serialized
// secret map. Each Seal uses the next counter value, so a (prefix, counter)
// pair is never used twice under one key.
type SealedStore struct {
	domainTag  []byte
	prefix     [NoncePrefixSize]byte
	counter    uint64
	ciphertext []byte
}

// NewSealedStore generates a fresh domain tag and nonce prefix. The counter
// starts at zero and the ciphertext is empty.
func NewSealedStore() (*SealedStore, error) {
	tag, err := randomBytes(DomainTagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate domain tag: %w", err)
	}
	prefix, err := randomBytes(NoncePrefixSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce prefix: %w", err)
	}

	s := &SealedStore{domainTag: tag}
	copy(s.prefix[:], prefix)
	return s, nil
}

// Counter returns the counter value used for the current ciphertext.
func (s *SealedStore) Counter() uint64 {
	return s.counter
}

// Ciphertext returns the current ciphertext with its appended tag.
func (s *SealedStore) Ciphertext() []byte {
	return s.ciphertext
}

// Seal encrypts plaintext under key with the next nonce and returns the new
// record. The receiver is left untouched, including on error.
func (s *SealedStore) Seal(key, plaintext []byte) (*SealedStore, error) {
	if s.counter == math.MaxUint64 {
		return nil, ErrNonceExhausted
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	next := s.counter + 1
	nonce := s.nonce(next)

	out := make([]byte, 0, len(plaintext)+TagSize)
	out = aead.Seal(out, nonce, plaintext, s.domainTag)

	return &SealedStore{
		domainTag:  s.domainTag,
		prefix:     s.prefix,
		counter:    next,
		ciphertext: out,
	}, nil
}

// Open decrypts the current ciphertext with the nonce it was sealed under.
func (s *SealedStore) Open(key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(s.ciphertext) < TagSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, s.nonce(s.counter), s.ciphertext, s.domainTag)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func (s *SealedStore) nonce(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, s.prefix[:])
	binary.BigEndian.PutUint64(nonce[NoncePrefixSize:], counter)
	return nonce
}

// Clone returns a deep copy of s.
func (s *SealedStore) Clone() *SealedStore {
	return &SealedStore{
		domainTag:  bytes.Clone(s.domainTag),
		prefix:     s.prefix,
		counter:    s.counter,
		ciphertext: bytes.Clone(s.ciphertext),
	}
}

func (s *SealedStore) wipe() {
	Zeroize(s.ciphertext)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}
