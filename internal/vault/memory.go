package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
)

// randReader is the source for salts, identifiers, domain tags and nonce prefixes.
var randReader io.Reader = rand.Reader

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Zeroize securely clears a byte slice
func Zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// IsZero reports whether every byte of data is zero.
func IsZero(data []byte) bool {
	var acc byte
	for _, b := range data {
		acc |= b
	}
	return acc == 0
}

// SecureCompare performs constant-time comparison of two byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// lockedKey is a derived key buffer pinned in RAM for as long as it is held.
type lockedKey struct {
	buf    []byte
	pinned bool
}

func newLockedKey(key []byte) *lockedKey {
	lk := &lockedKey{buf: key}
	// mlock can fail under RLIMIT_MEMLOCK; the key is still zeroed on release.
	lk.pinned = lockMemory(key) == nil
	return lk
}

func (lk *lockedKey) bytes() []byte {
	if lk == nil {
		return nil
	}
	return lk.buf
}

func (lk *lockedKey) release() {
	if lk == nil || lk.buf == nil {
		return
	}
	Zeroize(lk.buf)
	if lk.pinned {
		_ = unlockMemory(lk.buf)
		lk.pinned = false
	}
}
