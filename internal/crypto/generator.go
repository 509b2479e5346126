// Package crypto generates random secrets and confirmation codes.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Charset names the alphabet a generated secret is drawn from.
type Charset string

const (
	// CharsetAlpha uses only alphabetic characters (a-z, A-Z)
	CharsetAlpha Charset = "alpha"
	// CharsetAlnum uses alphanumeric characters (a-z, A-Z, 0-9)
	CharsetAlnum Charset = "alnum"
	// CharsetAlnumSym adds common symbols to CharsetAlnum
	CharsetAlnumSym Charset = "alnumsym"

	// DefaultCharset is used when no charset is configured
	DefaultCharset = CharsetAlnumSym
	// DefaultSecretLength is the length of a generated secret when none is given
	DefaultSecretLength = 18
	// MaxSecretLength bounds a single generated secret
	MaxSecretLength = 4096

	// ConfirmationCodeDigits is the number of digits in a confirmation code
	ConfirmationCodeDigits = 5
)

const (
	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
	symbols = "!@#$%^&*()-_=+[]{}<>?,.:;/|~"
)

var (
	// ErrInvalidLength is returned for a non-positive or oversized length
	ErrInvalidLength = errors.New("length must be between 1 and 4096")
	// ErrUnknownCharset is returned for a charset name that is not defined
	ErrUnknownCharset = errors.New("unknown charset")
)

var (
	charsetLookup = map[Charset]string{
		CharsetAlpha:    letters,
		CharsetAlnum:    letters + digits,
		CharsetAlnumSym: letters + digits + symbols,
	}
	randSource io.Reader = rand.Reader
	randMux    sync.RWMutex
)

// SetRandomSource sets the random number generator source.
// If r is nil, it resets to the default crypto/rand.Reader.
func SetRandomSource(r io.Reader) {
	randMux.Lock()
	if r == nil {
		randSource = rand.Reader
	} else {
		randSource = r
	}
	randMux.Unlock()
}

// ParseCharset maps a configuration or flag value to a Charset. An empty
// name selects DefaultCharset.
func ParseCharset(name string) (Charset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultCharset, nil
	}
	if _, ok := charsetLookup[Charset(name)]; !ok {
		return "", fmt.Errorf("%w %q (valid: alpha, alnum, alnumsym)", ErrUnknownCharset, name)
	}
	return Charset(name), nil
}

// Alphabet returns the characters of charset.
func Alphabet(charset Charset) (string, error) {
	chars, ok := charsetLookup[charset]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCharset, charset)
	}
	return chars, nil
}

// GenerateSecret returns length characters drawn uniformly from charset. The
// result is a byte slice so the caller can zero it.
func GenerateSecret(length int, charset Charset) ([]byte, error) {
	if length <= 0 || length > MaxSecretLength {
		return nil, ErrInvalidLength
	}
	chars, err := Alphabet(charset)
	if err != nil {
		return nil, err
	}

	src := source()
	secret := make([]byte, length)
	for i := range secret {
		idx, err := randomIndex(src, len(chars))
		if err != nil {
			return nil, fmt.Errorf("failed to read random source: %w", err)
		}
		secret[i] = chars[idx]
	}
	return secret, nil
}

// ConfirmationCode returns a random code of ConfirmationCodeDigits digits
// that the user must type back before a destructive action.
func ConfirmationCode() (string, error) {
	src := source()

	var b strings.Builder
	b.Grow(ConfirmationCodeDigits)
	for i := 0; i < ConfirmationCodeDigits; i++ {
		idx, err := randomIndex(src, len(digits))
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b.WriteByte(digits[idx])
	}
	return b.String(), nil
}

func source() io.Reader {
	randMux.RLock()
	defer randMux.RUnlock()
	return randSource
}

// randomIndex returns a uniform index below max (at most 256) by rejecting
// bytes from the biased tail.
func randomIndex(r io.Reader, max int) (int, error) {
	if max <= 0 || max > 256 {
		return 0, ErrInvalidLength
	}

	var buf [1]byte
	usable := 256 - (256 % max)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		if int(buf[0]) < usable {
			return int(buf[0]) % max, nil
		}
	}
}
