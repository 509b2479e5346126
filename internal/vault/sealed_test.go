package vault

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return sequence(KeySize, func(i int) byte { return byte(0x40 + i) })
}

func TestSealedStore_New(t *testing.T) {
	s, err := NewSealedStore()
	require.NoError(t, err)

	assert.Len(t, s.domainTag, DomainTagSize)
	assert.Equal(t, uint64(0), s.Counter())
	assert.Empty(t, s.Ciphertext())

	other, err := NewSealedStore()
	require.NoError(t, err)
	assert.NotEqual(t, s.domainTag, other.domainTag)
}

func TestSealedStore_RoundTrip(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)

	for _, plaintext := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte("secret"), 1000)} {
		sealed, err := s.Seal(key, plaintext)
		require.NoError(t, err)
		assert.Len(t, sealed.Ciphertext(), len(plaintext)+TagSize)

		opened, err := sealed.Open(key)
		require.NoError(t, err)
		assert.Equal(t, len(plaintext), len(opened))
		assert.True(t, bytes.Equal(plaintext, opened))
	}
}

func TestSealedStore_SealDoesNotMutateReceiver(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)

	first, err := s.Seal(key, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Counter())
	assert.Empty(t, s.Ciphertext())
	assert.Equal(t, uint64(1), first.Counter())

	second, err := first.Seal(key, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Counter())
	assert.Equal(t, uint64(2), second.Counter())

	opened, err := first.Open(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), opened)
}

func TestSealedStore_NeverReusesNonce(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err = s.Seal(key, []byte("same plaintext"))
		require.NoError(t, err)

		nonce := string(s.nonce(s.counter))
		assert.False(t, seen[nonce], "nonce reused at counter %d", s.counter)
		seen[nonce] = true
	}
	assert.Equal(t, uint64(100), s.Counter())
}

func TestSealedStore_WrongCounterFails(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)

	first, err := s.Seal(key, []byte("one"))
	require.NoError(t, err)
	second, err := first.Seal(key, []byte("two"))
	require.NoError(t, err)

	// the second ciphertext under the first record's counter
	mixed := second.Clone()
	mixed.counter = first.counter
	_, err = mixed.Open(key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealedStore_TamperDetection(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)
	sealed, err := s.Seal(key, []byte("payload"))
	require.NoError(t, err)

	t.Run("ciphertext", func(t *testing.T) {
		c := sealed.Clone()
		c.ciphertext[0] ^= 1
		_, err := c.Open(key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("tag", func(t *testing.T) {
		c := sealed.Clone()
		c.ciphertext[len(c.ciphertext)-1] ^= 1
		_, err := c.Open(key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("domain tag", func(t *testing.T) {
		c := sealed.Clone()
		c.domainTag[0] ^= 1
		_, err := c.Open(key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("prefix", func(t *testing.T) {
		c := sealed.Clone()
		c.prefix[0] ^= 1
		_, err := c.Open(key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("key", func(t *testing.T) {
		wrong := testKey()
		wrong[0] ^= 1
		_, err := sealed.Open(wrong)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated", func(t *testing.T) {
		c := sealed.Clone()
		c.ciphertext = c.ciphertext[:TagSize-1]
		_, err := c.Open(key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestSealedStore_Exhausted(t *testing.T) {
	key := testKey()
	s, err := NewSealedStore()
	require.NoError(t, err)
	sealed, err := s.Seal(key, []byte("last write"))
	require.NoError(t, err)

	sealed.counter = math.MaxUint64
	before := bytes.Clone(sealed.ciphertext)

	next, err := sealed.Seal(key, []byte("one more"))
	assert.ErrorIs(t, err, ErrNonceExhausted)
	assert.Nil(t, next)
	assert.Equal(t, uint64(math.MaxUint64), sealed.counter)
	assert.Equal(t, before, sealed.ciphertext)
}

func TestSealedStore_InvalidKeySize(t *testing.T) {
	s, err := NewSealedStore()
	require.NoError(t, err)

	_, err = s.Seal(make([]byte, 16), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestSealedStore_Nonce(t *testing.T) {
	s := &SealedStore{prefix: [NoncePrefixSize]byte{0xde, 0xad, 0xbe, 0xef}}
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 0, 0, 0, 0x01, 0x02}, s.nonce(0x0102))
	assert.Len(t, s.nonce(1), NonceSize)
}
