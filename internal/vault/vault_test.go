package vault

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
	"github.com/ancrypt/ancrypt/internal/store"
)

const testPassword = "Tr0ub4dor&3"

var errDiskFull = errors.New("disk full")

// flakyStorage wraps a FileBackend and can be told to fail writes.
type flakyStorage struct {
	*store.FileBackend
	failWrites bool
	writes     int
}

func (f *flakyStorage) Write(name string, data []byte) error {
	if f.failWrites {
		return errDiskFull
	}
	f.writes++
	return f.FileBackend.Write(name, data)
}

func newStorage(t *testing.T) *flakyStorage {
	t.Helper()
	fb, err := store.NewFileBackend(filepath.Join(t.TempDir(), "Vaults"))
	require.NoError(t, err)
	return &flakyStorage{FileBackend: fb}
}

func testOptions() Options {
	return Options{Iterations: MinIterations}
}

func recordPath(t *testing.T, st *flakyStorage, name string) string {
	t.Helper()
	path, err := st.Path(name)
	require.NoError(t, err)
	return path
}

func readRecord(t *testing.T, st *flakyStorage, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(recordPath(t, st, name))
	require.NoError(t, err)
	return data
}

func TestScenario_CreateAddLockReloadUnlock(t *testing.T) {
	st := newStorage(t)

	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	u.Lock()

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	assert.Equal(t, "work", locked.Name())

	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	defer reopened.Lock()

	value, err := reopened.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), value)
}

func TestScenario_WrongPasswordLeavesEverythingUnchanged(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	u.Lock()

	onDisk := readRecord(t, st, "work")

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	inMemory := EncodeRecord(locked.keys, locked.sealed)

	_, err = locked.Unlock([]byte("wrong"))
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.NotErrorIs(t, err, ErrDecryptionFailed)

	assert.Equal(t, inMemory, EncodeRecord(locked.keys, locked.sealed))
	assert.Equal(t, onDisk, readRecord(t, st, "work"))

	// the same Locked value can be retried
	again, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	again.Lock()
}

func TestScenario_GenerateSecret(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()

	value, err := u.Generate("api-key", internalcrypto.DefaultSecretLength, internalcrypto.DefaultCharset)
	require.NoError(t, err)
	assert.Len(t, value, 18)

	alphabet, err := internalcrypto.Alphabet(internalcrypto.DefaultCharset)
	require.NoError(t, err)
	for _, c := range value {
		assert.True(t, strings.IndexByte(alphabet, c) >= 0, "byte %q outside charset", c)
	}

	stored, err := u.Get("api-key")
	require.NoError(t, err)
	assert.Equal(t, value, stored)

	_, err = u.Generate("api-key", internalcrypto.DefaultSecretLength, internalcrypto.DefaultCharset)
	assert.ErrorIs(t, err, ErrSecretExists)

	after, err := u.Get("api-key")
	require.NoError(t, err)
	assert.Equal(t, value, after)
}

func TestScenario_NonceExhaustion(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()
	require.NoError(t, u.Insert("email", []byte("hunter2")))

	u.sealed.counter = math.MaxUint64
	ciphertext := bytes.Clone(u.sealed.ciphertext)
	onDisk := readRecord(t, st, "work")

	err = u.Insert("bank", []byte("s3cret"))
	assert.ErrorIs(t, err, ErrNonceExhausted)
	assert.Equal(t, ciphertext, u.sealed.ciphertext)
	assert.Equal(t, uint64(math.MaxUint64), u.sealed.counter)
	assert.Equal(t, onDisk, readRecord(t, st, "work"))
	assert.False(t, u.Has("bank"))

	assert.ErrorIs(t, u.Remove("email"), ErrNonceExhausted)
	assert.True(t, u.Has("email"))

	// rekeying is the way out
	require.NoError(t, u.Rekey([]byte("n3w-password")))
	require.NoError(t, u.Insert("bank", []byte("s3cret")))
	assert.Equal(t, uint64(2), u.sealed.counter)
}

func TestUnlock_RestoresLastPersistedMap(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)

	want := map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": {0, 0xff},
	}
	for name, value := range want {
		require.NoError(t, u.Insert(name, value))
	}
	require.NoError(t, u.Remove("b"))
	delete(want, "b")
	u.Lock()

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	defer reopened.Lock()

	assert.Equal(t, []string{"a", "c"}, reopened.Names())
	assert.Equal(t, want, reopened.secrets)
}

func TestUnlock_ReusesPersistedKeyMaterial(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	u.Lock()

	before, _, err := DecodeRecord(readRecord(t, st, "work"))
	require.NoError(t, err)

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	require.NoError(t, reopened.Insert("email", []byte("hunter2")))
	reopened.Lock()

	after, sealed, err := DecodeRecord(readRecord(t, st, "work"))
	require.NoError(t, err)
	assert.Equal(t, before.Salt, after.Salt)
	assert.Equal(t, before.Iterations, after.Iterations)
	assert.Equal(t, before.VerifierID, after.VerifierID)
	assert.Equal(t, before.Credential, after.Credential)
	assert.Equal(t, uint64(2), sealed.counter)
}

func TestRecord_HoldsNoPlaintextOrKey(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)

	marker := []byte("plaintext-marker-7f3a9c")
	require.NoError(t, u.Insert("marker-name-5d21", marker))
	key := bytes.Clone(u.key.bytes())
	u.Lock()

	data := readRecord(t, st, "work")
	assert.False(t, bytes.Contains(data, marker))
	assert.False(t, bytes.Contains(data, []byte("marker-name-5d21")))
	assert.False(t, bytes.Contains(data, key))
	assert.False(t, bytes.Contains(data, []byte(testPassword)))
}

func TestUnlock_TamperedCiphertext(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	u.Lock()

	data := readRecord(t, st, "work")
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(recordPath(t, st, "work"), data, 0o600))

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)

	_, err = locked.Unlock([]byte(testPassword))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.NotErrorIs(t, err, ErrWrongPassword)
}

func TestLoad_CorruptStoreIsNeverOverwritten(t *testing.T) {
	st := newStorage(t)
	path := recordPath(t, st, "work")
	garbage := []byte("definitely not a vault")
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	_, err := Load(st, "work", testOptions())
	assert.ErrorIs(t, err, ErrCorruptStore)

	_, err = Create(st, "work", []byte(testPassword), testOptions())
	assert.ErrorIs(t, err, ErrVaultExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, garbage, data)
}

func TestLoad_Missing(t *testing.T) {
	st := newStorage(t)

	_, err := Load(st, "nothing", testOptions())
	assert.ErrorIs(t, err, ErrVaultNotFound)

	_, err = Load(st, "  ", testOptions())
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestCreate_Validation(t *testing.T) {
	st := newStorage(t)

	_, err := Create(st, "   ", []byte(testPassword), testOptions())
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.True(t, IsInputError(err))

	_, err = Create(st, "work", nil, testOptions())
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = Create(st, "../work", []byte(testPassword), testOptions())
	assert.ErrorIs(t, err, store.ErrInvalidName)

	_, err = Create(st, "work", []byte(testPassword), Options{Iterations: MinIterations - 1})
	assert.Error(t, err)

	vaults, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, vaults)
}

func TestCreate_TrimsNameNotPassword(t *testing.T) {
	st := newStorage(t)

	u, err := Create(st, "  work  ", []byte(" pw "), testOptions())
	require.NoError(t, err)
	assert.Equal(t, "work", u.Name())
	u.Lock()

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	_, err = locked.Unlock([]byte("pw"))
	assert.ErrorIs(t, err, ErrWrongPassword)

	reopened, err := locked.Unlock([]byte(" pw "))
	require.NoError(t, err)
	reopened.Lock()
}

func TestPending_CreatesOnce(t *testing.T) {
	st := newStorage(t)
	p := NewPending(testOptions())

	u, err := p.Create(st, "work", []byte(testPassword))
	require.NoError(t, err)
	u.Lock()

	_, err = p.Create(st, "other", []byte(testPassword))
	assert.Error(t, err)
}

func TestCreate_PersistFailureLeavesNothing(t *testing.T) {
	st := newStorage(t)
	st.failWrites = true

	_, err := Create(st, "work", []byte(testPassword), testOptions())
	assert.ErrorIs(t, err, errDiskFull)

	exists, err := st.Exists("work")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInsertGetRemove(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()

	require.NoError(t, u.Insert("email", []byte("hunter2")))
	assert.Equal(t, 1, u.Len())

	err = u.Insert("email", []byte("other"))
	assert.ErrorIs(t, err, ErrSecretExists)
	value, err := u.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), value)

	// Get hands out a copy
	value[0] = 'X'
	again, err := u.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), again)

	// Insert keeps its own copy
	input := []byte("s3cret")
	require.NoError(t, u.Insert("bank", input))
	input[0] = 'X'
	bank, err := u.Get("bank")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), bank)

	assert.ErrorIs(t, u.Remove("missing"), ErrSecretNotFound)
	assert.Equal(t, 2, u.Len())

	require.NoError(t, u.Remove("email"))
	_, err = u.Get("email")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.ErrorIs(t, u.Insert("", []byte("x")), ErrEmptyName)
	assert.ErrorIs(t, u.Insert("empty", nil), ErrEmptySecret)
	assert.Error(t, u.Insert(strings.Repeat("n", MaxSecretNameLength+1), []byte("x")))
}

func TestSecretNamesAreTrimmed(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()

	require.NoError(t, u.Insert("  email \t", []byte(" keep spaces ")))
	assert.Equal(t, []string{"email"}, u.Names())
	assert.True(t, u.Has(" email"))

	value, err := u.Get("email ")
	require.NoError(t, err)
	assert.Equal(t, []byte(" keep spaces "), value)

	assert.ErrorIs(t, u.Insert("email", []byte("x")), ErrSecretExists)
	assert.ErrorIs(t, u.Insert("   ", []byte("x")), ErrEmptyName)
	require.NoError(t, u.Remove(" email"))
	assert.Zero(t, u.Len())
}

func TestPersistFailure_RollsBackButKeepsCounter(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	counter := u.sealed.counter

	st.failWrites = true
	err = u.Insert("bank", []byte("s3cret"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, u.Has("bank"))
	assert.Greater(t, u.sealed.counter, counter, "a consumed nonce is never handed out again")

	err = u.Remove("email")
	assert.ErrorIs(t, err, errDiskFull)
	assert.True(t, u.Has("email"))

	st.failWrites = false
	require.NoError(t, u.Insert("bank", []byte("s3cret")))
	assert.Equal(t, counter+3, u.sealed.counter)

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	defer reopened.Lock()
	assert.Equal(t, []string{"bank", "email"}, reopened.Names())
}

func TestLock_ZeroesMemory(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	require.NoError(t, u.Insert("bank", []byte("s3cret")))

	// hold on to the buffers the vault owns
	values := [][]byte{u.secrets["email"], u.secrets["bank"]}
	key := u.key.bytes()
	credential := u.keys.Credential
	ciphertext := u.sealed.ciphertext

	require.False(t, IsZero(key))
	require.False(t, IsZero(credential))

	u.Lock()
	assert.True(t, u.IsLocked())

	for _, v := range values {
		assert.True(t, IsZero(v))
	}
	assert.True(t, IsZero(key))
	assert.True(t, IsZero(credential))
	assert.True(t, IsZero(ciphertext))

	_, err = u.Get("email")
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, u.Insert("x", []byte("y")), ErrVaultLocked)
	assert.ErrorIs(t, u.Remove("email"), ErrVaultLocked)
	assert.ErrorIs(t, u.Rekey([]byte("pw")), ErrVaultLocked)
	_, err = u.Generate("x", 8, internalcrypto.CharsetAlpha)
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.Nil(t, u.Names())
	assert.Equal(t, 0, u.Len())
	assert.False(t, u.Has("email"))

	u.Lock()
}

func TestRemove_ZeroesValue(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()

	require.NoError(t, u.Insert("email", []byte("hunter2")))
	value := u.secrets["email"]
	require.NoError(t, u.Remove("email"))
	assert.True(t, IsZero(value))
}

func TestLocked_Discard(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	u.Lock()

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	credential := locked.keys.Credential
	locked.Discard()
	assert.True(t, IsZero(credential))
}

func TestRekey(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))

	oldSalt := bytes.Clone(u.keys.Salt)
	oldKey := u.key.bytes()

	assert.ErrorIs(t, u.Rekey(nil), ErrEmptyPassword)
	require.NoError(t, u.Rekey([]byte("n3w-password")))
	assert.True(t, IsZero(oldKey))
	assert.NotEqual(t, oldSalt, u.keys.Salt)
	assert.Equal(t, uint64(1), u.sealed.counter)
	u.Lock()

	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	_, err = locked.Unlock([]byte(testPassword))
	assert.ErrorIs(t, err, ErrWrongPassword)

	reopened, err := locked.Unlock([]byte("n3w-password"))
	require.NoError(t, err)
	defer reopened.Lock()
	value, err := reopened.Get("email")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), value)
}

func TestRekey_WriteFailureKeepsOldKey(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	defer u.Lock()

	st.failWrites = true
	assert.ErrorIs(t, u.Rekey([]byte("n3w-password")), errDiskFull)
	st.failWrites = false

	require.NoError(t, u.Insert("email", []byte("hunter2")))
	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	reopened.Lock()
}

func TestDelete(t *testing.T) {
	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), testOptions())
	require.NoError(t, err)
	u.Lock()

	require.NoError(t, Delete(st, "work"))
	_, err = Load(st, "work", testOptions())
	assert.ErrorIs(t, err, ErrVaultNotFound)
	assert.ErrorIs(t, Delete(st, "work"), ErrVaultNotFound)
	assert.ErrorIs(t, Delete(st, ""), ErrEmptyName)
}

func TestArgon2VerifierVault(t *testing.T) {
	st := newStorage(t)
	opts := testOptions()
	opts.Verifier = VerifierConfig{
		Algorithm: VerifierArgon2id,
		Argon2:    Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1},
	}

	u, err := Create(st, "work", []byte(testPassword), opts)
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	u.Lock()

	// loading does not depend on the options used at creation
	locked, err := Load(st, "work", testOptions())
	require.NoError(t, err)
	assert.Equal(t, VerifierArgon2id, locked.keys.Algorithm)

	_, err = locked.Unlock([]byte("wrong"))
	assert.ErrorIs(t, err, ErrWrongPassword)
	reopened, err := locked.Unlock([]byte(testPassword))
	require.NoError(t, err)
	reopened.Lock()
}

func TestLogging_NeverLogsSecrets(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts := testOptions()
	opts.Logger = zap.New(core)

	st := newStorage(t)
	u, err := Create(st, "work", []byte(testPassword), opts)
	require.NoError(t, err)
	require.NoError(t, u.Insert("email", []byte("hunter2")))
	u.Lock()

	locked, err := Load(st, "work", opts)
	require.NoError(t, err)
	_, err = locked.Unlock([]byte("wrong"))
	require.ErrorIs(t, err, ErrWrongPassword)

	assert.Equal(t, 1, logs.FilterMessage("vault created").Len())
	assert.Equal(t, 1, logs.FilterMessage("unlock rejected").Len())
	assert.NotZero(t, logs.FilterMessage("key derivation").Len())

	for _, entry := range logs.All() {
		assert.Equal(t, "work", entry.ContextMap()["vault"], entry.Message)
		for _, v := range entry.ContextMap() {
			s, ok := v.(string)
			if !ok {
				continue
			}
			assert.NotContains(t, s, "hunter2")
			assert.NotContains(t, s, testPassword)
		}
	}
}
