package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ancrypt/ancrypt/internal/config"
	"github.com/ancrypt/ancrypt/internal/util"
	"github.com/ancrypt/ancrypt/internal/vault"
)

type recordingClipboard struct {
	mu     sync.Mutex
	text   string
	writes []string
}

func (c *recordingClipboard) ReadAll() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *recordingClipboard) WriteAll(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.writes = append(c.writes, text)
	return nil
}

func (c *recordingClipboard) history() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type testEnv struct {
	t       *testing.T
	cfgPath string
	cfg     *config.Config
	clip    *recordingClipboard
}

func newTestEnv(t *testing.T, backend string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backend = backend
	cfg.VaultDir = filepath.Join(dir, "Vaults")
	cfg.BoltPath = filepath.Join(dir, "vaults.db")
	cfg.KDF.Iterations = vault.MinIterations
	cfg.ClipboardTTL = 50 * time.Millisecond
	cfg.LockTimeout = time.Second

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	return &testEnv{t: t, cfgPath: cfgPath, cfg: cfg, clip: &recordingClipboard{}}
}

func (e *testEnv) run(stdin string, args ...string) (string, string, error) {
	e.t.Helper()

	cmd := NewRootCommand(WithClipboardBackend(e.clip))
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.cfgPath, "--password-stdin"}, args...))

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()
	stdout, stderr, err := e.run(stdin, args...)
	require.NoError(e.t, err, "stderr: %s", stderr)
	return stdout
}

func TestCLI_CreateAddGetList(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	out := env.mustRun("correct horse\n", "create", "work")
	assert.Contains(t, out, "Vault 'work' created")

	env.mustRun("correct horse\ns3cret value\n", "add", "work", "github")
	env.mustRun("correct horse\ntoken\n", "add", "work", "aws")

	out = env.mustRun("correct horse\n", "list", "work")
	assert.Equal(t, "aws\ngithub\n", out)

	out = env.mustRun("correct horse\n", "get", "work", "github", "--show")
	assert.Equal(t, "s3cret value\n", out)
}

func TestCLI_WrongPassword(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("right\n", "create", "work")

	_, _, err := env.run("wrong\n", "list", "work")
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrWrongPassword)
	assert.Equal(t, util.ExitAuthFailed, util.ExitCodeFor(err))
}

func TestCLI_PasswordKeepsSurroundingSpaces(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("  padded  \n", "create", "work")

	_, _, err := env.run("padded\n", "verify", "work")
	assert.ErrorIs(t, err, vault.ErrWrongPassword)

	out := env.mustRun("  padded  \r\n", "verify", "work")
	assert.Contains(t, out, "Vault 'work' verified (0 secrets)")
}

func TestCLI_CreateExistingVault(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("first\n", "create", "work")

	_, _, err := env.run("second\n", "create", "work")
	require.ErrorIs(t, err, vault.ErrVaultExists)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err))

	env.mustRun("first\n", "verify", "work")
}

func TestCLI_MissingVault(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	_, _, err := env.run("pw\n", "list", "nowhere")
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err))
}

func TestCLI_AddExistingSecret(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "work")
	env.mustRun("pw\none\n", "add", "work", "key")

	_, _, err := env.run("pw\ntwo\n", "add", "work", "key")
	require.ErrorIs(t, err, vault.ErrSecretExists)

	out := env.mustRun("pw\n", "get", "work", "key", "--show")
	assert.Equal(t, "one\n", out)
}

func TestCLI_EndOfInput(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	_, _, err := env.run("", "create", "work")
	require.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestCLI_GetCopiesAndClears(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "work")
	env.mustRun("pw\nclip-me\n", "add", "work", "token")

	out := env.mustRun("pw\n", "get", "work", "token", "--ttl", "20ms")
	assert.Contains(t, out, "Secret 'token' copied to clipboard")
	assert.NotContains(t, out, "clip-me")

	assert.Equal(t, []string{"clip-me", ""}, env.clip.history())
}

func TestCLI_Remove(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "work")
	env.mustRun("pw\nv\n", "add", "work", "old")

	out := env.mustRun("pw\nn\n", "remove", "work", "old")
	assert.Contains(t, out, "Removal cancelled")
	assert.Equal(t, "old\n", env.mustRun("pw\n", "list", "work"))

	out = env.mustRun("pw\ny\n", "remove", "work", "old")
	assert.Contains(t, out, "Secret 'old' removed")
	assert.Contains(t, env.mustRun("pw\n", "list", "work"), "is empty")

	_, _, err := env.run("pw\n", "remove", "work", "old", "--yes")
	assert.ErrorIs(t, err, vault.ErrSecretNotFound)
}

func TestCLI_GeneratePrint(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	out := env.mustRun("", "generate", "--length", "24", "--charset", "alnum")
	secret := strings.TrimSuffix(out, "\n")
	assert.Len(t, secret, 24)
	for _, r := range secret {
		assert.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), "unexpected %q", r)
	}

	out = env.mustRun("", "generate")
	assert.Len(t, strings.TrimSuffix(out, "\n"), env.cfg.Generator.Length)
}

func TestCLI_GenerateInvalid(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	tests := []struct {
		name string
		args []string
	}{
		{"one argument", []string{"generate", "work"}},
		{"zero length", []string{"generate", "--length", "0"}},
		{"too long", []string{"generate", "--length", "5000"}},
		{"unknown charset", []string{"generate", "--charset", "emoji"}},
		{"show and copy", []string{"generate", "--show", "--copy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.run("", tt.args...)
			require.Error(t, err)
			assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err))
		})
	}
}

func TestCLI_GenerateIntoVault(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "work")

	out := env.mustRun("pw\n", "generate", "work", "db", "--length", "12", "--show")
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Generated 12-character secret 'db'")
	assert.Len(t, lines[1], 12)

	stored := env.mustRun("pw\n", "get", "work", "db", "--show")
	assert.Equal(t, lines[1]+"\n", stored)

	out = env.mustRun("pw\n", "generate", "work", "quiet")
	assert.Contains(t, out, "Generated 18-character secret 'quiet'")
	assert.NotContains(t, out, "\n\n")
}

func TestCLI_DeleteVault(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "scratch")

	_, _, err := env.run("nope\n", "delete-vault", "scratch")
	require.ErrorIs(t, err, util.ErrInvalidInput)
	assert.Contains(t, env.mustRun("", "vaults"), "scratch")

	out := env.mustRun("", "delete-vault", "scratch", "--yes")
	assert.Contains(t, out, "Vault 'scratch' deleted")

	out = env.mustRun("", "vaults")
	assert.Contains(t, out, "No vaults found")

	_, _, err = env.run("", "delete-vault", "scratch", "--yes")
	assert.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestCLI_Vaults(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("pw\n", "create", "personal")
	env.mustRun("pw\n", "create", "work")

	out := env.mustRun("", "vaults")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "personal"))
	assert.True(t, strings.HasPrefix(lines[2], "work"))
}

func TestCLI_Rekey(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)
	env.mustRun("old\n", "create", "work")
	env.mustRun("old\nkept\n", "add", "work", "api")

	out := env.mustRun("old\nnew\n", "rekey", "work")
	assert.Contains(t, out, "Master password for vault 'work' changed")

	_, _, err := env.run("old\n", "verify", "work")
	assert.ErrorIs(t, err, vault.ErrWrongPassword)

	assert.Equal(t, "kept\n", env.mustRun("new\n", "get", "work", "api", "--show"))
}

func TestCLI_InvalidVaultName(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	for _, name := range []string{"../escape", "a/b", "con:"} {
		_, _, err := env.run("pw\n", "create", name)
		require.Error(t, err, name)
		assert.Equal(t, util.ExitInvalidInput, util.ExitCodeFor(err), name)
	}
}

func TestCLI_BoltBackend(t *testing.T) {
	env := newTestEnv(t, config.BackendBolt)

	env.mustRun("pw\n", "create", "work")
	env.mustRun("pw\nbolted\n", "add", "work", "db")

	assert.Equal(t, "bolted\n", env.mustRun("pw\n", "get", "work", "db", "--show"))
	assert.Contains(t, env.mustRun("", "vaults"), "work")
}

func TestCLI_Config(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	assert.Equal(t, env.cfgPath+"\n", env.mustRun("", "config", "path"))

	out := env.mustRun("", "config", "show")
	assert.Contains(t, out, "vault_dir: "+env.cfg.VaultDir)
	assert.Contains(t, out, "iterations: 100")
}

func TestCLI_CalibrateSave(t *testing.T) {
	env := newTestEnv(t, config.BackendFile)

	out := env.mustRun("", "calibrate", "--target", "1ms", "--save")
	assert.Contains(t, out, "Iterations: ")

	cfg, err := config.LoadConfig(env.cfgPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cfg.KDF.Iterations, uint32(vault.MinIterations))
	assert.Equal(t, env.cfg.VaultDir, cfg.VaultDir)
}
