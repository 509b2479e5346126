// Package config loads and saves the ancrypt YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
	"github.com/ancrypt/ancrypt/internal/vault"
)

// AppDirName is the per-user application directory under os.UserConfigDir.
const AppDirName = "Ancrypt"

// Storage backends
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// Config represents the ancrypt configuration
type Config struct {
	VaultDir     string          `yaml:"vault_dir"`
	Backend      string          `yaml:"backend"`
	BoltPath     string          `yaml:"bolt_path"`
	ClipboardTTL time.Duration   `yaml:"clipboard_ttl"`
	LockTimeout  time.Duration   `yaml:"lock_timeout"`
	LogLevel     string          `yaml:"log_level"`
	KDF          KDFConfig       `yaml:"kdf"`
	Generator    GeneratorConfig `yaml:"generator"`
}

// KDFConfig holds the key derivation parameters for new vaults. Existing
// vaults always use the parameters stored in their record.
type KDFConfig struct {
	Iterations uint32             `yaml:"iterations"`
	Verifier   string             `yaml:"verifier"`
	Argon2     vault.Argon2Params `yaml:"argon2"`
}

// GeneratorConfig holds the defaults for generated secrets
type GeneratorConfig struct {
	Length  int    `yaml:"length"`
	Charset string `yaml:"charset"`
}

// AppDir returns <UserConfigDir>/Ancrypt, which is %APPDATA%\Ancrypt on Windows.
func AppDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppDirName)
}

// DefaultConfigPath returns the config file location used when no --config flag is given.
func DefaultConfigPath() string {
	return filepath.Join(AppDir(), "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	appDir := AppDir()
	return &Config{
		VaultDir:     filepath.Join(appDir, "Vaults"),
		Backend:      BackendFile,
		BoltPath:     filepath.Join(appDir, "vaults.db"),
		ClipboardTTL: 30 * time.Second,
		LockTimeout:  5 * time.Second,
		LogLevel:     "warn",
		KDF: KDFConfig{
			Iterations: vault.DefaultIterations,
			Verifier:   vault.VerifierPBKDF2.String(),
			Argon2:     vault.DefaultArgon2Params(),
		},
		Generator: GeneratorConfig{
			Length:  internalcrypto.DefaultSecretLength,
			Charset: string(internalcrypto.DefaultCharset),
		},
	}
}

// LoadConfig loads configuration from configPath, writing the defaults there
// first if the file does not exist. An empty path returns the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(configPath)
	data, err := os.ReadFile(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(cfg, cleanPath); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", cleanPath, err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cleanPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every field that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.VaultDir == "" {
			return errors.New("vault_dir cannot be empty")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("bolt_path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q (valid: file, bolt)", c.Backend)
	}

	if c.ClipboardTTL <= 0 {
		return errors.New("clipboard_ttl must be positive")
	}
	if c.LockTimeout < 0 {
		return errors.New("lock_timeout cannot be negative")
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if _, err := c.VerifierConfig(); err != nil {
		return err
	}
	if c.KDF.Iterations < vault.MinIterations {
		return fmt.Errorf("kdf.iterations must be at least %d", vault.MinIterations)
	}

	if c.Generator.Length <= 0 || c.Generator.Length > internalcrypto.MaxSecretLength {
		return fmt.Errorf("generator.length must be between 1 and %d", internalcrypto.MaxSecretLength)
	}
	if _, err := internalcrypto.ParseCharset(c.Generator.Charset); err != nil {
		return fmt.Errorf("generator.charset: %w", err)
	}
	return nil
}

// VerifierConfig returns the verifier selection for new vaults.
func (c *Config) VerifierConfig() (vault.VerifierConfig, error) {
	alg, err := vault.ParseVerifierAlgorithm(c.KDF.Verifier)
	if err != nil {
		return vault.VerifierConfig{}, fmt.Errorf("kdf.verifier: %w", err)
	}
	vc := vault.VerifierConfig{Algorithm: alg, Argon2: c.KDF.Argon2}
	if err := vc.Validate(); err != nil {
		return vault.VerifierConfig{}, fmt.Errorf("kdf.argon2: %w", err)
	}
	return vc, nil
}

// VaultOptions builds vault options from the KDF section.
func (c *Config) VaultOptions(log *zap.Logger) (vault.Options, error) {
	vc, err := c.VerifierConfig()
	if err != nil {
		return vault.Options{}, err
	}
	return vault.Options{
		Iterations: c.KDF.Iterations,
		Verifier:   vc,
		Logger:     log,
	}, nil
}

// Charset returns the configured generator charset.
func (c *Config) Charset() internalcrypto.Charset {
	cs, err := internalcrypto.ParseCharset(c.Generator.Charset)
	if err != nil {
		return internalcrypto.DefaultCharset
	}
	return cs
}
