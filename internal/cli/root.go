// Package cli implements the ancrypt command-line interface.
package cli

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ancrypt/ancrypt/internal/clipboard"
	"github.com/ancrypt/ancrypt/internal/config"
	"github.com/ancrypt/ancrypt/internal/logging"
	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/store"
)

// Version is the ancrypt release version, overridden at link time.
var Version = "1.0.0"

// App holds the state shared by all commands of one invocation.
type App struct {
	cfgFile       string
	verbose       bool
	passwordStdin bool

	cfg  *config.Config
	log  *zap.Logger
	clip clipboard.Backend

	reader *bufio.Reader
}

// Option configures an App.
type Option func(*App)

// WithClipboardBackend replaces the system clipboard.
func WithClipboardBackend(b clipboard.Backend) Option {
	return func(a *App) { a.clip = b }
}

// Execute builds the root command and runs it with ctx.
func Execute(ctx context.Context, opts ...Option) error {
	return NewRootCommand(opts...).ExecuteContext(ctx)
}

// NewRootCommand returns the ancrypt root command with every subcommand attached.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "ancrypt",
		Short: "A local, password-protected secret vault",
		Long: `Ancrypt keeps named secrets in local vaults, each protected by its own
master password. Vault contents are encrypted with ChaCha20-Poly1305 under a
key derived from the password with PBKDF2-HMAC-SHA512. Nothing leaves the
machine.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath()+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&a.passwordStdin, "password-stdin", false, "read passwords and secrets as lines from stdin instead of prompting")

	root.AddCommand(
		a.newCreateCommand(),
		a.newVaultsCommand(),
		a.newListCommand(),
		a.newGetCommand(),
		a.newAddCommand(),
		a.newRemoveCommand(),
		a.newGenerateCommand(),
		a.newDeleteVaultCommand(),
		a.newVerifyCommand(),
		a.newRekeyCommand(),
		a.newCalibrateCommand(),
		a.newConfigCommand(),
	)

	return root
}

func (a *App) setup(cmd *cobra.Command) error {
	if a.cfgFile == "" {
		a.cfgFile = config.DefaultConfigPath()
	}

	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	log, err := logging.NewWithWriter(level, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = log

	a.reader = bufio.NewReader(cmd.InOrStdin())
	return nil
}

// openManager opens the configured backend and returns a session over it.
// The caller closes the manager, which locks any open vault.
func (a *App) openManager() (*session.Manager, error) {
	backend, err := a.openBackend()
	if err != nil {
		return nil, err
	}

	opts, err := a.cfg.VaultOptions(a.log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return session.NewManager(session.Config{
		Backend:     backend,
		Options:     opts,
		Clipboard:   a.newClipboard(),
		LockTimeout: a.cfg.LockTimeout,
	}), nil
}

func (a *App) openBackend() (store.Backend, error) {
	switch a.cfg.Backend {
	case config.BackendBolt:
		b, err := store.OpenBoltBackend(a.cfg.BoltPath, a.cfg.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open vault database: %w", err)
		}
		return b, nil
	default:
		b, err := store.NewFileBackend(a.cfg.VaultDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open vault directory: %w", err)
		}
		return b, nil
	}
}

func (a *App) newClipboard() *clipboard.Clipboard {
	if a.clip != nil {
		return clipboard.NewWithBackend(a.clip, a.log)
	}
	return clipboard.New(a.log)
}

// withManager runs fn with a fresh session and closes it afterwards.
func (a *App) withManager(fn func(m *session.Manager) error) (err error) {
	m, err := a.openManager()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(m)
}

// withVault opens the named vault after reading its master password and runs fn.
func (a *App) withVault(cmd *cobra.Command, name string, fn func(m *session.Manager) error) error {
	return a.withManager(func(m *session.Manager) error {
		if err := a.unlock(cmd, m, name); err != nil {
			return err
		}
		return fn(m)
	})
}
