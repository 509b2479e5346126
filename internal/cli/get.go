package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/clipboard"
	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/vault"
)

func (a *App) newGetCommand() *cobra.Command {
	var (
		show bool
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <vault> <secret>",
		Short: "Get a secret from a vault",
		Long: `Get a secret from a vault.

By default the secret is copied to the clipboard and cleared after the
configured TTL. The command waits until the clipboard is cleared; Ctrl+C
clears it immediately. Use --show to print the secret instead.

Example:
  ancrypt get work github
  ancrypt get work github --ttl 10s
  ancrypt get work github --show`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !show {
				if err := a.checkClipboard(); err != nil {
					return err
				}
			}
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				if show {
					return showSecret(cmd, m, args[1])
				}
				return a.copySecret(cmd, m, args[1], ttl)
			})
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the secret instead of copying it (security warning)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "clipboard clear delay (default from config)")

	return cmd
}

func (a *App) checkClipboard() error {
	if !a.newClipboard().IsAvailable() {
		return fmt.Errorf("%w, use --show to display in terminal", session.ErrNoClipboard)
	}
	return nil
}

func showSecret(cmd *cobra.Command, m *session.Manager, name string) error {
	value, err := m.Get(name)
	if err != nil {
		return err
	}
	defer vault.Zeroize(value)

	warn(cmd, "Displaying secret in terminal")
	return writeOutput(cmd.OutOrStdout(), "%s\n", value)
}

// copySecret copies the secret, locks the vault and blocks until the
// clipboard is cleared or the command is interrupted.
func (a *App) copySecret(cmd *cobra.Command, m *session.Manager, name string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = a.cfg.ClipboardTTL
	}

	pending, err := m.CopySecret(name, ttl)
	if err != nil {
		return err
	}
	m.Lock()

	success(cmd, "Secret '%s' copied to clipboard (clears in %v)", name, ttl)
	return waitForClear(cmd, pending)
}

// waitForClear blocks until the clipboard is cleared. An interrupt clears it
// immediately.
func waitForClear(cmd *cobra.Command, pending *clipboard.Pending) error {
	stop := startSpinner(cmd, "Waiting to clear clipboard, Ctrl+C clears now")
	defer stop()

	select {
	case <-pending.Done():
	case <-commandContext(cmd).Done():
		pending.ClearNow()
	}
	return nil
}
