package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/vault"
)

func (a *App) newRekeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey <vault>",
		Short: "Change a vault's master password",
		Long: `Change the master password of a vault. A new salt, key and nonce prefix
are generated and every secret is re-encrypted. This is also the way out of
an exhausted nonce counter.

Example:
  ancrypt rekey work`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				return a.runRekey(cmd, m)
			})
		},
	}
}

func (a *App) runRekey(cmd *cobra.Command, m *session.Manager) error {
	password, err := a.promptNewPassword(cmd, fmt.Sprintf("New master password for %s: ", m.Current()))
	if err != nil {
		return err
	}
	defer vault.Zeroize(password)

	stop := startSpinner(cmd, "Re-encrypting vault...")
	err = m.Rekey(password)
	stop()
	if err != nil {
		return fmt.Errorf("failed to rekey vault: %w", err)
	}

	success(cmd, "Master password for vault '%s' changed", m.Current())
	return nil
}
