package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/util"
)

func (a *App) newDeleteVaultCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-vault <vault>",
		Short: "Permanently delete a vault",
		Long: `Permanently delete a vault and every secret in it.

No password is needed. To guard against accidents you are asked to type back
a random confirmation code unless --yes is given.

Example:
  ancrypt delete-vault scratch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *session.Manager) error {
				return a.runDeleteVault(cmd, m, args[0], yes)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation code")

	return cmd
}

func (a *App) runDeleteVault(cmd *cobra.Command, m *session.Manager, name string, yes bool) error {
	if !yes {
		code, err := internalcrypto.ConfirmationCode()
		if err != nil {
			return err
		}
		warn(cmd, "This permanently deletes vault '%s' and all of its secrets", name)
		input, err := a.promptInput(cmd, fmt.Sprintf("Type %s to confirm: ", code))
		if err != nil {
			return fmt.Errorf("failed to get confirmation: %w", err)
		}
		if input != code {
			return fmt.Errorf("%w: confirmation code did not match, vault kept", util.ErrInvalidInput)
		}
	}

	if err := m.DeleteVault(name); err != nil {
		return fmt.Errorf("failed to delete vault: %w", err)
	}

	success(cmd, "Vault '%s' deleted", name)
	return nil
}
