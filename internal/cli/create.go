package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/vault"
)

func (a *App) newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <vault>",
		Short: "Create a new vault",
		Long: `Create a new, empty vault protected by a master password.

The password cannot be recovered. An existing vault with the same name is
never overwritten.

Example:
  ancrypt create work
  printf 'hunter2\n' | ancrypt create work --password-stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCreate(cmd, args[0])
		},
	}
}

func (a *App) runCreate(cmd *cobra.Command, name string) error {
	password, err := a.promptNewPassword(cmd, fmt.Sprintf("New master password for %s: ", name))
	if err != nil {
		return err
	}
	defer vault.Zeroize(password)

	return a.withManager(func(m *session.Manager) error {
		stop := startSpinner(cmd, "Deriving key...")
		err := m.Create(commandContext(cmd), name, password)
		stop()
		if err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}

		success(cmd, "Vault '%s' created", m.Current())
		return nil
	})
}
