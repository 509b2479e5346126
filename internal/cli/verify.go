package cli

import (
	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
)

func (a *App) newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vault>",
		Short: "Check a master password and the vault's integrity",
		Long: `Check the master password of a vault and that its contents decrypt and
authenticate. Nothing is written.

Exit codes: 0 ok, 3 wrong password, 4 corrupted or incompatible store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				names, err := m.Names()
				if err != nil {
					return err
				}
				success(cmd, "Vault '%s' verified (%d secrets)", m.Current(), len(names))
				return nil
			})
		},
	}
}
