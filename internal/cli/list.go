package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
)

func (a *App) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <vault>",
		Short: "List secret names in a vault",
		Long: `List the names of the secrets stored in a vault, in name order.
Secret values are never printed.

Example:
  ancrypt list work`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				return runList(cmd, m)
			})
		},
	}
}

func runList(cmd *cobra.Command, m *session.Manager) error {
	names, err := m.Names()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Vault '%s' is empty\n", m.Current())
		return nil
	}
	for _, name := range names {
		if err := writeOutput(cmd.OutOrStdout(), "%s\n", name); err != nil {
			return err
		}
	}
	return nil
}
