package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
)

func (a *App) newRemoveCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <vault> <secret>",
		Short: "Remove a secret from a vault",
		Long: `Remove a secret from a vault permanently.

This action cannot be undone. You will be prompted for confirmation
unless you use the --yes flag.

Example:
  ancrypt remove work old-token
  ancrypt remove work old-token --yes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				return a.runRemove(cmd, m, args[1], yes)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation prompt")

	return cmd
}

func (a *App) runRemove(cmd *cobra.Command, m *session.Manager, name string, yes bool) error {
	if !yes {
		confirmed, err := a.promptConfirm(cmd, fmt.Sprintf("Remove secret '%s' from vault '%s'?", name, m.Current()))
		if err != nil {
			return fmt.Errorf("failed to get confirmation: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Removal cancelled")
			return nil
		}
	}

	if err := m.Remove(name); err != nil {
		return fmt.Errorf("failed to remove secret: %w", err)
	}

	success(cmd, "Secret '%s' removed from vault '%s'", name, m.Current())
	return nil
}
