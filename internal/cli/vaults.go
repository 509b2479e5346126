package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
)

func (a *App) newVaultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vaults",
		Short: "List stored vaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *session.Manager) error {
				return a.runVaults(cmd, m)
			})
		},
	}
}

func (a *App) runVaults(cmd *cobra.Command, m *session.Manager) error {
	infos, err := m.Vaults()
	if err != nil {
		return fmt.Errorf("failed to list vaults: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No vaults found")
		hint(cmd, "Create one with 'ancrypt create <vault>'")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.Size, info.ModifiedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
