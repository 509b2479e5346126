package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/vault"
)

func (a *App) newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <vault> <secret>",
		Short: "Add a secret to a vault",
		Long: `Add a new secret to a vault. The master password is read first, then the
secret value. Existing secrets are never overwritten; remove them first.

Example:
  ancrypt add work github
  printf 'master\ntoken\n' | ancrypt add work github --password-stdin`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				return a.runAdd(cmd, m, args[1])
			})
		},
	}
}

func (a *App) runAdd(cmd *cobra.Command, m *session.Manager, name string) error {
	if err := ensureAbsent(m, name); err != nil {
		return err
	}

	value, err := a.promptSecret(cmd, fmt.Sprintf("Secret for %s: ", name))
	if err != nil {
		return err
	}
	defer vault.Zeroize(value)

	if err := m.Add(name, value); err != nil {
		return fmt.Errorf("failed to add secret: %w", err)
	}

	success(cmd, "Secret '%s' added to vault '%s'", name, m.Current())
	return nil
}

// ensureAbsent fails early, before a secret is typed, when name is taken.
func ensureAbsent(m *session.Manager, name string) error {
	names, err := m.Names()
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	for _, existing := range names {
		if existing == name {
			return fmt.Errorf("%w: %s", vault.ErrSecretExists, name)
		}
	}
	return nil
}
