package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	internalcrypto "github.com/ancrypt/ancrypt/internal/crypto"
	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/util"
	"github.com/ancrypt/ancrypt/internal/vault"
)

type generateOptions struct {
	length  int
	charset string
	show    bool
	copy    bool
	ttl     time.Duration
}

func (a *App) newGenerateCommand() *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate [<vault> <secret>]",
		Short: "Generate a random secret",
		Long: `Generate a random secret from a character set.

With no arguments the secret is printed (or copied with --copy). With a vault
and secret name it is stored in the vault and only shown with --show or
copied with --copy.

Character sets:
  alpha     letters
  alnum     letters and digits
  alnumsym  letters, digits and symbols

Example:
  ancrypt generate
  ancrypt generate --length 32 --charset alnum
  ancrypt generate work db-password --copy`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("%w: generate takes no arguments or <vault> <secret>", util.ErrInvalidInput)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			length, charset, err := a.generatorSettings(cmd, opts)
			if err != nil {
				return err
			}
			if opts.copy {
				if err := a.checkClipboard(); err != nil {
					return err
				}
			}

			if len(args) == 0 {
				return a.runGeneratePrint(cmd, opts, length, charset)
			}
			return a.withVault(cmd, args[0], func(m *session.Manager) error {
				return a.runGenerateStore(cmd, m, args[1], opts, length, charset)
			})
		},
	}

	cmd.Flags().IntVar(&opts.length, "length", 0, "secret length in characters (default from config)")
	cmd.Flags().StringVar(&opts.charset, "charset", "", "character set: alpha, alnum or alnumsym (default from config)")
	cmd.Flags().BoolVar(&opts.show, "show", false, "print the stored secret")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "copy the secret to the clipboard")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "clipboard clear delay (default from config)")

	return cmd
}

func (a *App) generatorSettings(cmd *cobra.Command, opts *generateOptions) (int, internalcrypto.Charset, error) {
	if opts.show && opts.copy {
		return 0, "", fmt.Errorf("%w: --show cannot be used with --copy", util.ErrInvalidInput)
	}

	length := a.cfg.Generator.Length
	if cmd.Flags().Changed("length") {
		length = opts.length
	}
	if length <= 0 || length > internalcrypto.MaxSecretLength {
		return 0, "", fmt.Errorf("%w: length must be between 1 and %d", util.ErrInvalidInput, internalcrypto.MaxSecretLength)
	}

	charset := a.cfg.Charset()
	if cmd.Flags().Changed("charset") {
		parsed, err := internalcrypto.ParseCharset(opts.charset)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
		}
		charset = parsed
	}
	return length, charset, nil
}

func (a *App) runGeneratePrint(cmd *cobra.Command, opts *generateOptions, length int, charset internalcrypto.Charset) error {
	secret, err := internalcrypto.GenerateSecret(length, charset)
	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	defer vault.Zeroize(secret)

	if !opts.copy {
		return writeOutput(cmd.OutOrStdout(), "%s\n", secret)
	}

	ttl := opts.ttl
	if ttl <= 0 {
		ttl = a.cfg.ClipboardTTL
	}
	pending, err := a.newClipboard().Copy(secret, ttl)
	if err != nil {
		return err
	}
	success(cmd, "Generated secret copied to clipboard (clears in %v)", ttl)
	return waitForClear(cmd, pending)
}

func (a *App) runGenerateStore(cmd *cobra.Command, m *session.Manager, name string, opts *generateOptions, length int, charset internalcrypto.Charset) error {
	secret, err := m.Generate(name, length, charset)
	if err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	defer vault.Zeroize(secret)

	success(cmd, "Generated %d-character secret '%s' in vault '%s'", length, name, m.Current())

	switch {
	case opts.show:
		warn(cmd, "Displaying secret in terminal")
		return writeOutput(cmd.OutOrStdout(), "%s\n", secret)
	case opts.copy:
		return a.copySecret(cmd, m, name, opts.ttl)
	}
	return nil
}
