package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/session"
	"github.com/ancrypt/ancrypt/internal/vault"
)

// MaxOutputSize is the maximum allowed size for output to prevent memory exhaustion
const MaxOutputSize = 10 * 1024 * 1024 // 10MB

// writeOutput formats and writes output, refusing anything over MaxOutputSize
func writeOutput(w io.Writer, format string, args ...interface{}) error {
	output := fmt.Sprintf(format, args...)
	if len(output) > MaxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum allowed size %d", len(output), MaxOutputSize)
	}
	if n, err := io.WriteString(w, output); err != nil {
		return fmt.Errorf("failed to write output (wrote %d bytes): %w", n, err)
	}
	return nil
}

func success(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func warn(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}

func hint(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.CyanString("→"), fmt.Sprintf(format, args...))
}

// startSpinner shows a spinner on stderr until the returned stop func runs.
func startSpinner(cmd *cobra.Command, suffix string) func() {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

// unlock reads the master password for name and opens the vault.
func (a *App) unlock(cmd *cobra.Command, m *session.Manager, name string) error {
	password, err := a.promptSecret(cmd, fmt.Sprintf("Master password for %s: ", name))
	if err != nil {
		return err
	}
	defer vault.Zeroize(password)

	stop := startSpinner(cmd, "Deriving key...")
	err = m.Open(commandContext(cmd), name, password)
	stop()
	if err != nil {
		return fmt.Errorf("failed to open vault %q: %w", name, err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
