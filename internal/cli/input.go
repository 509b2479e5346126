package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ancrypt/ancrypt/internal/util"
	"github.com/ancrypt/ancrypt/internal/vault"
)

// errPasswordMismatch is returned when a password and its confirmation differ
var errPasswordMismatch = fmt.Errorf("%w: passwords do not match", util.ErrInvalidInput)

// terminal returns the file descriptor of the command's input when it is an
// interactive terminal and --password-stdin was not given.
func (a *App) terminal(cmd *cobra.Command) (int, bool) {
	if a.passwordStdin {
		return 0, false
	}
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// promptSecret prompts for a value without echo. Piped input is read one line
// at a time. The caller zeroes the returned buffer.
func (a *App) promptSecret(cmd *cobra.Command, prompt string) ([]byte, error) {
	fd, interactive := a.terminal(cmd)
	if !interactive {
		return a.readLine()
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return value, nil
}

// promptNewPassword reads a new master password, asking for confirmation when
// interactive.
func (a *App) promptNewPassword(cmd *cobra.Command, prompt string) ([]byte, error) {
	password, err := a.promptSecret(cmd, prompt)
	if err != nil {
		return nil, err
	}
	if _, interactive := a.terminal(cmd); !interactive {
		return password, nil
	}

	confirm, err := a.promptSecret(cmd, "Confirm password: ")
	if err != nil {
		vault.Zeroize(password)
		return nil, err
	}
	defer vault.Zeroize(confirm)

	if !bytes.Equal(password, confirm) {
		vault.Zeroize(password)
		return nil, errPasswordMismatch
	}
	return password, nil
}

// promptInput prompts for a line of regular input
func (a *App) promptInput(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := a.readLine()
	if err != nil {
		return "", err
	}
	defer vault.Zeroize(line)
	return strings.TrimSpace(string(line)), nil
}

// promptConfirm prompts for yes/no confirmation, defaulting to no
func (a *App) promptConfirm(cmd *cobra.Command, prompt string) (bool, error) {
	input, err := a.promptInput(cmd, prompt+" [y/N]: ")
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes", nil
}

// readLine reads one line from stdin without its line terminator. Only the
// terminator is removed, so leading and trailing spaces in a password survive.
func (a *App) readLine() ([]byte, error) {
	line, err := a.reader.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		vault.Zeroize(line)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: unexpected end of input", util.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	out := make([]byte, n)
	copy(out, line)
	vault.Zeroize(line)
	return out, nil
}
