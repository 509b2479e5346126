// Package util maps errors to process exit codes.
package util

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ancrypt/ancrypt/internal/vault"
)

// Exit codes
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitAuthFailed   = 3
	ExitIntegrityErr = 4
	ExitInterrupted  = 130
)

// ExitCodeFor returns the exit code for err.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, vault.ErrWrongPassword):
		return ExitAuthFailed
	case errors.Is(err, vault.ErrCorruptStore),
		errors.Is(err, vault.ErrDecryptionFailed),
		errors.Is(err, vault.ErrNonceExhausted):
		return ExitIntegrityErr
	case vault.IsInputError(err), errors.Is(err, vault.ErrVaultNotFound), errors.Is(err, ErrInvalidInput):
		return ExitInvalidInput
	default:
		return ExitError
	}
}

// ErrInvalidInput marks errors caused by bad command-line input.
var ErrInvalidInput = errors.New("invalid input")

// ExitWithCode exits the program with the specified code and message
func ExitWithCode(code int, format string, args ...interface{}) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}

// HandleError prints err and exits with the code ExitCodeFor picks.
func HandleError(err error, context string) {
	if err == nil {
		return
	}

	code := ExitCodeFor(err)
	hint := ""
	if code == ExitIntegrityErr {
		hint = "\nThe vault file may be damaged or was written by an incompatible version."
	}

	if context != "" {
		ExitWithCode(code, "Error: %s - %v%s", context, err, hint)
	}
	ExitWithCode(code, "Error: %v%s", err, hint)
}

// WrapError wraps an error with additional context
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
