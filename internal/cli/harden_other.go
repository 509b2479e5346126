//go:build !unix

package cli

// HardenProcess is a no-op where core dump limits are not available.
func HardenProcess() error {
	return nil
}
