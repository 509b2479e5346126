//go:build unix

package cli

import "golang.org/x/sys/unix"

// HardenProcess disables core dumps so decrypted secrets cannot end up in one.
func HardenProcess() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
