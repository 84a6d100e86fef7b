//go:build linux

package cmd

import (
	"os"

	"golang.org/x/sys/unix"
)

// allocate reserves the full region so mid-run writes cannot hit ENOSPC.
func allocate(f *os.File, size int64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err == nil {
		return nil
	}
	return f.Truncate(size)
}
