//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// warmImage hints the kernel to pull the addressable region into the page
// cache ahead of the first misses. Best-effort.
func warmImage(f *os.File, length int64) {
	unix.Fadvise(int(f.Fd()), 0, length, unix.FADV_WILLNEED)
}
