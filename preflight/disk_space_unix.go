//go:build !windows

package preflight

import (
	"syscall"
)

// statDisk returns total and free bytes for the filesystem holding path.
// Free counts blocks available to unprivileged users.
func statDisk(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	return uint64(stat.Blocks) * uint64(stat.Bsize), uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
