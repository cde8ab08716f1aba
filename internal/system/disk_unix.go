//go:build linux || darwin || freebsd || dragonfly

package system

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func getDiskInfo(path string) (*DiskInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}

	var fi unix.Stat_t
	if err := unix.Stat(path, &fi); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	bsize := int64(st.Bsize)
	return &DiskInfo{
		TotalBytes:     int64(st.Blocks) * bsize,
		AvailableBytes: int64(st.Bavail) * bsize,
		Device:         uint64(fi.Dev),
	}, nil
}
