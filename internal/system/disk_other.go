//go:build !(linux || darwin || freebsd || dragonfly)

package system

import "errors"

func getDiskInfo(path string) (*DiskInfo, error) {
	return nil, errors.New("disk information not supported on this platform")
}
