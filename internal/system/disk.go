package system

import (
	"fmt"
)

// DiskInfo describes the filesystem holding a path
type DiskInfo struct {
	TotalBytes     int64
	AvailableBytes int64
	// Device identifies the filesystem; paths with equal Device share space
	Device uint64
}

// GetDiskInfo returns space information for the filesystem containing path
func GetDiskInfo(path string) (*DiskInfo, error) {
	return getDiskInfo(path)
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// EstimateWorkBytes is the scratch space for 16-bit source weights: the
// downloaded snapshot plus its FP16 conversion.
func EstimateWorkBytes(sourceBytes int64) int64 {
	return 2 * sourceBytes
}

// EstimateQuantizedBytes bounds the output size of variants built from 16-bit
// source weights. No variant is larger than Q8_0, about half of FP16.
func EstimateQuantizedBytes(sourceBytes int64, variants int) int64 {
	return int64(variants) * sourceBytes / 2
}
