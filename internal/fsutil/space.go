package fsutil

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
)

// FreeSpaceFunc reports the free bytes of the filesystem holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// FreeSpace reports the bytes available on the filesystem holding path.
func FreeSpace(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
