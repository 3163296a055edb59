package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// DiskSpace describes the filesystem holding a path.
type DiskSpace struct {
	Path  string
	Total uint64
	Free  uint64
}

// UsedPercent is the used share of the filesystem, 0-100.
func (d DiskSpace) UsedPercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Total-d.Free) / float64(d.Total) * 100
}

func (d DiskSpace) String() string {
	return fmt.Sprintf("%s free of %s", humanize.IBytes(d.Free), humanize.IBytes(d.Total))
}

// GetDiskSpace reports the filesystem holding path. A path that does not
// exist yet is measured at its nearest existing ancestor.
func GetDiskSpace(path string) (DiskSpace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DiskSpace{}, err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return DiskSpace{}, fmt.Errorf("cannot access %s: %w", abs, err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return DiskSpace{}, fmt.Errorf("no existing ancestor of %s", path)
		}
		abs = parent
	}

	total, free, err := statDisk(abs)
	if err != nil {
		return DiskSpace{}, fmt.Errorf("failed to get disk space for %s: %w", abs, err)
	}
	return DiskSpace{Path: abs, Total: total, Free: free}, nil
}
