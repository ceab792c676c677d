// Package shm provides the shared-memory channels between the matching
// engine and the market-data processor: named memory-mapped regions and a
// lock-free multi-producer/single-consumer ring buffer laid out inside them.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// BaseDir is where backing objects live. /dev/shm keeps the mapping purely
// in memory on Linux; elsewhere a temp file is as close as it gets.
var BaseDir = defaultBaseDir()

func defaultBaseDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Region is one mapped backing object. The creating side owns it: owner
// Close removes the object from the namespace, everyone else just unmaps
// and leaves the region intact.
type Region struct {
	data  mmap.MMap
	path  string
	owner bool
}

// regionName mangles the byte size and capacity into the object name so
// that mismatched builds can never alias the same region.
func regionName(prefix string, size, capacity int) string {
	return fmt.Sprintf("%s_%d_%d", prefix, size, capacity)
}

// CreateRegion creates (or reuses) the named backing object, sizes it
// exactly and maps it. Failures here are startup-fatal for the caller; an
// IPC channel that cannot be mapped has no degraded mode.
func CreateRegion(prefix string, size, capacity int) (*Region, error) {
	path := filepath.Join(BaseDir, regionName(prefix, size, capacity))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create shm object %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("size shm object %s: %w", path, err)
	}
	data, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("map shm object %s: %w", path, err)
	}
	return &Region{data: data, path: path, owner: true}, nil
}

// OpenRegion attaches to an already-created backing object without resizing
// it.
func OpenRegion(prefix string, size, capacity int) (*Region, error) {
	path := filepath.Join(BaseDir, regionName(prefix, size, capacity))
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shm object %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shm object %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		return nil, fmt.Errorf("shm object %s is %d bytes, need %d", path, info.Size(), size)
	}
	data, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("map shm object %s: %w", path, err)
	}
	return &Region{data: data, path: path, owner: false}, nil
}

// Bytes exposes the mapped memory.
func (r *Region) Bytes() []byte { return r.data }

// Owner reports whether this handle is responsible for unlinking.
func (r *Region) Owner() bool { return r.owner }

// Close unmaps the region; the owning handle also removes the backing
// object from the namespace.
func (r *Region) Close() error {
	var errs []error
	if r.data != nil {
		if err := r.data.Unmap(); err != nil {
			errs = append(errs, err)
		}
		r.data = nil
	}
	if r.owner {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
