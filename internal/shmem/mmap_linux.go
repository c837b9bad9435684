//go:build linux

package shmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create makes (or truncates) the backing file and maps it read-write.
// Host-side: the file is what the VMM hands to the guest as the IVSHMEM
// backing object, typically under /dev/shm.
func Create(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("region size must be positive, got %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open region backing %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("size region backing %s: %w", path, err)
	}
	return mapFile(f, size)
}

// Open maps an existing backing file at its current size. Guest-side
// development path, and the attach path for a host restarting over a live
// region.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open region backing %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat region backing %s: %w", path, err)
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("region backing %s is empty", path)
	}
	return mapFile(f, int(st.Size()))
}

func mapFile(f *os.File, size int) (*Region, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	name := f.Name()
	return &Region{
		name: name,
		mem:  mem,
		closeFn: func() error {
			merr := unix.Munmap(mem)
			cerr := f.Close()
			if merr != nil {
				return fmt.Errorf("munmap %s: %w", name, merr)
			}
			return cerr
		},
	}, nil
}
