//go:build linux

package shmem

import (
	"fmt"

	"github.com/TypicalAM/ivshmem"
)

// OpenIVSHMEM maps the shared BAR of an IVSHMEM PCI device from inside the
// guest. index selects among multiple devices when the VM carries more than
// one shared region.
func OpenIVSHMEM(index int) (*Region, error) {
	devs, err := ivshmem.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list ivshmem devices: %w", err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no ivshmem devices present")
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("ivshmem device index %d out of range (%d devices)",
			index, len(devs))
	}

	g, err := ivshmem.NewGuest(devs[index])
	if err != nil {
		return nil, fmt.Errorf("attach ivshmem device: %w", err)
	}
	if err := g.Map(); err != nil {
		return nil, fmt.Errorf("map ivshmem region: %w", err)
	}

	return &Region{
		name: fmt.Sprintf("ivshmem:%v", g.Location()),
		mem:  g.SharedMem(),
		closeFn: func() error {
			g.Unmap()
			return nil
		},
	}, nil
}
