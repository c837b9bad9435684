// Package shmem provides the memory-backed byte regions the capture
// protocol runs over: a file-backed mapping on the host side (the same file
// QEMU/cloud-hypervisor exposes to the guest as an IVSHMEM BAR), the guest
// side of an IVSHMEM PCI device, and a plain in-process region for tests.
package shmem

import (
	"fmt"
	"unsafe"
)

// Region is a fixed-size byte region shared between the host and the guest
// agent. Its lifetime matches the VM's: it is created once at setup and
// unmapped only at teardown.
type Region struct {
	name    string
	mem     []byte
	closeFn func() error
}

// Bytes returns the full mapped region. The slice stays valid until Close.
func (r *Region) Bytes() []byte { return r.mem }

// Size returns the region size in bytes.
func (r *Region) Size() int { return len(r.mem) }

// Name identifies the backing (file path or device location).
func (r *Region) Name() string { return r.name }

// Close unmaps and releases the backing. The protocol views built over
// Bytes must not be used afterwards.
func (r *Region) Close() error {
	if r.closeFn == nil {
		return nil
	}
	fn := r.closeFn
	r.closeFn = nil
	r.mem = nil
	return fn()
}

// Anonymous allocates an in-process region, used by tests and by the
// single-process development mode. Backed by a uint64 slice so the base is
// 8-byte aligned for the protocol's atomic fields.
func Anonymous(size int) *Region {
	if size <= 0 {
		size = 1
	}
	words := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &Region{name: fmt.Sprintf("anon:%d", size), mem: mem}
}
