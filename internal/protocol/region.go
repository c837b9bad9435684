package protocol

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// region wraps the raw mapped bytes with typed field access. Atomic fields
// are accessed through sync/atomic on pointers into the mapping; everything
// the mapping's creator guarantees is that the region base is page-aligned,
// so the 4- and 8-byte aligned offsets in layout.go are naturally aligned.
//
// Plain (non-atomic) fields use little-endian encoding; they are written
// only while the other side is known not to read them (setup, or an
// accepted SetFormat re-layout).
type region struct {
	mem []byte
}

func (r region) size() int { return len(r.mem) }

func (r region) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r region) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

// Atomic accessors. Load/store pairs follow the acquire/release discipline:
// data is written before the index/version/position that publishes it, and
// read after the load that observed the publication.

func (r region) loadU32(off int) uint32     { return atomic.LoadUint32(r.u32(off)) }
func (r region) storeU32(off int, v uint32) { atomic.StoreUint32(r.u32(off), v) }
func (r region) loadU64(off int) uint64     { return atomic.LoadUint64(r.u64(off)) }
func (r region) storeU64(off int, v uint64) { atomic.StoreUint64(r.u64(off), v) }

func (r region) addU64(off int, d uint64) uint64 {
	return atomic.AddUint64(r.u64(off), d)
}

// Plain accessors for setup-time fields.

func (r region) getU16(off int) uint16 {
	return binary.LittleEndian.Uint16(r.mem[off:])
}

func (r region) putU16(off int, v uint16) {
	binary.LittleEndian.PutUint16(r.mem[off:], v)
}

func (r region) getU32(off int) uint32 {
	return binary.LittleEndian.Uint32(r.mem[off:])
}

func (r region) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.mem[off:], v)
}

func (r region) getU64(off int) uint64 {
	return binary.LittleEndian.Uint64(r.mem[off:])
}

func (r region) putU64(off int, v uint64) {
	binary.LittleEndian.PutUint64(r.mem[off:], v)
}

func (r region) slice(off, n int) []byte {
	return r.mem[off : off+n : off+n]
}

// headerConfig rebuilds the layout configuration from the header fields.
// The audio capacity lives in the audio header, whose offset does not
// depend on it, so the frame/cursor geometry alone pins it down.
func (r region) headerConfig() (Config, error) {
	format, err := ParsePixelFormat(r.getU32(offFormat))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Width:       r.getU32(offWidth),
		Height:      r.getU32(offHeight),
		Format:      format,
		BufferCount: r.getU32(offBufferCount),
	}
	// Locate the audio header to recover the ring capacity.
	trial, err := NewLayout(Config{
		Width:         cfg.Width,
		Height:        cfg.Height,
		Format:        cfg.Format,
		BufferCount:   cfg.BufferCount,
		AudioCapacity: 1,
	})
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCapacity = r.getU32(trial.AudioOffset + offAudioCapacity)
	return cfg, nil
}
