package protocol

import "fmt"

// Binary sizes of the fixed structures. These are wire constants, not Go
// struct sizes.
const (
	HeaderSize      = 96
	MetadataSize    = 40
	CursorMetaSize  = 32
	CursorInfoSize  = 16
	AudioHeaderSize = 48
)

// Region header field offsets (relative to the region start).
const (
	offMagic         = 0
	offVersion       = 4
	offFormat        = 8
	offWidth         = 12
	offHeight        = 16
	offBufferCount   = 20
	offBufferSize    = 24
	offFrameNumber   = 32 // atomic u64, guest-owned
	offActiveIndex   = 40 // atomic u32, guest-owned
	offCommand       = 44 // atomic u32, host writes, guest clears
	offGuestState    = 48 // atomic u32, guest-owned
	offGuestPID      = 52 // atomic u32, guest-owned
	offPendingWidth  = 56
	offPendingHeight = 60
	offPendingFormat = 64
)

// Frame metadata field offsets (relative to the entry start).
const (
	offMetaSequence   = 0
	offMetaTimestamp  = 8
	offMetaDataOffset = 16
	offMetaDataSize   = 24
	offMetaFlags      = 28
)

// Frame metadata flags.
const (
	FrameFlagReady uint32 = 1 << 0
)

// Cursor metadata field offsets (relative to the cursor block start).
const (
	offCursorX        = 0
	offCursorY        = 4
	offCursorVisible  = 8
	offCursorHasShape = 12
	offCursorUpdates  = 16 // atomic u32, seqlock generation counter
)

// Cursor shape info field offsets.
const (
	offShapeWidth    = 0
	offShapeHeight   = 2
	offShapeHotX     = 4
	offShapeHotY     = 6
	offShapeDataSize = 8
)

// Audio header field offsets (relative to the audio block start).
const (
	offAudioMagic        = 0
	offAudioVersion      = 4
	offAudioFormat       = 8
	offAudioSampleRate   = 12
	offAudioChannels     = 16
	offAudioCapacity     = 20
	offAudioWritePos     = 24 // atomic u32, guest-owned
	offAudioReadPos      = 28 // atomic u32, host-owned
	offAudioTotalWritten = 32 // atomic u64, guest-owned
	offAudioDropped      = 40 // atomic u64, guest-owned
)

const cacheLine = 64

// Config describes the capture geometry a region is laid out for.
type Config struct {
	Width         uint32
	Height        uint32
	Format        PixelFormat
	BufferCount   uint32
	AudioCapacity uint32
}

// Validate checks the configuration against the protocol bounds.
func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("invalid dimensions %dx%d", c.Width, c.Height)
	}
	if _, err := ParsePixelFormat(uint32(c.Format)); err != nil {
		return err
	}
	if c.BufferCount < MinBufferCount || c.BufferCount > MaxBufferCount {
		return fmt.Errorf("buffer count %d outside [%d, %d]",
			c.BufferCount, MinBufferCount, MaxBufferCount)
	}
	if c.AudioCapacity == 0 {
		return fmt.Errorf("audio ring capacity must be non-zero")
	}
	return nil
}

// Degraded reports whether the configuration runs below the triple-buffer
// threshold. With two buffers the guest's write target can be the slot the
// host is reading, so reads may be stale-flagged more often; the layout is
// still accepted.
func (c Config) Degraded() bool {
	return c.BufferCount < DefaultBufferCount
}

// Layout is the byte-offset map of every structure in the region, computed
// once from a Config. Section order is fixed: header, per-buffer metadata,
// buffer data, cursor block, audio block. Each section start is aligned to a
// cache line.
type Layout struct {
	MetadataOffset   int
	DataOffset       int
	CursorMetaOffset int
	CursorInfoOffset int
	CursorDataOffset int
	AudioOffset      int
	AudioDataOffset  int
	TotalSize        int

	BufferCount uint32
	BufferSize  uint64
}

func alignUp(n int) int {
	return (n + cacheLine - 1) &^ (cacheLine - 1)
}

// NewLayout computes the layout for a configuration.
func NewLayout(cfg Config) (Layout, error) {
	if err := cfg.Validate(); err != nil {
		return Layout{}, err
	}

	bufSize := FrameBytes(cfg.Format, cfg.Width, cfg.Height)

	metaOff := HeaderSize
	dataOff := alignUp(metaOff + int(cfg.BufferCount)*MetadataSize)
	cursorMetaOff := alignUp(dataOff + int(bufSize)*int(cfg.BufferCount))
	cursorInfoOff := cursorMetaOff + CursorMetaSize
	cursorDataOff := cursorInfoOff + CursorInfoSize
	audioOff := alignUp(cursorDataOff + MaxCursorData)
	audioDataOff := audioOff + AudioHeaderSize
	total := audioDataOff + int(cfg.AudioCapacity)

	return Layout{
		MetadataOffset:   metaOff,
		DataOffset:       dataOff,
		CursorMetaOffset: cursorMetaOff,
		CursorInfoOffset: cursorInfoOff,
		CursorDataOffset: cursorDataOff,
		AudioOffset:      audioOff,
		AudioDataOffset:  audioDataOff,
		TotalSize:        total,
		BufferCount:      cfg.BufferCount,
		BufferSize:       bufSize,
	}, nil
}

// CheckRegion verifies a mapped region is large enough for this layout.
func (l Layout) CheckRegion(size int) error {
	if size < l.TotalSize {
		return fmt.Errorf("%w: need %d bytes, have %d",
			ErrInsufficientRegion, l.TotalSize, size)
	}
	return nil
}

// MetadataOffsetFor returns the offset of buffer index's metadata entry.
func (l Layout) MetadataOffsetFor(index uint32) int {
	return l.MetadataOffset + int(index)*MetadataSize
}

// BufferOffsetFor returns the offset of buffer index's pixel data.
func (l Layout) BufferOffsetFor(index uint32) int {
	return l.DataOffset + int(index)*int(l.BufferSize)
}

// NextIndex returns the write target after current: round-robin over the
// slots, never landing on the currently published index.
func (l Layout) NextIndex(current uint32) uint32 {
	return (current + 1) % l.BufferCount
}
