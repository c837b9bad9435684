package protocol

import "fmt"

// Frame is a host-side copy of one published frame.
type Frame struct {
	Meta FrameMeta
	Data []byte
	// Stale is set when the guest published again while the copy was in
	// flight. A stale copy may have been overwritten mid-read if the
	// writer lapped the full buffer ring; consumers wanting a guaranteed
	// clean frame discard stale copies and read again.
	Stale bool
}

// HostView is the host's side of the region: it initializes the layout,
// issues commands, and reads published frames, cursor state and audio.
// All host-side access to one region goes through a single HostView; the
// host Buffer Manager serializes callers above it.
type HostView struct {
	r region
}

// InitRegion lays out and zeroes a freshly allocated region. Fatal at setup
// when the region is too small; nothing is written in that case.
func InitRegion(mem []byte, cfg Config) (*HostView, error) {
	lay, err := NewLayout(cfg)
	if err != nil {
		return nil, err
	}
	if err := lay.CheckRegion(len(mem)); err != nil {
		return nil, err
	}

	r := region{mem}
	clear(mem[:lay.TotalSize])

	r.putU32(offMagic, RegionMagic)
	r.putU32(offVersion, Version)
	r.putU32(offFormat, uint32(cfg.Format))
	r.putU32(offWidth, cfg.Width)
	r.putU32(offHeight, cfg.Height)
	r.putU32(offBufferCount, cfg.BufferCount)
	r.putU64(offBufferSize, lay.BufferSize)

	for i := uint32(0); i < cfg.BufferCount; i++ {
		off := lay.MetadataOffsetFor(i)
		r.putU64(off+offMetaDataOffset, uint64(lay.BufferOffsetFor(i)))
	}

	r.putU32(lay.AudioOffset+offAudioMagic, AudioMagic)
	r.putU32(lay.AudioOffset+offAudioVersion, Version)
	r.putU32(lay.AudioOffset+offAudioCapacity, cfg.AudioCapacity)

	return &HostView{r: r}, nil
}

// AttachHost builds a host view over a region that was already initialized
// (for example by a previous host process over the same backing file).
func AttachHost(mem []byte) (*HostView, error) {
	if len(mem) < HeaderSize {
		return nil, ErrInsufficientRegion
	}
	r := region{mem}
	if r.getU32(offMagic) != RegionMagic || r.getU32(offVersion) != Version {
		return nil, ErrStaleRegion
	}
	v := &HostView{r: r}
	lay, err := v.layout()
	if err != nil {
		return nil, err
	}
	if err := lay.CheckRegion(len(mem)); err != nil {
		return nil, err
	}
	return v, nil
}

// layout rebuilds the offset map from the header. The guest rewrites the
// geometry during an accepted SetFormat, so the host re-derives it per
// operation instead of caching.
func (v *HostView) layout() (Layout, error) {
	cfg, err := v.r.headerConfig()
	if err != nil {
		return Layout{}, err
	}
	return NewLayout(cfg)
}

// Command returns the command field as the guest would see it.
func (v *HostView) Command() Command {
	c, err := ParseCommand(v.r.loadU32(offCommand))
	if err != nil {
		return CmdNone
	}
	return c
}

// SetCommand publishes a command to the guest. The release store orders any
// pending-format writes before the command becomes visible.
func (v *HostView) SetCommand(c Command) {
	v.r.storeU32(offCommand, uint32(c))
}

// RequestFormat stages a format change and raises SetFormat. The pending
// fields are plain writes sequenced before the command store.
func (v *HostView) RequestFormat(width, height uint32, format PixelFormat) {
	v.r.putU32(offPendingWidth, width)
	v.r.putU32(offPendingHeight, height)
	v.r.putU32(offPendingFormat, uint32(format))
	v.SetCommand(CmdSetFormat)
}

// GuestState returns the state the guest last published. Unknown codes map
// to StateError with the parse error attached.
func (v *HostView) GuestState() (GuestState, error) {
	return ParseGuestState(v.r.loadU32(offGuestState))
}

// GuestPID returns the agent PID recorded in the header, zero when no agent
// has attached.
func (v *HostView) GuestPID() uint32 {
	return v.r.loadU32(offGuestPID)
}

// FrameNumber returns the guest's publish counter; it never decreases, and
// an unchanged value across two polls means no new frame, not a lost one.
func (v *HostView) FrameNumber() uint64 {
	return v.r.loadU64(offFrameNumber)
}

// ActiveIndex returns the most recently published buffer index.
func (v *HostView) ActiveIndex() uint32 {
	return v.r.loadU32(offActiveIndex)
}

// Geometry accessors reflecting the guest's current layout.

func (v *HostView) Width() uint32  { return v.r.getU32(offWidth) }
func (v *HostView) Height() uint32 { return v.r.getU32(offHeight) }

func (v *HostView) Format() PixelFormat {
	f, _ := ParsePixelFormat(v.r.getU32(offFormat))
	return f
}

// LatestFrame copies out the most recently published frame. ErrNoFrame when
// nothing has been published since setup (or since the last re-layout).
func (v *HostView) LatestFrame() (Frame, error) {
	lay, err := v.layout()
	if err != nil {
		return Frame{}, err
	}
	index := v.r.loadU32(offActiveIndex)
	if index >= lay.BufferCount {
		return Frame{}, fmt.Errorf("active index %d out of range", index)
	}

	off := lay.MetadataOffsetFor(index)
	meta := FrameMeta{
		Sequence:    v.r.getU64(off + offMetaSequence),
		TimestampNS: v.r.getU64(off + offMetaTimestamp),
		DataOffset:  v.r.getU64(off + offMetaDataOffset),
		DataSize:    v.r.getU32(off + offMetaDataSize),
		Flags:       v.r.loadU32(off + offMetaFlags),
	}
	if !meta.Ready() {
		return Frame{}, ErrNoFrame
	}
	if meta.DataOffset+uint64(meta.DataSize) > uint64(v.r.size()) {
		return Frame{}, fmt.Errorf("frame data [%d, +%d) outside region",
			meta.DataOffset, meta.DataSize)
	}

	data := make([]byte, meta.DataSize)
	copy(data, v.r.slice(int(meta.DataOffset), int(meta.DataSize)))

	// Republish detection. The guest writes a buffer only after the active
	// index has moved off it, and republishing it bumps its sequence, so a
	// copy that raced the writer always shows up in one of the two checks.
	stale := v.r.loadU32(offActiveIndex) != index ||
		v.r.getU64(off+offMetaSequence) != meta.Sequence

	return Frame{
		Meta:  meta,
		Data:  data,
		Stale: stale,
	}, nil
}

// cursorReadAttempts bounds the seqlock retry loop; a shape update takes
// the guest a few microseconds, so contention past this is a stuck writer.
const cursorReadAttempts = 4

// CursorState reads the cursor channel with the generation-counter pattern:
// counter, fields, counter again; equal and even means consistent. A read
// that keeps racing shape updates returns ErrCursorTorn and the caller
// discards the poll.
func (v *HostView) CursorState() (CursorSnapshot, error) {
	lay, err := v.layout()
	if err != nil {
		return CursorSnapshot{}, err
	}
	meta := lay.CursorMetaOffset
	info := lay.CursorInfoOffset

	for attempt := 0; attempt < cursorReadAttempts; attempt++ {
		before := v.r.loadU32(meta + offCursorUpdates)
		if before&1 != 0 {
			continue // shape write in progress
		}

		snap := CursorSnapshot{
			X:        int32(v.r.loadU32(meta + offCursorX)),
			Y:        int32(v.r.loadU32(meta + offCursorY)),
			Visible:  v.r.loadU32(meta+offCursorVisible) != 0,
			HasShape: v.r.loadU32(meta+offCursorHasShape) != 0,
			Updates:  before,
		}
		if snap.HasShape {
			size := v.r.getU32(info + offShapeDataSize)
			if size > MaxCursorData {
				return CursorSnapshot{}, fmt.Errorf("cursor shape size %d exceeds region", size)
			}
			snap.Shape = CursorShape{
				Width:  v.r.getU16(info + offShapeWidth),
				Height: v.r.getU16(info + offShapeHeight),
				HotX:   int16(v.r.getU16(info + offShapeHotX)),
				HotY:   int16(v.r.getU16(info + offShapeHotY)),
				Data:   make([]byte, size),
			}
			copy(snap.Shape.Data, v.r.slice(lay.CursorDataOffset, int(size)))
		}

		if v.r.loadU32(meta+offCursorUpdates) == before {
			return snap, nil
		}
	}
	return CursorSnapshot{}, ErrCursorTorn
}

// AudioInfo returns the stream parameters and validates the audio header.
func (v *HostView) AudioInfo() (AudioInfo, error) {
	lay, err := v.layout()
	if err != nil {
		return AudioInfo{}, err
	}
	base := lay.AudioOffset
	if v.r.getU32(base+offAudioMagic) != AudioMagic {
		return AudioInfo{}, fmt.Errorf("%w: bad audio magic", ErrStaleRegion)
	}
	format, err := ParseAudioFormat(v.r.getU32(base + offAudioFormat))
	if err != nil {
		return AudioInfo{}, err
	}
	return AudioInfo{
		Format:     format,
		SampleRate: v.r.getU32(base + offAudioSampleRate),
		Channels:   v.r.getU32(base + offAudioChannels),
		Capacity:   v.r.getU32(base + offAudioCapacity),
	}, nil
}

// AudioAvailable returns the bytes ready to be drained.
func (v *HostView) AudioAvailable() int {
	lay, err := v.layout()
	if err != nil {
		return 0
	}
	base := lay.AudioOffset
	capacity := v.r.getU32(base + offAudioCapacity)
	if capacity == 0 {
		return 0
	}
	writePos := v.r.loadU32(base + offAudioWritePos)
	readPos := v.r.loadU32(base + offAudioReadPos)
	return int((writePos - readPos + capacity) % capacity)
}

// ReadAudio drains up to len(dst) bytes from the ring and advances the read
// cursor only after the copy completes. Returns the bytes consumed.
func (v *HostView) ReadAudio(dst []byte) int {
	lay, err := v.layout()
	if err != nil {
		return 0
	}
	base := lay.AudioOffset
	capacity := v.r.getU32(base + offAudioCapacity)
	if capacity == 0 || len(dst) == 0 {
		return 0
	}

	writePos := v.r.loadU32(base + offAudioWritePos)
	readPos := v.r.loadU32(base + offAudioReadPos)
	avail := int((writePos - readPos + capacity) % capacity)
	n := min(avail, len(dst))
	if n == 0 {
		return 0
	}

	ring := v.r.slice(lay.AudioDataOffset, int(capacity))
	first := copy(dst[:n], ring[readPos:])
	if first < n {
		copy(dst[first:n], ring)
	}
	v.r.storeU32(base+offAudioReadPos, (readPos+uint32(n))%capacity)
	return n
}

// AudioDropped returns the guest's overrun drop counter.
func (v *HostView) AudioDropped() uint64 {
	lay, err := v.layout()
	if err != nil {
		return 0
	}
	return v.r.loadU64(lay.AudioOffset + offAudioDropped)
}
