package protocol

import (
	"fmt"
	"time"
)

// GuestView is the guest agent's side of the region: it publishes frames,
// cursor updates and audio, reports state, and consumes commands. Exactly
// one GuestView may exist per region; the guest is the single writer of
// every field it touches.
type GuestView struct {
	r   region
	lay Layout
}

// AttachGuest validates the header and builds the guest view. A magic or
// version mismatch is ErrStaleRegion: the agent must refuse the region
// rather than write through a layout it does not understand.
func AttachGuest(mem []byte) (*GuestView, error) {
	if len(mem) < HeaderSize {
		return nil, ErrInsufficientRegion
	}
	r := region{mem}
	if r.getU32(offMagic) != RegionMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrStaleRegion, r.getU32(offMagic))
	}
	if r.getU32(offVersion) != Version {
		return nil, fmt.Errorf("%w: version %d, want %d",
			ErrStaleRegion, r.getU32(offVersion), Version)
	}
	cfg, err := r.headerConfig()
	if err != nil {
		return nil, err
	}
	lay, err := NewLayout(cfg)
	if err != nil {
		return nil, err
	}
	if err := lay.CheckRegion(len(mem)); err != nil {
		return nil, err
	}
	return &GuestView{r: r, lay: lay}, nil
}

// Command returns the host's pending command. Unknown codes are surfaced as
// ErrUnknownCommand so the agent can report StateError instead of acting on
// a default.
func (v *GuestView) Command() (Command, error) {
	return ParseCommand(v.r.loadU32(offCommand))
}

// ClearCommand resets the command field to None after the agent has
// consumed it, so the host never sees a command replayed.
func (v *GuestView) ClearCommand() {
	v.r.storeU32(offCommand, uint32(CmdNone))
}

// SetState publishes the agent state to the host.
func (v *GuestView) SetState(s GuestState) {
	v.r.storeU32(offGuestState, uint32(s))
}

// State returns the last state the agent published.
func (v *GuestView) State() GuestState {
	s, err := ParseGuestState(v.r.loadU32(offGuestState))
	if err != nil {
		return StateError
	}
	return s
}

// SetPID records the agent's PID in the header for host-side diagnostics.
func (v *GuestView) SetPID(pid uint32) {
	v.r.storeU32(offGuestPID, pid)
}

// Geometry accessors, reflecting the currently active layout.

func (v *GuestView) Width() uint32       { return v.r.getU32(offWidth) }
func (v *GuestView) Height() uint32      { return v.r.getU32(offHeight) }
func (v *GuestView) BufferCount() uint32 { return v.lay.BufferCount }
func (v *GuestView) BufferSize() uint64  { return v.lay.BufferSize }

func (v *GuestView) Format() PixelFormat {
	f, _ := ParsePixelFormat(v.r.getU32(offFormat))
	return f
}

// PendingFormat reads the format-change request fields. Valid only while
// the command is SetFormat.
func (v *GuestView) PendingFormat() (width, height uint32, format PixelFormat, err error) {
	format, err = ParsePixelFormat(v.r.getU32(offPendingFormat))
	if err != nil {
		return 0, 0, 0, err
	}
	return v.r.getU32(offPendingWidth), v.r.getU32(offPendingHeight), format, nil
}

// Relayout applies a SetFormat request. The new layout is validated against
// the existing mapped region before anything is touched; if it does not fit
// the old layout stays fully active and the caller reports StateError.
// On success the header geometry is rewritten, buffer metadata is reset,
// the audio header is rebuilt at its relocated offset with an empty ring,
// and publishing resumes from buffer zero.
func (v *GuestView) Relayout() error {
	width, height, format, err := v.PendingFormat()
	if err != nil {
		return err
	}
	cfg := Config{
		Width:         width,
		Height:        height,
		Format:        format,
		BufferCount:   v.lay.BufferCount,
		AudioCapacity: v.r.getU32(v.lay.AudioOffset + offAudioCapacity),
	}
	lay, err := NewLayout(cfg)
	if err != nil {
		return err
	}
	if err := lay.CheckRegion(v.r.size()); err != nil {
		return err
	}

	// The audio block sits behind the buffer data, so it moves with the
	// geometry. Capture its stream parameters before anything below can
	// overwrite the old header.
	oldAudio := v.lay.AudioOffset
	audioFormat := v.r.getU32(oldAudio + offAudioFormat)
	sampleRate := v.r.getU32(oldAudio + offAudioSampleRate)
	channels := v.r.getU32(oldAudio + offAudioChannels)

	// Point of no return: the host is quiesced on guest_state while a
	// SetFormat is in flight, so plain writes are safe here.
	v.r.putU32(offFormat, uint32(format))
	v.r.putU32(offWidth, width)
	v.r.putU32(offHeight, height)
	v.r.putU64(offBufferSize, lay.BufferSize)
	for i := uint32(0); i < lay.BufferCount; i++ {
		off := lay.MetadataOffsetFor(i)
		v.r.putU64(off+offMetaSequence, 0)
		v.r.putU64(off+offMetaTimestamp, 0)
		v.r.putU64(off+offMetaDataOffset, uint64(lay.BufferOffsetFor(i)))
		v.r.putU32(off+offMetaDataSize, 0)
		v.r.storeU32(off+offMetaFlags, 0)
	}
	v.r.storeU32(offActiveIndex, 0)

	// Rebuild the audio header at the new offset. The ring restarts
	// empty; buffered samples do not survive a re-layout.
	base := lay.AudioOffset
	v.r.putU32(base+offAudioMagic, AudioMagic)
	v.r.putU32(base+offAudioVersion, Version)
	v.r.putU32(base+offAudioFormat, audioFormat)
	v.r.putU32(base+offAudioSampleRate, sampleRate)
	v.r.putU32(base+offAudioChannels, channels)
	v.r.putU32(base+offAudioCapacity, cfg.AudioCapacity)
	v.r.storeU32(base+offAudioWritePos, 0)
	v.r.storeU32(base+offAudioReadPos, 0)
	v.r.storeU64(base+offAudioTotalWritten, 0)
	v.r.storeU64(base+offAudioDropped, 0)

	v.lay = lay
	return nil
}

// BeginFrame selects the next write target and returns its pixel buffer.
// The target is never the currently published index, so the host can keep
// reading active_index's buffer while the guest writes.
func (v *GuestView) BeginFrame() (uint32, []byte) {
	index := v.lay.NextIndex(v.r.loadU32(offActiveIndex))
	return index, v.r.slice(v.lay.BufferOffsetFor(index), int(v.lay.BufferSize))
}

// PublishFrame completes a publish: metadata first, then the active index
// with release ordering, then the frame number. A host that observes the
// new index therefore always sees fully written metadata and pixels; a host
// that observes the new frame number may still briefly see the previous
// index, which costs it at most one frame of staleness, never torn data.
// Returns the frame's sequence number.
func (v *GuestView) PublishFrame(index uint32, size uint32, timestamp time.Time) uint64 {
	seq := v.r.loadU64(offFrameNumber) + 1
	off := v.lay.MetadataOffsetFor(index)
	v.r.putU64(off+offMetaSequence, seq)
	v.r.putU64(off+offMetaTimestamp, uint64(timestamp.UnixNano()))
	v.r.putU64(off+offMetaDataOffset, uint64(v.lay.BufferOffsetFor(index)))
	v.r.putU32(off+offMetaDataSize, size)
	v.r.putU32(off+offMetaFlags, FrameFlagReady)

	v.r.storeU32(offActiveIndex, index)
	v.r.addU64(offFrameNumber, 1)
	return seq
}

// FrameNumber returns the number of frames published so far.
func (v *GuestView) FrameNumber() uint64 {
	return v.r.loadU64(offFrameNumber)
}

// SetCursorPosition publishes cursor position and visibility. Positions are
// single-word writes and carry no generation counter; only shape updates
// need the seqlock.
func (v *GuestView) SetCursorPosition(x, y int32, visible bool) {
	base := v.lay.CursorMetaOffset
	v.r.storeU32(base+offCursorX, uint32(x))
	v.r.storeU32(base+offCursorY, uint32(y))
	var vis uint32
	if visible {
		vis = 1
	}
	v.r.storeU32(base+offCursorVisible, vis)
}

// WriteCursorShape publishes a new cursor shape. The generation counter is
// bumped to an odd value before the shape bytes are written and to the next
// even value after, so a host read that sees an even, unchanged counter on
// both sides of its copy holds a consistent snapshot.
func (v *GuestView) WriteCursorShape(shape CursorShape) error {
	if len(shape.Data) > MaxCursorData {
		return fmt.Errorf("cursor shape %d bytes exceeds %d", len(shape.Data), MaxCursorData)
	}
	meta := v.lay.CursorMetaOffset
	info := v.lay.CursorInfoOffset

	gen := v.r.loadU32(meta + offCursorUpdates)
	v.r.storeU32(meta+offCursorUpdates, gen+1)

	v.r.putU16(info+offShapeWidth, shape.Width)
	v.r.putU16(info+offShapeHeight, shape.Height)
	v.r.putU16(info+offShapeHotX, uint16(shape.HotX))
	v.r.putU16(info+offShapeHotY, uint16(shape.HotY))
	v.r.putU32(info+offShapeDataSize, uint32(len(shape.Data)))
	copy(v.r.slice(v.lay.CursorDataOffset, len(shape.Data)), shape.Data)
	v.r.storeU32(meta+offCursorHasShape, 1)

	v.r.storeU32(meta+offCursorUpdates, gen+2)
	return nil
}

// ConfigureAudio writes the stream parameters the capture backend settled
// on. Called before the first WriteAudio; the ring capacity is fixed by the
// host at layout time.
func (v *GuestView) ConfigureAudio(format AudioFormat, sampleRate, channels uint32) {
	base := v.lay.AudioOffset
	v.r.putU32(base+offAudioFormat, uint32(format))
	v.r.putU32(base+offAudioSampleRate, sampleRate)
	v.r.putU32(base+offAudioChannels, channels)
}

// WriteAudio appends a captured chunk to the ring. If the chunk does not
// fit entirely in the free span it is dropped whole and the drop counter is
// bumped: audio trades completeness for latency. Returns false on drop.
func (v *GuestView) WriteAudio(chunk []byte) bool {
	base := v.lay.AudioOffset
	capacity := v.r.getU32(base + offAudioCapacity)
	if capacity == 0 || len(chunk) == 0 {
		return false
	}

	writePos := v.r.loadU32(base + offAudioWritePos)
	readPos := v.r.loadU32(base + offAudioReadPos)
	used := (writePos - readPos + capacity) % capacity
	free := capacity - used - 1
	if uint32(len(chunk)) > free {
		v.r.addU64(base+offAudioDropped, 1)
		return false
	}

	ring := v.r.slice(v.lay.AudioDataOffset, int(capacity))
	first := copy(ring[writePos:], chunk)
	if first < len(chunk) {
		copy(ring, chunk[first:])
	}
	v.r.storeU32(base+offAudioWritePos, (writePos+uint32(len(chunk)))%capacity)
	v.r.addU64(base+offAudioTotalWritten, uint64(len(chunk)))
	return true
}
