package protocol

// FrameMeta is the decoded per-buffer frame metadata.
type FrameMeta struct {
	Sequence    uint64
	TimestampNS uint64
	DataOffset  uint64
	DataSize    uint32
	Flags       uint32
}

// Ready reports whether the buffer holds a completed publish.
func (m FrameMeta) Ready() bool {
	return m.Flags&FrameFlagReady != 0
}

// CursorShape is a cursor image plus hotspot, BGRA pixels.
type CursorShape struct {
	Width  uint16
	Height uint16
	HotX   int16
	HotY   int16
	Data   []byte
}

// CursorSnapshot is a consistent host-side view of the cursor channel.
type CursorSnapshot struct {
	X        int32
	Y        int32
	Visible  bool
	HasShape bool
	Updates  uint32
	Shape    CursorShape
}

// AudioInfo describes the audio stream parameters the guest configured.
type AudioInfo struct {
	Format     AudioFormat
	SampleRate uint32
	Channels   uint32
	Capacity   uint32
}
