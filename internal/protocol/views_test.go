package protocol

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRegion allocates 8-byte-aligned memory the way the shmem package
// does, without depending on it.
func testRegion(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func testConfig() Config {
	return Config{
		Width:         64,
		Height:        48,
		Format:        FormatBGRA32,
		BufferCount:   3,
		AudioCapacity: 4096,
	}
}

func newViews(t *testing.T, cfg Config) (*HostView, *GuestView) {
	t.Helper()
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	mem := testRegion(lay.TotalSize)
	host, err := InitRegion(mem, cfg)
	require.NoError(t, err)

	guest, err := AttachGuest(mem)
	require.NoError(t, err)
	return host, guest
}

func TestInitAndAttach(t *testing.T) {
	cfg := testConfig()
	lay, err := NewLayout(cfg)
	require.NoError(t, err)

	mem := testRegion(lay.TotalSize)

	// Exact size initializes; one byte short does not.
	_, err = InitRegion(mem[:lay.TotalSize-1], cfg)
	assert.ErrorIs(t, err, ErrInsufficientRegion)

	host, err := InitRegion(mem, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), host.Width())
	assert.Equal(t, uint32(48), host.Height())
	assert.Equal(t, FormatBGRA32, host.Format())
	assert.Equal(t, uint64(0), host.FrameNumber())

	guest, err := AttachGuest(mem)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), guest.BufferCount())
	assert.Equal(t, uint64(64*48*4), guest.BufferSize())

	reattached, err := AttachHost(mem)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), reattached.Width())
}

func TestAttachRejectsForeignRegion(t *testing.T) {
	mem := testRegion(1 << 16)

	_, err := AttachGuest(mem)
	assert.ErrorIs(t, err, ErrStaleRegion)

	_, err = AttachHost(mem)
	assert.ErrorIs(t, err, ErrStaleRegion)

	_, err = AttachGuest(mem[:8])
	assert.ErrorIs(t, err, ErrInsufficientRegion)
}

func TestAttachRejectsWrongVersion(t *testing.T) {
	cfg := testConfig()
	lay, _ := NewLayout(cfg)
	mem := testRegion(lay.TotalSize)
	_, err := InitRegion(mem, cfg)
	require.NoError(t, err)

	r := region{mem}
	r.putU32(offVersion, Version+1)

	_, err = AttachGuest(mem)
	assert.ErrorIs(t, err, ErrStaleRegion)
}

func TestLatestFrameBeforeFirstPublish(t *testing.T) {
	host, _ := newViews(t, testConfig())

	_, err := host.LatestFrame()
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestPublishConsume(t *testing.T) {
	host, guest := newViews(t, testConfig())

	for i := 1; i <= 7; i++ {
		index, buf := guest.BeginFrame()
		assert.NotEqual(t, host.ActiveIndex(), index,
			"write target must never be the published buffer")
		for j := range buf {
			buf[j] = byte(i)
		}
		seq := guest.PublishFrame(index, uint32(len(buf)), time.Unix(0, int64(i)))
		assert.Equal(t, uint64(i), seq)

		frame, err := host.LatestFrame()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.Meta.Sequence)
		assert.Equal(t, uint64(i), frame.Meta.TimestampNS)
		assert.False(t, frame.Stale)
		for _, b := range frame.Data {
			if b != byte(i) {
				t.Fatalf("frame %d: got byte %d, want %d", i, b, byte(i))
			}
		}
	}

	assert.Equal(t, uint64(7), host.FrameNumber())
}

func TestFrameNumberMonotonic(t *testing.T) {
	host, guest := newViews(t, testConfig())

	var last uint64
	for i := 0; i < 20; i++ {
		index, buf := guest.BeginFrame()
		guest.PublishFrame(index, uint32(len(buf)), time.Now())
		n := host.FrameNumber()
		assert.Greater(t, n, last)
		last = n
	}
}

// Concurrent publisher and reader: every non-stale frame must be internally
// uniform (all bytes equal) and match its sequence number. Copies the
// writer raced are flagged stale and discarded, like a consumer would.
func TestPublishNoTearing(t *testing.T) {
	host, guest := newViews(t, testConfig())

	const publishes = 2000
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 1; i <= publishes; i++ {
			index, buf := guest.BeginFrame()
			fill := byte(i)
			for j := range buf {
				buf[j] = fill
			}
			guest.PublishFrame(index, uint32(len(buf)), time.Now())
		}
	}()

	reads := 0
	for {
		select {
		case <-done:
			require.Greater(t, reads, 0, "reader never overlapped the writer")
			return
		default:
		}

		frame, err := host.LatestFrame()
		if err != nil {
			continue // nothing published yet
		}
		if frame.Stale {
			continue
		}
		reads++

		fill := byte(frame.Meta.Sequence)
		for _, b := range frame.Data {
			if b != fill {
				t.Fatalf("torn frame at sequence %d: got byte %d, want %d",
					frame.Meta.Sequence, b, fill)
			}
		}
	}
}

func TestCursorPositionAndShape(t *testing.T) {
	host, guest := newViews(t, testConfig())

	snap, err := host.CursorState()
	require.NoError(t, err)
	assert.False(t, snap.HasShape)

	guest.SetCursorPosition(100, -20, true)

	shape := CursorShape{Width: 16, Height: 16, HotX: 2, HotY: 3, Data: make([]byte, 16*16*4)}
	for i := range shape.Data {
		shape.Data[i] = 0xAB
	}
	require.NoError(t, guest.WriteCursorShape(shape))

	snap, err = host.CursorState()
	require.NoError(t, err)
	assert.Equal(t, int32(100), snap.X)
	assert.Equal(t, int32(-20), snap.Y)
	assert.True(t, snap.Visible)
	require.True(t, snap.HasShape)
	assert.Equal(t, uint16(16), snap.Shape.Width)
	assert.Equal(t, int16(2), snap.Shape.HotX)
	assert.Equal(t, int16(3), snap.Shape.HotY)
	require.Len(t, snap.Shape.Data, 16*16*4)
	assert.Equal(t, byte(0xAB), snap.Shape.Data[0])

	// Counter advanced by exactly one write: two bumps.
	assert.Equal(t, uint32(2), snap.Updates)
}

func TestCursorShapeTooLarge(t *testing.T) {
	_, guest := newViews(t, testConfig())

	err := guest.WriteCursorShape(CursorShape{
		Width: 200, Height: 200, Data: make([]byte, MaxCursorData+1),
	})
	assert.Error(t, err)
}

// Concurrent shape writes against snapshot reads: a returned snapshot is
// always internally uniform; a read that kept colliding reports
// ErrCursorTorn rather than mixed bytes. The reader polls until the writer
// finishes, then one more read against the quiet region must succeed.
func TestCursorSeqlockConcurrent(t *testing.T) {
	host, guest := newViews(t, testConfig())

	const writes = 2000
	done := make(chan struct{})
	go func() {
		defer close(done)
		data := make([]byte, 4096)
		for i := 1; i <= writes; i++ {
			fill := byte(i)
			for j := range data {
				data[j] = fill
			}
			guest.WriteCursorShape(CursorShape{
				Width: uint16(i), Height: 16, Data: data,
			})
		}
	}()

	checkUniform := func(snap CursorSnapshot) {
		t.Helper()
		fill := snap.Shape.Data[0]
		for _, b := range snap.Shape.Data {
			if b != fill {
				t.Fatalf("torn cursor snapshot at update %d", snap.Updates)
			}
		}
	}

	for {
		select {
		case <-done:
			// The writer is quiet now, so the read cannot collide and
			// must return the last shape intact.
			snap, err := host.CursorState()
			require.NoError(t, err)
			require.True(t, snap.HasShape)
			checkUniform(snap)
			assert.Equal(t, byte(writes%256), snap.Shape.Data[0])
			return
		default:
		}

		snap, err := host.CursorState()
		if err != nil {
			require.ErrorIs(t, err, ErrCursorTorn)
			continue
		}
		if snap.HasShape {
			checkUniform(snap)
		}
	}
}

func TestAudioRoundTrip(t *testing.T) {
	host, guest := newViews(t, testConfig())

	guest.ConfigureAudio(AudioS16LE, 48000, 2)

	info, err := host.AudioInfo()
	require.NoError(t, err)
	assert.Equal(t, AudioS16LE, info.Format)
	assert.Equal(t, uint32(48000), info.SampleRate)
	assert.Equal(t, uint32(2), info.Channels)
	assert.Equal(t, uint32(4096), info.Capacity)

	chunk := make([]byte, 512)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	require.True(t, guest.WriteAudio(chunk))
	assert.Equal(t, 512, host.AudioAvailable())

	dst := make([]byte, 1024)
	n := host.ReadAudio(dst)
	require.Equal(t, 512, n)
	assert.Equal(t, chunk, dst[:n])
	assert.Equal(t, 0, host.AudioAvailable())
}

// One slot stays unused so full and empty are distinguishable: available
// plus free is always capacity-1.
func TestAudioRingInvariant(t *testing.T) {
	host, guest := newViews(t, testConfig())
	guest.ConfigureAudio(AudioS16LE, 48000, 2)

	const capacity = 4096
	chunk := make([]byte, 1000)
	dst := make([]byte, 600)

	for i := 0; i < 50; i++ {
		guest.WriteAudio(chunk)
		avail := host.AudioAvailable()
		assert.LessOrEqual(t, avail, capacity-1)
		host.ReadAudio(dst)
	}
}

func TestAudioOverrunDropsWholeChunk(t *testing.T) {
	host, guest := newViews(t, testConfig())
	guest.ConfigureAudio(AudioS16LE, 48000, 2)

	chunk := make([]byte, 1024)

	// Capacity 4096, usable 4095: three chunks fit, the fourth must be
	// dropped whole, leaving the buffered bytes untouched.
	require.True(t, guest.WriteAudio(chunk))
	require.True(t, guest.WriteAudio(chunk))
	require.True(t, guest.WriteAudio(chunk))
	assert.False(t, guest.WriteAudio(chunk))

	assert.Equal(t, 3*1024, host.AudioAvailable())
	assert.Equal(t, uint64(1), host.AudioDropped())

	// Draining frees space for the writer again.
	dst := make([]byte, 2048)
	require.Equal(t, 2048, host.ReadAudio(dst))
	assert.True(t, guest.WriteAudio(chunk))
	assert.Equal(t, uint64(1), host.AudioDropped())
}

func TestAudioWraparound(t *testing.T) {
	host, guest := newViews(t, testConfig())
	guest.ConfigureAudio(AudioS16LE, 48000, 2)

	// Walk the ring several times with a chunk size that does not divide
	// the capacity, forcing split copies on both sides.
	chunk := make([]byte, 1000)
	dst := make([]byte, 1000)
	counter := byte(0)
	for i := 0; i < 20; i++ {
		counter++
		for j := range chunk {
			chunk[j] = counter
		}
		require.True(t, guest.WriteAudio(chunk))
		require.Equal(t, 1000, host.ReadAudio(dst))
		assert.Equal(t, chunk, dst)
	}
}

func TestCommandChannel(t *testing.T) {
	host, guest := newViews(t, testConfig())

	cmd, err := guest.Command()
	require.NoError(t, err)
	assert.Equal(t, CmdNone, cmd)

	host.SetCommand(CmdStartCapture)
	cmd, err = guest.Command()
	require.NoError(t, err)
	assert.Equal(t, CmdStartCapture, cmd)

	guest.ClearCommand()
	assert.Equal(t, CmdNone, host.Command())

	guest.SetState(StateCapturing)
	state, err := host.GuestState()
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, state)

	guest.SetPID(4242)
	assert.Equal(t, uint32(4242), host.GuestPID())
}

func TestRelayoutShrinkAndGrow(t *testing.T) {
	host, guest := newViews(t, testConfig())

	// Publish once and buffer some audio so there is state to reset.
	index, buf := guest.BeginFrame()
	guest.PublishFrame(index, uint32(len(buf)), time.Now())
	guest.ConfigureAudio(AudioS16LE, 48000, 2)
	require.True(t, guest.WriteAudio(make([]byte, 512)))

	host.RequestFormat(32, 24, FormatBGRA32)
	require.NoError(t, guest.Relayout())
	guest.ClearCommand()

	assert.Equal(t, uint32(32), host.Width())
	assert.Equal(t, uint32(24), host.Height())
	assert.Equal(t, uint64(32*24*4), guest.BufferSize())

	// The audio block moved with the buffer data: the header must follow
	// it, carrying the stream parameters, with the ring restarted empty.
	info, err := host.AudioInfo()
	require.NoError(t, err)
	assert.Equal(t, AudioS16LE, info.Format)
	assert.Equal(t, uint32(48000), info.SampleRate)
	assert.Equal(t, uint32(4096), info.Capacity)
	assert.Equal(t, 0, host.AudioAvailable())

	chunk := make([]byte, 256)
	for i := range chunk {
		chunk[i] = 0x5A
	}
	require.True(t, guest.WriteAudio(chunk))
	dst := make([]byte, 256)
	require.Equal(t, 256, host.ReadAudio(dst))
	assert.Equal(t, chunk, dst)

	// Metadata was reset: no frame to read until the next publish.
	_, err = host.LatestFrame()
	assert.ErrorIs(t, err, ErrNoFrame)

	// The publish counter survives a re-layout.
	assert.Equal(t, uint64(1), host.FrameNumber())

	index, buf = guest.BeginFrame()
	guest.PublishFrame(index, uint32(len(buf)), time.Now())
	frame, err := host.LatestFrame()
	require.NoError(t, err)
	assert.Equal(t, 32*24*4, len(frame.Data))

	// Growing past the mapped size is refused and nothing changes.
	host.RequestFormat(4096, 4096, FormatBGRA32)
	err = guest.Relayout()
	assert.ErrorIs(t, err, ErrInsufficientRegion)
	assert.Equal(t, uint32(32), host.Width())
	assert.Equal(t, uint64(32*24*4), guest.BufferSize())
}
