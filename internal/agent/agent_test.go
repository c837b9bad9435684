package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmcast/shmcast/internal/protocol"
	"github.com/shmcast/shmcast/internal/shmem"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.FrameBackend = "testpattern"
	opts.CursorBackend = "testpattern"
	opts.AudioBackend = "silence"
	opts.AudioChunk = 256
	return opts
}

func newTestPair(t *testing.T, cfg protocol.Config) (*protocol.HostView, *Agent) {
	t.Helper()

	lay, err := protocol.NewLayout(cfg)
	require.NoError(t, err)

	region := shmem.Anonymous(int(lay.TotalSize))
	t.Cleanup(func() { region.Close() })

	host, err := protocol.InitRegion(region.Bytes(), cfg)
	require.NoError(t, err)

	a, err := New(region.Bytes(), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { a.stopPipeline() })

	return host, a
}

func smallConfig() protocol.Config {
	return protocol.Config{
		Width:         64,
		Height:        48,
		Format:        protocol.FormatBGRA32,
		BufferCount:   3,
		AudioCapacity: 4096,
	}
}

func TestAgentStartStop(t *testing.T) {
	host, a := newTestPair(t, smallConfig())

	assert.Equal(t, protocol.StateIdle, a.State())

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()

	state, err := host.GuestState()
	require.NoError(t, err)
	assert.Equal(t, protocol.StateCapturing, state)
	assert.Equal(t, protocol.CmdNone, host.Command(), "command must be consumed")

	host.SetCommand(protocol.CmdStopCapture)
	a.Step()

	state, err = host.GuestState()
	require.NoError(t, err)
	assert.Equal(t, protocol.StateIdle, state)
}

func TestAgentDuplicateStartIsNoop(t *testing.T) {
	host, a := newTestPair(t, smallConfig())

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	require.Equal(t, protocol.StateCapturing, a.State())

	a.PumpFrame()
	before := host.FrameNumber()

	// A second start while capturing must not restart the pipeline or
	// disturb the publish sequence.
	host.SetCommand(protocol.CmdStartCapture)
	a.Step()

	assert.Equal(t, protocol.StateCapturing, a.State())
	assert.Equal(t, protocol.CmdNone, host.Command())

	a.PumpFrame()
	assert.Equal(t, before+1, host.FrameNumber())
}

func TestAgentPublishesFrames(t *testing.T) {
	host, a := newTestPair(t, smallConfig())

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	require.Equal(t, protocol.StateCapturing, a.State())

	for i := 0; i < 5; i++ {
		a.PumpFrame()
	}

	assert.Equal(t, uint64(5), host.FrameNumber())

	frame, err := host.LatestFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), frame.Meta.Sequence)
	assert.Equal(t, 64*48*4, len(frame.Data))
}

func TestAgentPublishesCursor(t *testing.T) {
	host, a := newTestPair(t, smallConfig())

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()

	a.PumpCursor()

	snap, err := host.CursorState()
	require.NoError(t, err)
	assert.True(t, snap.Visible)
	assert.True(t, snap.HasShape, "test cursor reports its shape on first poll")
	assert.EqualValues(t, 32, snap.Shape.Width)
}

func TestAgentSetFormatRelayout(t *testing.T) {
	cfg := smallConfig()
	host, a := newTestPair(t, cfg)

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	require.Equal(t, protocol.StateCapturing, a.State())

	// Shrink: the new layout fits the existing region.
	host.RequestFormat(32, 24, protocol.FormatBGRA32)
	a.Step()

	require.Equal(t, protocol.StateCapturing, a.State())
	assert.Equal(t, uint32(32), host.Width())
	assert.Equal(t, uint32(24), host.Height())

	a.PumpFrame()
	frame, err := host.LatestFrame()
	require.NoError(t, err)
	assert.Equal(t, 32*24*4, len(frame.Data))

	// The audio header followed the moved block and the stream was
	// reconfigured by the restarted pipeline.
	info, err := host.AudioInfo()
	require.NoError(t, err)
	assert.Equal(t, protocol.AudioS16LE, info.Format)
	assert.Equal(t, cfg.AudioCapacity, info.Capacity)
}

func TestAgentSetFormatWhileIdle(t *testing.T) {
	host, a := newTestPair(t, smallConfig())
	require.Equal(t, protocol.StateIdle, a.State())

	host.RequestFormat(32, 24, protocol.FormatBGRA32)
	a.Step()

	assert.Equal(t, protocol.StateIdle, a.State())
	assert.Equal(t, protocol.CmdNone, host.Command(), "command must be consumed")
	assert.Equal(t, uint32(32), host.Width())
	assert.Equal(t, uint32(24), host.Height())

	// A later start captures at the new geometry.
	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	require.Equal(t, protocol.StateCapturing, a.State())
	a.PumpFrame()
	frame, err := host.LatestFrame()
	require.NoError(t, err)
	assert.Equal(t, 32*24*4, len(frame.Data))

	host.SetCommand(protocol.CmdStopCapture)
	a.Step()
	require.Equal(t, protocol.StateIdle, a.State())

	// An oversized request from idle lands in the error state too.
	host.RequestFormat(4096, 4096, protocol.FormatBGRA32)
	a.Step()
	assert.Equal(t, protocol.StateError, a.State())
	assert.ErrorIs(t, a.LastError(), protocol.ErrInsufficientRegion)
}

func TestAgentSetFormatTooLargeFails(t *testing.T) {
	host, a := newTestPair(t, smallConfig())

	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	require.Equal(t, protocol.StateCapturing, a.State())

	// Growing far past the mapped region must be refused, leaving the
	// agent in the error state with the cause recorded.
	host.RequestFormat(4096, 4096, protocol.FormatBGRA32)
	a.Step()

	assert.Equal(t, protocol.StateError, a.State())
	assert.ErrorIs(t, a.LastError(), protocol.ErrInsufficientRegion)

	// Only stop leaves the error state.
	host.SetCommand(protocol.CmdStartCapture)
	a.Step()
	assert.Equal(t, protocol.StateError, a.State())

	host.SetCommand(protocol.CmdStopCapture)
	a.Step()
	assert.Equal(t, protocol.StateIdle, a.State())
	assert.NoError(t, a.LastError())
}

func TestAgentRunHonorsContext(t *testing.T) {
	_, a := newTestPair(t, smallConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, protocol.StateIdle, a.State())
}
