package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmcast/shmcast/internal/protocol"
)

func TestTestPatternDeterministic(t *testing.T) {
	p := NewTestPattern()
	require.NoError(t, p.Init(16, 8, protocol.FormatBGRA32))

	buf := make([]byte, 16*8*4)

	// Capturing before Start is refused.
	_, err := p.CaptureFrame(buf)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	require.NoError(t, p.Start())

	n, err := p.CaptureFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	want := make([]byte, len(buf))
	FillPattern(want, 1)
	assert.Equal(t, want, buf)

	// Next frame differs but is reproducible from its counter.
	n, err = p.CaptureFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	FillPattern(want, 2)
	assert.Equal(t, want, buf)

	require.NoError(t, p.Stop())
}

func TestTestCursorShapeOnce(t *testing.T) {
	c := NewTestCursor()

	shape, err := c.Shape()
	require.NoError(t, err)
	require.NotNil(t, shape)
	assert.EqualValues(t, 32, shape.Width)
	assert.Len(t, shape.Data, 32*32*4)

	shape, err = c.Shape()
	require.NoError(t, err)
	assert.Nil(t, shape, "shape reported only on change")

	x1, y1, visible, err := c.Position()
	require.NoError(t, err)
	assert.True(t, visible)
	x2, y2, _, err := c.Position()
	require.NoError(t, err)
	assert.NotEqual(t, x1, x2)
	assert.NotEqual(t, y1, y2)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewFrameSource("directfb")
	assert.Error(t, err)
	_, err = NewCursorSource("directfb")
	assert.Error(t, err)

	src, err := NewFrameSource("testpattern")
	require.NoError(t, err)
	assert.NotNil(t, src)
}
