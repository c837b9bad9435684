package capture

import (
	"sync"

	"github.com/shmcast/shmcast/internal/protocol"
)

// TestPattern is a synthetic frame source: a scrolling gradient whose pixel
// values are a pure function of (frame counter, position). Used by the
// degraded/headless agent mode and by the end-to-end tests, where the
// determinism lets a reader verify which publish it observed.
type TestPattern struct {
	mu      sync.Mutex
	width   uint32
	height  uint32
	format  protocol.PixelFormat
	started bool
	counter uint64
}

// NewTestPattern creates the synthetic source.
func NewTestPattern() *TestPattern {
	return &TestPattern{}
}

func (t *TestPattern) Init(width, height uint32, format protocol.PixelFormat) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width = width
	t.height = height
	t.format = format
	return nil
}

func (t *TestPattern) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *TestPattern) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	return nil
}

func (t *TestPattern) CaptureFrame(dst []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0, ErrBackendUnavailable
	}

	size := int(protocol.FrameBytes(t.format, t.width, t.height))
	if size > len(dst) {
		size = len(dst)
	}
	t.counter++
	FillPattern(dst[:size], t.counter)
	return size, nil
}

// FillPattern writes the deterministic byte pattern for a frame counter.
// Exported so tests can recompute the expected bytes for any publish.
func FillPattern(dst []byte, counter uint64) {
	c := byte(counter)
	for i := range dst {
		dst[i] = c + byte(i)
	}
}

// TestCursor is the cursor companion of TestPattern: a fixed 32x32 arrow
// shape reported once, with the position walking a diagonal.
type TestCursor struct {
	mu       sync.Mutex
	x, y     int32
	reported bool
}

// NewTestCursor creates the synthetic cursor source.
func NewTestCursor() *TestCursor {
	return &TestCursor{}
}

func (t *TestCursor) Position() (int32, int32, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.x = (t.x + 1) % 1024
	t.y = (t.y + 1) % 768
	return t.x, t.y, true, nil
}

func (t *TestCursor) Shape() (*protocol.CursorShape, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reported {
		return nil, nil
	}
	t.reported = true

	const size = 32
	data := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x == y || (x < 8 && y < 8 && x >= y) {
				off := (y*size + x) * 4
				data[off] = 255   // B
				data[off+1] = 255 // G
				data[off+2] = 255 // R
				data[off+3] = 255 // A
			}
		}
	}
	return &protocol.CursorShape{
		Width:  size,
		Height: size,
		HotX:   0,
		HotY:   0,
		Data:   data,
	}, nil
}
