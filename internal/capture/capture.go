// Package capture defines the frame and cursor capture backends the guest
// agent drives. Backends produce raw pixel bytes; everything about
// publishing them lives in the protocol layer.
package capture

import (
	"errors"
	"fmt"

	"github.com/shmcast/shmcast/internal/protocol"
)

var (
	// ErrNoFrame means the backend had nothing new this cycle.
	ErrNoFrame = errors.New("no frame available")

	// ErrBackendUnavailable means the backend could not reach its display
	// or device. Recoverable: the host can retry with stop/start.
	ErrBackendUnavailable = errors.New("capture backend unavailable")
)

// FrameSource captures raw frames into a caller-provided buffer.
type FrameSource interface {
	// Init prepares the source for the given geometry. Called before
	// Start and again after every accepted format change.
	Init(width, height uint32, format protocol.PixelFormat) error

	// Start acquires the backend resources.
	Start() error

	// Stop releases them. Safe to call when not started.
	Stop() error

	// CaptureFrame writes one frame into dst and returns the byte count,
	// or ErrNoFrame when the display has nothing new.
	CaptureFrame(dst []byte) (int, error)
}

// CursorSource reports cursor position and shape changes.
type CursorSource interface {
	// Position returns the pointer location and visibility.
	Position() (x, y int32, visible bool, err error)

	// Shape returns the cursor image when it changed since the last call,
	// nil otherwise.
	Shape() (*protocol.CursorShape, error)
}

// NewFrameSource builds the configured frame backend.
func NewFrameSource(name string) (FrameSource, error) {
	switch name {
	case "testpattern":
		return NewTestPattern(), nil
	case "x11", "":
		return newX11FrameSource()
	}
	return nil, fmt.Errorf("unknown frame backend %q", name)
}

// NewCursorSource builds the cursor backend matching the frame backend.
func NewCursorSource(name string) (CursorSource, error) {
	switch name {
	case "testpattern":
		return NewTestCursor(), nil
	case "x11", "":
		return newX11CursorSource()
	}
	return nil, fmt.Errorf("unknown cursor backend %q", name)
}
