// Package protocol defines the shared-memory capture protocol between the
// host process and the guest agent. The protocol is a fixed binary layout
// over a single memory-mapped region; the only cross-process synchronization
// primitives are atomic loads and stores on fields inside that region.
//
// Field order, sizes and enumerated value codes are a wire format: they must
// stay stable across host and guest builds and are versioned through the
// region header.
package protocol

import (
	"errors"
	"fmt"
)

// Magic number at offset 0 of the region header: "SCAP".
const RegionMagic uint32 = 0x53434150

// AudioMagic validates the audio header: "SAUD".
const AudioMagic uint32 = 0x53415544

// Version is the current protocol version. A guest must refuse to attach to
// a region whose version it does not recognize.
const Version uint32 = 1

// MaxCursorData bounds the cursor shape pixel region (enough for a 128x128
// BGRA cursor).
const MaxCursorData = 64 * 1024

// Buffer count bounds. Two buffers is accepted but degrades to
// double-buffering, which loses the wait-free no-tearing guarantee.
const (
	MinBufferCount     = 2
	MaxBufferCount     = 4
	DefaultBufferCount = 3
)

// DefaultAudioCapacity is the default audio ring size (1 MiB).
const DefaultAudioCapacity uint32 = 1024 * 1024

var (
	// ErrInsufficientRegion is returned when the mapped region is smaller
	// than the computed layout. Fatal at setup; the region must not be
	// partially initialized.
	ErrInsufficientRegion = errors.New("shared region too small for layout")

	// ErrStaleRegion is returned when the region magic or version does not
	// match. Fatal for the attaching guest agent; it must exit cleanly
	// rather than write through an unknown layout.
	ErrStaleRegion = errors.New("region magic or version mismatch")

	// ErrUnsupportedFormat is returned for an unrecognized pixel or audio
	// format code. Recoverable by a SetFormat to a supported value.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrUnknownCommand is returned when the command field holds a code
	// outside the closed command set.
	ErrUnknownCommand = errors.New("unknown command code")

	// ErrCommandRejected is returned by the transition function for a
	// command that is not accepted in the current guest state.
	ErrCommandRejected = errors.New("command rejected in current state")

	// ErrNoFrame indicates that no frame has been published yet.
	ErrNoFrame = errors.New("no frame published")

	// ErrCursorTorn indicates the cursor snapshot raced a shape update and
	// should be discarded for this poll.
	ErrCursorTorn = errors.New("cursor read raced a shape update")
)

// PixelFormat is the frame pixel format code.
type PixelFormat uint32

const (
	FormatBGRA32 PixelFormat = 0
	FormatRGBA32 PixelFormat = 1
	FormatNV12   PixelFormat = 2
)

// ParsePixelFormat rejects unknown codes at the boundary instead of
// silently defaulting.
func ParsePixelFormat(v uint32) (PixelFormat, error) {
	switch PixelFormat(v) {
	case FormatBGRA32, FormatRGBA32, FormatNV12:
		return PixelFormat(v), nil
	}
	return 0, fmt.Errorf("%w: pixel format code %d", ErrUnsupportedFormat, v)
}

// PixelFormatByName resolves the textual names used in config files and
// API requests.
func PixelFormatByName(name string) (PixelFormat, error) {
	switch name {
	case "bgra32":
		return FormatBGRA32, nil
	case "rgba32":
		return FormatRGBA32, nil
	case "nv12":
		return FormatNV12, nil
	}
	return 0, fmt.Errorf("%w: pixel format %q", ErrUnsupportedFormat, name)
}

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA32:
		return "bgra32"
	case FormatRGBA32:
		return "rgba32"
	case FormatNV12:
		return "nv12"
	}
	return fmt.Sprintf("pixelformat(%d)", uint32(f))
}

// FrameBytes returns the frame size in bytes for a format and dimensions.
// NV12 carries a full-resolution Y plane plus a half-resolution interleaved
// UV plane.
func FrameBytes(f PixelFormat, width, height uint32) uint64 {
	w, h := uint64(width), uint64(height)
	switch f {
	case FormatNV12:
		return w*h + (w/2)*(h/2)*2
	default:
		return w * h * 4
	}
}

// Stride returns the bytes per pixel row for a format.
func Stride(f PixelFormat, width uint32) uint64 {
	if f == FormatNV12 {
		return uint64(width)
	}
	return uint64(width) * 4
}

// Command is written by the host and consumed (and cleared) by the guest.
type Command uint32

const (
	CmdNone         Command = 0
	CmdStartCapture Command = 1
	CmdStopCapture  Command = 2
	CmdSetFormat    Command = 3
)

// ParseCommand rejects unknown command codes.
func ParseCommand(v uint32) (Command, error) {
	switch Command(v) {
	case CmdNone, CmdStartCapture, CmdStopCapture, CmdSetFormat:
		return Command(v), nil
	}
	return CmdNone, fmt.Errorf("%w: %d", ErrUnknownCommand, v)
}

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "none"
	case CmdStartCapture:
		return "start-capture"
	case CmdStopCapture:
		return "stop-capture"
	case CmdSetFormat:
		return "set-format"
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// GuestState is written by the guest and read by the host. The value codes
// are part of the v1 wire layout.
type GuestState uint32

const (
	StateIdle         GuestState = 0
	StateCapturing    GuestState = 1
	StateError        GuestState = 2
	StateInitializing GuestState = 3
)

// ParseGuestState rejects unknown state codes.
func ParseGuestState(v uint32) (GuestState, error) {
	switch GuestState(v) {
	case StateIdle, StateCapturing, StateError, StateInitializing:
		return GuestState(v), nil
	}
	return StateError, fmt.Errorf("unknown guest state code %d", v)
}

func (s GuestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateError:
		return "error"
	case StateInitializing:
		return "initializing"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Next is the guest-agent transition function. It returns the state the
// agent moves to when it observes cmd in state, or an error when the command
// is rejected (the state returned alongside an error is the state the agent
// stays in, and for rejected commands in the error state it re-reports
// StateError).
//
// StartCapture from Idle yields Initializing; the agent drives
// Initializing -> Capturing (or Error) itself once its backends are up.
// SetFormat keeps the current state; the agent performs the re-layout as a
// side effect and moves to Error only if the new layout does not fit.
func Next(state GuestState, cmd Command) (GuestState, error) {
	switch state {
	case StateError:
		// Only StopCapture, treated as a reset, leaves the error state.
		if cmd == CmdStopCapture {
			return StateIdle, nil
		}
		if cmd == CmdNone {
			return StateError, nil
		}
		return StateError, ErrCommandRejected

	case StateIdle:
		switch cmd {
		case CmdNone, CmdStopCapture:
			return StateIdle, nil
		case CmdStartCapture:
			return StateInitializing, nil
		case CmdSetFormat:
			return StateIdle, nil
		}

	case StateCapturing:
		switch cmd {
		case CmdNone, CmdStartCapture:
			// StartCapture while capturing is a no-op; no duplicate
			// backend acquisition.
			return StateCapturing, nil
		case CmdStopCapture:
			return StateIdle, nil
		case CmdSetFormat:
			return StateCapturing, nil
		}

	case StateInitializing:
		switch cmd {
		case CmdNone, CmdStartCapture:
			return StateInitializing, nil
		case CmdStopCapture:
			return StateIdle, nil
		case CmdSetFormat:
			// A re-layout while backends are mid-acquisition would pull
			// the buffers out from under them.
			return StateInitializing, ErrCommandRejected
		}
	}
	return state, ErrUnknownCommand
}

// AudioFormat is the audio sample format code.
type AudioFormat uint32

const (
	AudioS16LE AudioFormat = 0
	AudioS24LE AudioFormat = 1
	AudioS32LE AudioFormat = 2
	AudioF32LE AudioFormat = 3
)

// ParseAudioFormat rejects unknown audio format codes.
func ParseAudioFormat(v uint32) (AudioFormat, error) {
	switch AudioFormat(v) {
	case AudioS16LE, AudioS24LE, AudioS32LE, AudioF32LE:
		return AudioFormat(v), nil
	}
	return 0, fmt.Errorf("%w: audio format code %d", ErrUnsupportedFormat, v)
}

// BytesPerSample returns the size of one sample for the format.
func (f AudioFormat) BytesPerSample() int {
	switch f {
	case AudioS16LE:
		return 2
	case AudioS24LE:
		return 3
	default:
		return 4
	}
}

func (f AudioFormat) String() string {
	switch f {
	case AudioS16LE:
		return "s16le"
	case AudioS24LE:
		return "s24le"
	case AudioS32LE:
		return "s32le"
	case AudioF32LE:
		return "f32le"
	}
	return fmt.Sprintf("audioformat(%d)", uint32(f))
}
