// Package input injects host-originated keyboard and mouse events into the
// local session through a virtual uinput device.
package input

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerClosed is returned when events arrive after Close.
	ErrHandlerClosed = errors.New("input handler is closed")
	// ErrInvalidEvent is returned for malformed or unknown events.
	ErrInvalidEvent = errors.New("invalid input event")
	// ErrNotImplemented is returned for event kinds the backend cannot emit.
	ErrNotImplemented = errors.New("not implemented")
)

// KeyboardAction is what to do with a key.
type KeyboardAction string

const (
	KeyPress   KeyboardAction = "press"
	KeyRelease KeyboardAction = "release"
	KeyType    KeyboardAction = "type" // press then release
)

// MouseAction is what to do with the pointer.
type MouseAction string

const (
	MouseMove          MouseAction = "move"          // relative
	MouseMoveAbsolute  MouseAction = "move_absolute" // 0-65535 range
	MouseButtonPress   MouseAction = "button_press"
	MouseButtonRelease MouseAction = "button_release"
	MouseClick         MouseAction = "click" // press then release
	MouseScroll        MouseAction = "scroll"
)

// MouseButton identifies a pointer button.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
	ButtonSide   MouseButton = "side"
	ButtonExtra  MouseButton = "extra"
)

// Modifiers carries modifier key state alongside a keyboard event.
type Modifiers struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// KeyboardEvent is one key action. Code is a PC set-1 scancode; the main
// block maps directly onto Linux input keycodes.
type KeyboardEvent struct {
	Action    KeyboardAction `json:"action"`
	Code      uint16         `json:"code"`
	Modifiers Modifiers      `json:"modifiers,omitempty"`
}

// MouseEvent is one pointer action. X/Y are deltas for move, absolute
// coordinates for move_absolute, and Z is the scroll delta.
type MouseEvent struct {
	Action MouseAction `json:"action"`
	X      int32       `json:"x,omitempty"`
	Y      int32       `json:"y,omitempty"`
	Z      int32       `json:"z,omitempty"`
	Button MouseButton `json:"button,omitempty"`
}

// Request is a batch injection request as carried over the HTTP API.
type Request struct {
	Keyboard []KeyboardEvent `json:"keyboard,omitempty"`
	Mouse    []MouseEvent    `json:"mouse,omitempty"`
}

// Empty reports whether the request carries no events.
func (r *Request) Empty() bool {
	return len(r.Keyboard) == 0 && len(r.Mouse) == 0
}

// EventCount is the total number of events in the request.
func (r *Request) EventCount() int {
	return len(r.Keyboard) + len(r.Mouse)
}

// Validate rejects requests with unknown actions or buttons before any
// event reaches the device.
func (r *Request) Validate() error {
	for i, kb := range r.Keyboard {
		switch kb.Action {
		case KeyPress, KeyRelease, KeyType:
		default:
			return fmt.Errorf("%w: keyboard[%d] action %q", ErrInvalidEvent, i, kb.Action)
		}
	}
	for i, m := range r.Mouse {
		switch m.Action {
		case MouseMove, MouseMoveAbsolute, MouseScroll:
		case MouseButtonPress, MouseButtonRelease, MouseClick:
			switch m.Button {
			case ButtonLeft, ButtonRight, ButtonMiddle, ButtonSide, ButtonExtra:
			default:
				return fmt.Errorf("%w: mouse[%d] button %q", ErrInvalidEvent, i, m.Button)
			}
		default:
			return fmt.Errorf("%w: mouse[%d] action %q", ErrInvalidEvent, i, m.Action)
		}
	}
	return nil
}
