//go:build linux

package input

import (
	"fmt"
	"sync"

	"github.com/ThomasT75/uinput"
)

// uInputBackend drives virtual uinput devices. Mouse movement is relative;
// absolute targets are reached by tracking the last injected position.
type uInputBackend struct {
	mouse    uinput.Mouse
	keyboard uinput.Keyboard
	mu       sync.Mutex
	closed   bool
	// Last injected pointer position, for absolute moves.
	currentX int32
	currentY int32
}

func newUInputBackend() (Backend, error) {
	mouse, err := uinput.CreateMouse("/dev/uinput", []byte("shmcast virtual mouse"))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}

	keyboard, err := uinput.CreateKeyboard("/dev/uinput", []byte("shmcast virtual keyboard"))
	if err != nil {
		mouse.Close()
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}

	return &uInputBackend{
		mouse:    mouse,
		keyboard: keyboard,
	}, nil
}

func (b *uInputBackend) Name() string { return "uinput" }

func (b *uInputBackend) Keyboard(ev KeyboardEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrHandlerClosed
	}

	key, err := keycode(ev.Code)
	if err != nil {
		return err
	}

	switch ev.Action {
	case KeyPress:
		return b.keyboard.KeyDown(key)
	case KeyRelease:
		return b.keyboard.KeyUp(key)
	case KeyType:
		if err := b.keyboard.KeyDown(key); err != nil {
			return err
		}
		return b.keyboard.KeyUp(key)
	default:
		return fmt.Errorf("%w: keyboard action %q", ErrInvalidEvent, ev.Action)
	}
}

func (b *uInputBackend) Mouse(ev MouseEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrHandlerClosed
	}

	switch ev.Action {
	case MouseMove:
		return b.moveRelative(ev.X, ev.Y)
	case MouseMoveAbsolute:
		return b.moveRelative(ev.X-b.currentX, ev.Y-b.currentY)
	case MouseButtonPress:
		return b.button(ev.Button, true)
	case MouseButtonRelease:
		return b.button(ev.Button, false)
	case MouseClick:
		if err := b.button(ev.Button, true); err != nil {
			return err
		}
		return b.button(ev.Button, false)
	case MouseScroll:
		if ev.X != 0 {
			if err := b.mouse.Wheel(true, ev.X); err != nil {
				return err
			}
		}
		if ev.Z != 0 {
			return b.mouse.Wheel(false, ev.Z)
		}
		return nil
	default:
		return fmt.Errorf("%w: mouse action %q", ErrInvalidEvent, ev.Action)
	}
}

func (b *uInputBackend) moveRelative(dx, dy int32) error {
	b.currentX += dx
	b.currentY += dy
	if dx == 0 && dy == 0 {
		return nil
	}
	return b.mouse.Move(dx, dy)
}

func (b *uInputBackend) button(btn MouseButton, pressed bool) error {
	switch btn {
	case ButtonLeft:
		if pressed {
			return b.mouse.LeftPress()
		}
		return b.mouse.LeftRelease()
	case ButtonRight:
		if pressed {
			return b.mouse.RightPress()
		}
		return b.mouse.RightRelease()
	case ButtonMiddle:
		if pressed {
			return b.mouse.MiddlePress()
		}
		return b.mouse.MiddleRelease()
	case ButtonSide, ButtonExtra:
		return ErrNotImplemented
	default:
		return fmt.Errorf("%w: button %q", ErrInvalidEvent, btn)
	}
}

func (b *uInputBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.mouse != nil {
		err = b.mouse.Close()
	}
	if b.keyboard != nil {
		if e := b.keyboard.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// keycode maps a PC set-1 scancode to the Linux input keycode uinput wants.
// The main block is identity; extended 0xE0-prefixed codes need a table.
func keycode(code uint16) (int, error) {
	if code < 0xE000 {
		if code == 0 || code > 0x58 {
			return 0, fmt.Errorf("%w: scancode %#x", ErrInvalidEvent, code)
		}
		return int(code), nil
	}
	switch code {
	case 0xE01C:
		return uinput.KeyKpenter, nil
	case 0xE01D:
		return uinput.KeyRightctrl, nil
	case 0xE035:
		return uinput.KeyKpslash, nil
	case 0xE038:
		return uinput.KeyRightalt, nil
	case 0xE047:
		return uinput.KeyHome, nil
	case 0xE048:
		return uinput.KeyUp, nil
	case 0xE049:
		return uinput.KeyPageup, nil
	case 0xE04B:
		return uinput.KeyLeft, nil
	case 0xE04D:
		return uinput.KeyRight, nil
	case 0xE04F:
		return uinput.KeyEnd, nil
	case 0xE050:
		return uinput.KeyDown, nil
	case 0xE051:
		return uinput.KeyPagedown, nil
	case 0xE052:
		return uinput.KeyInsert, nil
	case 0xE053:
		return uinput.KeyDelete, nil
	}
	return 0, fmt.Errorf("%w: extended scancode %#x", ErrInvalidEvent, code)
}
