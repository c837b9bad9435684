package input

import "fmt"

// Backend emits events into the session. Implementations are safe for
// concurrent use.
type Backend interface {
	// Keyboard emits one keyboard event.
	Keyboard(ev KeyboardEvent) error

	// Mouse emits one mouse event.
	Mouse(ev MouseEvent) error

	// Name identifies the backend for status reporting.
	Name() string

	// Close releases the virtual devices.
	Close() error
}

// NewBackend builds the configured injection backend.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "noop":
		return NewNoop(), nil
	case "uinput", "":
		return newUInputBackend()
	}
	return nil, fmt.Errorf("unknown input backend %q", name)
}

// Noop discards events but counts them. Used in tests and on hosts without
// /dev/uinput access.
type Noop struct {
	KeyboardEvents int
	MouseEvents    int
}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Keyboard(KeyboardEvent) error {
	n.KeyboardEvents++
	return nil
}

func (n *Noop) Mouse(MouseEvent) error {
	n.MouseEvents++
	return nil
}

func (n *Noop) Name() string { return "noop" }

func (n *Noop) Close() error { return nil }
