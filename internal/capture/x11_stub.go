//go:build !linux || !cgo

package capture

func newX11FrameSource() (FrameSource, error) {
	return nil, ErrBackendUnavailable
}

func newX11CursorSource() (CursorSource, error) {
	return nil, ErrBackendUnavailable
}
