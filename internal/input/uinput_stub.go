//go:build !linux

package input

func newUInputBackend() (Backend, error) {
	return nil, ErrNotImplemented
}
