//go:build !linux

package audiocap

func newPulseSource() (Source, error) {
	return nil, ErrBackendUnavailable
}
