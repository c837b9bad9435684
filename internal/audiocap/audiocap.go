// Package audiocap captures PCM audio from the guest and hands it to the
// agent in fixed-size chunks sized for the shared ring.
package audiocap

import (
	"errors"
	"fmt"

	"github.com/shmcast/shmcast/internal/protocol"
)

// ErrBackendUnavailable reports that the requested audio backend cannot run
// on this system.
var ErrBackendUnavailable = errors.New("audio backend unavailable")

// Source produces PCM chunks. Implementations push complete chunks; partial
// chunks are held back until filled.
type Source interface {
	// Start begins capture. Chunks of exactly chunkBytes are delivered to
	// emit until Stop is called. emit must not block for long; the ring
	// writer drops on overrun anyway.
	Start(format protocol.AudioFormat, sampleRate uint32, channels uint16, chunkBytes int, emit func([]byte)) error

	// Stop ends capture and releases backend resources.
	Stop() error
}

// NewSource builds the configured audio backend.
func NewSource(name string) (Source, error) {
	switch name {
	case "silence":
		return NewSilence(), nil
	case "pulse", "":
		return newPulseSource()
	}
	return nil, fmt.Errorf("unknown audio backend %q", name)
}
