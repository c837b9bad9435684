package audiocap

import (
	"sync"
	"time"

	"github.com/shmcast/shmcast/internal/protocol"
)

// Silence emits zeroed chunks at the real-time rate the format implies.
// Useful for soak tests and machines without a sound server.
type Silence struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSilence() *Silence {
	return &Silence{}
}

func (s *Silence) Start(format protocol.AudioFormat, sampleRate uint32, channels uint16, chunkBytes int, emit func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	frameBytes := int(format.BytesPerSample()) * int(channels)
	framesPerChunk := chunkBytes / frameBytes
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}
	interval := time.Second * time.Duration(framesPerChunk) / time.Duration(sampleRate)
	if interval <= 0 {
		interval = time.Millisecond
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		chunk := make([]byte, chunkBytes)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				emit(chunk)
			}
		}
	}(s.stop, s.done)
	return nil
}

func (s *Silence) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	return nil
}
