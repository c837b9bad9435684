//go:build linux

package audiocap

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/shmcast/shmcast/internal/protocol"
)

// pulseSource records the default sink monitor through PulseAudio and
// re-slices the byte stream into ring-sized chunks.
type pulseSource struct {
	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.RecordStream
}

// chunker implements pulse.Writer. PulseAudio delivers whatever fragment
// sizes it likes; we accumulate and emit exact chunkBytes slices.
type chunker struct {
	mu     sync.Mutex
	buf    []byte
	size   int
	format byte
	emit   func([]byte)
}

func (c *chunker) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, data...)
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		c.buf = c.buf[c.size:]
		c.emit(chunk)
	}
	return len(data), nil
}

func (c *chunker) Format() byte {
	return c.format
}

func newPulseSource() (Source, error) {
	return &pulseSource{}, nil
}

// pulseFormat maps ring formats onto the PulseAudio sample specs the client
// library knows. Packed 24-bit has no proto constant, so S24LE is refused
// here; the ring itself carries it fine.
func pulseFormat(f protocol.AudioFormat) (byte, error) {
	switch f {
	case protocol.AudioS16LE:
		return proto.FormatInt16LE, nil
	case protocol.AudioS32LE:
		return proto.FormatInt32LE, nil
	case protocol.AudioF32LE:
		return proto.FormatFloat32LE, nil
	}
	return 0, fmt.Errorf("%w: audio format %s not recordable through pulse", protocol.ErrUnsupportedFormat, f)
}

func (s *pulseSource) Start(format protocol.AudioFormat, sampleRate uint32, channels uint16, chunkBytes int, emit func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	pf, err := pulseFormat(format)
	if err != nil {
		return err
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("shmcast"),
	)
	if err != nil {
		return fmt.Errorf("%w: pulse connect: %v", ErrBackendUnavailable, err)
	}

	sink, err := client.DefaultSink()
	if err != nil {
		client.Close()
		return fmt.Errorf("pulse default sink: %w", err)
	}

	opts := []pulse.RecordOption{
		pulse.RecordMonitor(sink),
		pulse.RecordSampleRate(int(sampleRate)),
		pulse.RecordBufferFragmentSize(uint32(chunkBytes)),
	}
	if channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}

	collector := &chunker{
		size:   chunkBytes,
		format: pf,
		emit:   emit,
	}

	stream, err := client.NewRecord(collector, opts...)
	if err != nil {
		client.Close()
		return fmt.Errorf("pulse record stream: %w", err)
	}

	s.client = client
	s.stream = stream
	stream.Start()
	return nil
}

func (s *pulseSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	s.stream.Stop()
	s.client.Close()
	s.stream = nil
	s.client = nil
	return nil
}
