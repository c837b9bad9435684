// Package host implements the hypervisor side of the capture region: it
// issues commands, tracks guest liveness, and hands out frames, cursor
// state and audio to consumers.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shmcast/shmcast/internal/logger"
	"github.com/shmcast/shmcast/internal/protocol"
)

// Options tunes the liveness monitor.
type Options struct {
	// PollInterval is how often the monitor samples the frame number.
	PollInterval time.Duration
	// LivenessTimeout is how long the frame number may sit still during
	// capture before the guest is reported stalled.
	LivenessTimeout time.Duration
}

// DefaultOptions matches an interactive 60fps session.
func DefaultOptions() Options {
	return Options{
		PollInterval:    50 * time.Millisecond,
		LivenessTimeout: 5 * time.Second,
	}
}

// Status is the manager's externally visible summary.
type Status struct {
	Session     string               `json:"session"`
	GuestState  protocol.GuestState  `json:"-"`
	State       string               `json:"guest_state"`
	GuestPID    uint32               `json:"guest_pid"`
	Width       uint32               `json:"width"`
	Height      uint32               `json:"height"`
	Format      string               `json:"format"`
	FrameNumber uint64               `json:"frame_number"`
	Stalled     bool                 `json:"stalled"`
	Degraded    bool                 `json:"degraded"`
	AudioDrops  uint64               `json:"audio_dropped_chunks"`
}

// Manager owns the host view of one capture region.
type Manager struct {
	view    *protocol.HostView
	session string
	opts    Options

	mu           sync.Mutex
	degraded     bool
	lastFrame    uint64
	lastProgress time.Time
	stalled      bool
}

// Init formats a fresh region and returns a manager over it. A buffer count
// of two is accepted but flagged degraded: the writer then has exactly one
// spare buffer and a slow reader costs it the ability to pipeline.
func Init(mem []byte, cfg protocol.Config, opts Options) (*Manager, error) {
	view, err := protocol.InitRegion(mem, cfg)
	if err != nil {
		return nil, err
	}
	return newManager(view, cfg.Degraded(), opts), nil
}

// Attach adopts a region some earlier host initialized.
func Attach(mem []byte, opts Options) (*Manager, error) {
	view, err := protocol.AttachHost(mem)
	if err != nil {
		return nil, err
	}
	return newManager(view, false, opts), nil
}

func newManager(view *protocol.HostView, degraded bool, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = DefaultOptions().LivenessTimeout
	}
	return &Manager{
		view:         view,
		session:      uuid.New().String(),
		opts:         opts,
		degraded:     degraded,
		lastFrame:    view.FrameNumber(),
		lastProgress: time.Now(),
	}
}

// Session identifies this manager instance in logs and API responses.
func (m *Manager) Session() string { return m.session }

// StartCapture asks the guest to begin publishing. Idempotent: if the guest
// is already capturing or warming up, no command is issued. The call never
// waits for the guest; poll Status for the transition.
func (m *Manager) StartCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, err := m.view.GuestState()
	if err != nil {
		return err
	}
	if state == protocol.StateCapturing || state == protocol.StateInitializing {
		return nil
	}
	m.view.SetCommand(protocol.CmdStartCapture)
	logger.Info("start capture requested", "session", m.session)
	return nil
}

// StopCapture asks the guest to stop. Also the only way out of the guest's
// error state. Idempotent.
func (m *Manager) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, err := m.view.GuestState()
	if err != nil {
		return err
	}
	if state == protocol.StateIdle {
		return nil
	}
	m.view.SetCommand(protocol.CmdStopCapture)
	logger.Info("stop capture requested", "session", m.session)
	return nil
}

// SetFormat requests a geometry or pixel format change. The guest applies
// it asynchronously; an oversized request shows up as the error state.
// The lock keeps concurrent callers from interleaving the pending-format
// fields into a triple no one asked for.
func (m *Manager) SetFormat(width, height uint32, format protocol.PixelFormat) error {
	if _, err := protocol.ParsePixelFormat(uint32(format)); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return protocol.ErrUnsupportedFormat
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.RequestFormat(width, height, format)
	logger.Info("format change requested",
		"session", m.session, "width", width, "height", height, "format", format)
	return nil
}

// LatestFrame copies the most recently published frame out of the region.
func (m *Manager) LatestFrame() (protocol.Frame, error) {
	return m.view.LatestFrame()
}

// CursorState returns a consistent cursor snapshot.
func (m *Manager) CursorState() (protocol.CursorSnapshot, error) {
	return m.view.CursorState()
}

// DrainAudio moves up to max buffered bytes out of the audio ring.
func (m *Manager) DrainAudio(max int) []byte {
	if max <= 0 {
		return nil
	}
	buf := make([]byte, max)
	n := m.view.ReadAudio(buf)
	return buf[:n]
}

// AudioInfo reports the stream parameters the guest configured.
func (m *Manager) AudioInfo() (protocol.AudioInfo, error) {
	return m.view.AudioInfo()
}

// Status samples the region and the liveness monitor.
func (m *Manager) Status() Status {
	m.mu.Lock()
	stalled := m.stalled
	degraded := m.degraded
	m.mu.Unlock()

	state, err := m.view.GuestState()
	stateStr := state.String()
	if err != nil {
		stateStr = "unknown"
	}

	return Status{
		Session:     m.session,
		GuestState:  state,
		State:       stateStr,
		GuestPID:    m.view.GuestPID(),
		Width:       m.view.Width(),
		Height:      m.view.Height(),
		Format:      m.view.Format().String(),
		FrameNumber: m.view.FrameNumber(),
		Stalled:     stalled,
		Degraded:    degraded,
		AudioDrops:  m.view.AudioDropped(),
	}
}

// Run watches frame progress until ctx is done. A guest that claims to be
// capturing (or is stuck initializing) without advancing the frame number
// for the liveness timeout is flagged stalled; the flag clears on the next
// advance.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.mu.Lock()
	m.lastFrame = m.view.FrameNumber()
	m.lastProgress = time.Now()
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.checkLiveness(now)
		}
	}
}

func (m *Manager) checkLiveness(now time.Time) {
	frame := m.view.FrameNumber()
	state, err := m.view.GuestState()

	m.mu.Lock()
	defer m.mu.Unlock()

	if frame != m.lastFrame {
		m.lastFrame = frame
		m.lastProgress = now
		if m.stalled {
			m.stalled = false
			logger.Info("guest resumed", "session", m.session, "frame", frame)
		}
		return
	}

	// Capturing guests must publish; initializing guests must at least
	// finish coming up. Idle and errored guests are not expected to move.
	expectProgress := err == nil &&
		(state == protocol.StateCapturing || state == protocol.StateInitializing)
	if !expectProgress {
		m.lastProgress = now
		m.stalled = false
		return
	}

	if !m.stalled && now.Sub(m.lastProgress) >= m.opts.LivenessTimeout {
		m.stalled = true
		logger.Warn("guest stalled",
			"session", m.session, "frame", frame, "since", now.Sub(m.lastProgress))
	}
}
