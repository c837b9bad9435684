// Package agent runs the guest side of the capture region: it consumes host
// commands, drives the capture backends, and publishes frames, cursor
// updates and audio into shared memory.
package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shmcast/shmcast/internal/audiocap"
	"github.com/shmcast/shmcast/internal/capture"
	"github.com/shmcast/shmcast/internal/logger"
	"github.com/shmcast/shmcast/internal/protocol"
)

// Options selects the capture backends and rates.
type Options struct {
	// FrameBackend and CursorBackend name capture sources ("x11",
	// "testpattern"). AudioBackend names the audio source ("pulse",
	// "silence").
	FrameBackend  string
	CursorBackend string
	AudioBackend  string

	// FPS caps the publish rate while capturing.
	FPS int

	// Audio stream parameters requested from the backend.
	SampleRate uint32
	Channels   uint16
	AudioChunk int

	// PollInterval is how often the agent checks for commands while idle.
	PollInterval time.Duration
}

// DefaultOptions matches the rates the host side assumes.
func DefaultOptions() Options {
	return Options{
		FrameBackend:  "x11",
		CursorBackend: "x11",
		AudioBackend:  "pulse",
		FPS:           60,
		SampleRate:    48000,
		Channels:      2,
		AudioChunk:    4096,
		PollInterval:  10 * time.Millisecond,
	}
}

// Agent owns the guest view and the capture pipeline behind it.
type Agent struct {
	view *protocol.GuestView
	opts Options

	frames capture.FrameSource
	cursor capture.CursorSource
	audio  audiocap.Source

	mu        sync.Mutex
	capturing bool
	lastErr   error
}

// New attaches to an initialized region and builds the backends.
func New(mem []byte, opts Options) (*Agent, error) {
	view, err := protocol.AttachGuest(mem)
	if err != nil {
		return nil, err
	}

	frames, err := capture.NewFrameSource(opts.FrameBackend)
	if err != nil {
		return nil, fmt.Errorf("frame backend: %w", err)
	}
	cursor, err := capture.NewCursorSource(opts.CursorBackend)
	if err != nil {
		return nil, fmt.Errorf("cursor backend: %w", err)
	}
	audio, err := audiocap.NewSource(opts.AudioBackend)
	if err != nil {
		return nil, fmt.Errorf("audio backend: %w", err)
	}

	a := &Agent{
		view:   view,
		opts:   opts,
		frames: frames,
		cursor: cursor,
		audio:  audio,
	}
	view.SetPID(uint32(os.Getpid()))
	view.SetState(protocol.StateIdle)
	return a, nil
}

// LastError reports why the agent entered the error state, if it did.
func (a *Agent) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// State returns the state currently published to the host.
func (a *Agent) State() protocol.GuestState {
	return a.view.State()
}

// Run polls for commands and pumps frames until ctx is done. On exit the
// pipeline is stopped and the state returns to idle so a later agent can
// reattach cleanly.
func (a *Agent) Run(ctx context.Context) error {
	poll := a.opts.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	frameInterval := time.Second / time.Duration(a.opts.FPS)
	if frameInterval <= 0 {
		frameInterval = time.Second / 60
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	lastFrame := time.Now()
	for {
		select {
		case <-ctx.Done():
			a.stopPipeline()
			a.view.SetState(protocol.StateIdle)
			return ctx.Err()
		case now := <-ticker.C:
			a.Step()
			if a.view.State() == protocol.StateCapturing && now.Sub(lastFrame) >= frameInterval {
				a.PumpFrame()
				a.PumpCursor()
				lastFrame = now
			}
		}
	}
}

// Step consumes at most one pending command and applies the resulting
// transition. Split out from Run so tests can drive the state machine
// without timers.
func (a *Agent) Step() {
	state := a.view.State()

	cmd, err := a.view.Command()
	if err != nil {
		logger.Error("unknown command code", "error", err)
		a.fail(err)
		a.view.ClearCommand()
		return
	}
	if cmd == protocol.CmdNone {
		return
	}

	next, err := protocol.Next(state, cmd)
	if err != nil {
		logger.Warn("command rejected", "state", state, "command", cmd)
		a.view.ClearCommand()
		return
	}

	// The command is consumed exactly once, before side effects run, so a
	// slow acquisition never replays it.
	a.view.ClearCommand()

	switch {
	case next == protocol.StateInitializing && state == protocol.StateIdle:
		a.view.SetState(protocol.StateInitializing)
		a.startCapture()
	case next == protocol.StateIdle && state != protocol.StateIdle:
		a.stopPipeline()
		a.clearError()
		a.view.SetState(protocol.StateIdle)
	case cmd == protocol.CmdSetFormat && state == protocol.StateCapturing:
		a.applyFormat()
	case cmd == protocol.CmdSetFormat && state == protocol.StateIdle:
		// No pipeline to restart; just re-layout so the next start
		// captures at the new geometry.
		if err := a.view.Relayout(); err != nil {
			a.fail(err)
		}
	default:
		// Self-transitions (duplicate start, stray stop) change nothing:
		// a second StartCapture while capturing must not reacquire.
	}
}

func (a *Agent) startCapture() {
	width, height := a.view.Width(), a.view.Height()
	format := a.view.Format()

	if err := a.frames.Init(width, height, format); err != nil {
		a.fail(err)
		return
	}
	if err := a.frames.Start(); err != nil {
		a.fail(err)
		return
	}
	if err := a.startAudio(); err != nil {
		a.frames.Stop()
		a.fail(err)
		return
	}

	a.mu.Lock()
	a.capturing = true
	a.mu.Unlock()
	a.view.SetState(protocol.StateCapturing)
	logger.Info("capture started", "width", width, "height", height, "format", format)
}

func (a *Agent) startAudio() error {
	format := protocol.AudioS16LE
	a.view.ConfigureAudio(format, a.opts.SampleRate, uint32(a.opts.Channels))
	return a.audio.Start(format, a.opts.SampleRate, a.opts.Channels, a.opts.AudioChunk, func(chunk []byte) {
		a.view.WriteAudio(chunk)
	})
}

func (a *Agent) applyFormat() {
	width, height, format, err := a.view.PendingFormat()
	if err != nil {
		a.fail(err)
		return
	}

	// The audio writer must be quiet while the region is re-laid-out.
	a.audio.Stop()
	a.frames.Stop()

	if err := a.view.Relayout(); err != nil {
		a.fail(err)
		return
	}
	if err := a.frames.Init(width, height, format); err != nil {
		a.fail(err)
		return
	}
	if err := a.frames.Start(); err != nil {
		a.fail(err)
		return
	}
	if err := a.startAudio(); err != nil {
		a.frames.Stop()
		a.fail(err)
		return
	}
	logger.Info("format applied", "width", width, "height", height, "format", format)
}

// PumpFrame captures and publishes one frame. Run calls this on the frame
// interval; exposed so callers stepping the agent manually can publish too.
func (a *Agent) PumpFrame() {
	index, buf := a.view.BeginFrame()
	n, err := a.frames.CaptureFrame(buf)
	if err != nil {
		if err != capture.ErrNoFrame {
			logger.Error("frame capture failed", "error", err)
			a.stopPipeline()
			a.fail(err)
		}
		return
	}
	a.view.PublishFrame(index, uint32(n), time.Now())
}

// PumpCursor publishes the cursor position and any changed shape.
func (a *Agent) PumpCursor() {
	x, y, visible, err := a.cursor.Position()
	if err == nil {
		a.view.SetCursorPosition(x, y, visible)
	}

	shape, err := a.cursor.Shape()
	if err != nil || shape == nil {
		return
	}
	if err := a.view.WriteCursorShape(*shape); err != nil {
		logger.Warn("cursor shape dropped", "error", err)
	}
}

func (a *Agent) stopPipeline() {
	a.mu.Lock()
	capturing := a.capturing
	a.capturing = false
	a.mu.Unlock()
	if !capturing {
		return
	}
	a.audio.Stop()
	a.frames.Stop()
}

func (a *Agent) fail(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	a.view.SetState(protocol.StateError)
}

func (a *Agent) clearError() {
	a.mu.Lock()
	a.lastErr = nil
	a.mu.Unlock()
}
