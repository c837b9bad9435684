package input

import (
	"context"
	"sync"
	"time"

	"github.com/shmcast/shmcast/internal/logger"
)

// Manager owns the injection backend and the batcher in front of it.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	batcher *Batcher

	injected uint64
	failed   uint64
}

// NewManager wraps a backend with default batching.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		batcher: NewBatcher(DefaultBatchSize, DefaultFlushInterval),
	}
}

// Inject validates and queues a request. Events reach the device on the
// next flush, immediately when a batch fills.
func (m *Manager) Inject(req *Request) error {
	if req == nil || req.Empty() {
		return ErrInvalidEvent
	}
	if err := req.Validate(); err != nil {
		return err
	}
	m.batcher.Push(req)
	m.drain()
	return nil
}

// Run flushes partial batches on the batch interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(DefaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.batcher.Flush()
			m.drain()
			return
		case now := <-ticker.C:
			m.batcher.Tick(now)
			m.drain()
		}
	}
}

func (m *Manager) drain() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		batch := m.batcher.Pop()
		if batch == nil {
			return
		}
		for _, kb := range batch.Keyboard {
			if err := m.backend.Keyboard(kb); err != nil {
				m.failed++
				logger.Warn("keyboard inject failed", "code", kb.Code, "error", err)
				continue
			}
			m.injected++
		}
		for _, ev := range batch.Mouse {
			if err := m.backend.Mouse(ev); err != nil {
				m.failed++
				logger.Warn("mouse inject failed", "action", ev.Action, "error", err)
				continue
			}
			m.injected++
		}
	}
}

// Stats describes injection activity for the status endpoint.
type Stats struct {
	Backend  string     `json:"backend"`
	Injected uint64     `json:"injected"`
	Failed   uint64     `json:"failed"`
	Batching BatchStats `json:"batching"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Backend:  m.backend.Name(),
		Injected: m.injected,
		Failed:   m.failed,
		Batching: m.batcher.Stats(),
	}
}

// Close shuts the backend down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Close()
}
