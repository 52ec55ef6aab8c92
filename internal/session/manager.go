package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/vyuha-explorer/internal/expand"
)

// Summary is the list entry for one session.
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
}

// Manager owns every live session, keyed by a random uuid. Idle sessions
// are evicted by a background sweep.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	fetcher  expand.Fetcher
	cfg      Config
	notifier Notifier
	observer Observer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a manager. When cfg.IdleTTL and cfg.SweepInterval are
// both positive a background goroutine evicts idle sessions until Close.
// notifier and observer may be nil.
func NewManager(fetcher expand.Fetcher, cfg Config, notifier Notifier, observer Observer) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions: make(map[string]*Session),
		fetcher:  fetcher,
		cfg:      cfg,
		notifier: notifier,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.IdleTTL > 0 && cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

// Config returns the defaults new sessions are created with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Create starts a new empty session.
func (m *Manager) Create() *Session {
	s := New(uuid.New().String(), m.fetcher, m.cfg, m.notifier, m.observer)

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.setActive(n)
	slog.Info("session created", "session", s.ID, "active", n)
	return s
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.Close()
	m.setActive(n)
	if m.notifier != nil {
		m.notifier.Notify(EventClosed, map[string]any{"sessionId": id, "reason": "deleted"})
	}
	slog.Info("session deleted", "session", id, "active", n)
	return nil
}

// List returns every session, most recently used first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		st := s.Stats()
		out = append(out, Summary{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			LastUsed:  s.LastUsed(),
			Nodes:     st.TotalNodes,
			Edges:     st.TotalEdges,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts every session idle since before now − IdleTTL and returns
// how many were evicted.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTTL)

	var evicted []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
			evicted = append(evicted, s)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
		if m.notifier != nil {
			m.notifier.Notify(EventClosed, map[string]any{"sessionId": s.ID, "reason": "idle"})
		}
	}
	if len(evicted) > 0 {
		m.setActive(n)
		slog.Debug("session eviction", "evicted", len(evicted), "remaining", n)
	}
	return len(evicted)
}

// Close stops the sweep loop and closes every session. Safe to call more
// than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		for id, s := range m.sessions {
			s.Close()
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.setActive(0)
		slog.Info("session manager shut down")
	})
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-ticker.C:
			m.Sweep(t.UTC())
		}
	}
}

func (m *Manager) setActive(n int) {
	if m.observer != nil {
		m.observer.SetActiveSessions(n)
	}
}
