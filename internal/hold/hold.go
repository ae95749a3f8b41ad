// Package hold tracks the provider holds taken during one checkout attempt.
// It never talks to providers; releasing a hold provider-side is the
// orchestrator's job.
package hold

import (
	"sort"
	"sync"
	"time"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

type Manager struct {
	mu    sync.Mutex
	holds map[int]domain.Hold
	now   func() time.Time
}

// NewManager returns an empty manager. A nil clock means time.Now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{holds: make(map[int]domain.Hold), now: now}
}

// Track records h under its line index, replacing any earlier hold of that line.
func (m *Manager) Track(h domain.Hold) {
	m.mu.Lock()
	m.holds[h.LineIndex] = h
	m.mu.Unlock()
}

// IsLive reports whether h has not yet expired.
func (m *Manager) IsLive(h domain.Hold) bool {
	return m.now().Before(h.ExpiresAt)
}

// Remaining is the time left before h expires, never negative.
func (m *Manager) Remaining(h domain.Hold) time.Duration {
	d := h.ExpiresAt.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// Release forgets the hold of a line and returns it, if one was tracked.
func (m *Manager) Release(lineIndex int) (domain.Hold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[lineIndex]
	if ok {
		delete(m.holds, lineIndex)
	}
	return h, ok
}

// Outstanding lists the holds still tracked, ordered by line index.
func (m *Manager) Outstanding() []domain.Hold {
	m.mu.Lock()
	out := make([]domain.Hold, 0, len(m.holds))
	for _, h := range m.holds {
		out = append(out, h)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out
}

// Expired lists the outstanding holds whose TTL has passed.
func (m *Manager) Expired() []domain.Hold {
	var out []domain.Hold
	for _, h := range m.Outstanding() {
		if !m.IsLive(h) {
			out = append(out, h)
		}
	}
	return out
}
