package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type Tracker interface {
	AlreadyProcessed(ctx context.Context, hash string) bool
	MarkProcessed(ctx context.Context, hash, url string) error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Processed int
}

// Key returns the tracker key of a page URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

type capture struct {
	url string
	at  time.Time
}

// MemoryTracker keeps captures in a map. A capture older than the TTL no
// longer counts as processed; a TTL of zero keeps captures forever.
type MemoryTracker struct {
	mu       sync.RWMutex
	captures map[string]capture
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		captures: make(map[string]capture),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryTracker) live(c capture, now time.Time) bool {
	return m.ttl <= 0 || now.Sub(c.at) < m.ttl
}

func (m *MemoryTracker) AlreadyProcessed(_ context.Context, hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.captures[hash]
	return ok && m.live(c, m.now())
}

func (m *MemoryTracker) MarkProcessed(_ context.Context, hash, url string) error {
	m.record(hash, url, m.now())
	return nil
}

// record stores a capture taken at the given time and reports whether it
// replaced nothing live.
func (m *MemoryTracker) record(hash, url string, at time.Time) bool {
	if hash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.captures[hash]; ok && m.live(c, m.now()) {
		return false
	}
	m.captures[hash] = capture{url: url, at: at}
	return true
}

// Snapshot counts live captures only.
func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	n := 0
	for _, c := range m.captures {
		if m.live(c, now) {
			n++
		}
	}
	return Snapshot{Processed: n}
}

func (m *MemoryTracker) Close() error {
	return nil
}
