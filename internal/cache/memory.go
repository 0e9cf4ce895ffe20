package cache

import (
	"bytes"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const (
	DefaultMaxSize       = 1000
	DefaultSweepInterval = 5 * time.Minute
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process tier: a map capped at maxSize entries that evicts
// the oldest inserted entry when full. Updating an existing key keeps its
// insertion position.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	sweep   time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type MemoryOption func(*Memory)

func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithSweepInterval sets how often expired entries are purged in the
// background. Zero disables the sweeper; Get still checks expiry lazily.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.sweep = d }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: DefaultMaxSize,
		sweep:   DefaultSweepInterval,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweep > 0 {
		go m.sweepLoop()
	}
	return m
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.PurgeExpired()
		}
	}
}

// Close stops the background sweeper. The cache stays usable.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if !m.now().Before(e.expiresAt) {
		m.removeLocked(el)
		return nil, false
	}
	return bytes.Clone(e.value), true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	expiresAt := m.now().Add(effectiveTTL(ttl))
	value = bytes.Clone(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value = value
		e.expiresAt = expiresAt
		return true
	}

	if len(m.items) >= m.maxSize {
		if oldest := m.order.Front(); oldest != nil {
			m.removeLocked(oldest)
		}
	}
	m.items[key] = m.order.PushBack(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	return true
}

func (m *Memory) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return false
	}
	m.removeLocked(el)
	return true
}

func (m *Memory) DeletePattern(_ context.Context, pattern string) int {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, el := range m.items {
		if g.Match(key) {
			m.removeLocked(el)
			n++
		}
	}
	return n
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.order.Init()
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (m *Memory) PurgeExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			m.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

// Len counts stored entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) removeLocked(el *list.Element) {
	delete(m.items, el.Value.(*memoryEntry).key)
	m.order.Remove(el)
}
