package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    any
	storedAt time.Time
}

// MemoryTier is a process-local map with a single fixed TTL. Entries are
// removed lazily when read after expiry and by a background sweep, so keys
// that are never read again do not accumulate past one sweep interval.
//
// Values are stored as-is (no copying), so mutations to stored pointers
// are visible through the tier.
type MemoryTier struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*memoryEntry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

// NewMemoryTier returns a MemoryTier and, when enabled, starts its sweep
// task. The task stops when parent is cancelled or Close is called.
func NewMemoryTier(parent context.Context, opts ...Option) *MemoryTier {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	m := &MemoryTier{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*memoryEntry),
		cfg:     cfg,
	}
	if cfg.memoryEnabled && cfg.expiryCheck > 0 {
		m.waitGroup.Add(1)
		go m.run()
	}
	return m
}

// Enabled reports whether the tier stores anything at all.
func (m *MemoryTier) Enabled() bool {
	return m.cfg.memoryEnabled
}

// TTL returns the lifetime of an entry.
func (m *MemoryTier) TTL() time.Duration {
	return m.cfg.memoryTTL
}

func (m *MemoryTier) expired(e *memoryEntry, now time.Time) bool {
	return now.Sub(e.storedAt) > m.cfg.memoryTTL
}

// Get returns the value stored for key if it has not outlived the TTL.
// An expired entry is removed.
func (m *MemoryTier) Get(key string) (any, bool) {
	if !m.cfg.memoryEnabled {
		return nil, false
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.expired(e, m.cfg.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for key, replacing any existing entry and restarting its TTL.
func (m *MemoryTier) Set(key string, value any) {
	if !m.cfg.memoryEnabled {
		return
	}
	m.mutex.Lock()
	m.entries[key] = &memoryEntry{value: value, storedAt: m.cfg.now()}
	m.mutex.Unlock()
}

// Delete removes key and reports whether it was present.
func (m *MemoryTier) Delete(key string) bool {
	m.mutex.Lock()
	_, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mutex.Unlock()
	return ok
}

// Clear removes every entry and returns how many there were.
func (m *MemoryTier) Clear() int {
	m.mutex.Lock()
	n := len(m.entries)
	m.entries = make(map[string]*memoryEntry)
	m.mutex.Unlock()
	return n
}

// Len returns the number of entries held, expired or not.
func (m *MemoryTier) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (m *MemoryTier) Sweep() int {
	now := m.cfg.now()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var removed int
	for key, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweep task. It is safe to call more than once.
func (m *MemoryTier) Close() error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

func (m *MemoryTier) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
