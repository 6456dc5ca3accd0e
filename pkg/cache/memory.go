package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process LRU cache bounded by entry count.
type Memory struct {
	counters

	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front is most recently used
	items   map[string]*list.Element
	now     func() time.Time
}

type memoryItem struct {
	key   string
	entry Entry
}

// MemoryOptions configures a Memory cache.
type MemoryOptions struct {
	MaxSize int           // 0 means unbounded
	TTL     time.Duration // default TTL for Set calls with ttl 0
}

// NewMemory creates an in-memory LRU cache.
func NewMemory(opts MemoryOptions) *Memory {
	return &Memory{
		maxSize: opts.MaxSize,
		ttl:     opts.TTL,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns the value for key. A hit refreshes recency; expired entries are
// removed and count as misses.
func (m *Memory) Get(_ context.Context, key Key) (Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key.String()]
	if !ok {
		m.miss()
		return nil, false, nil
	}
	item := el.Value.(*memoryItem)
	if item.entry.Expired(m.now()) {
		m.removeElement(el)
		m.miss()
		return nil, false, nil
	}

	m.order.MoveToFront(el)
	m.hit()
	return clone(item.entry.Value), true, nil
}

// Set stores value, evicting the least recently used entry when full.
func (m *Memory) Set(_ context.Context, key Key, value Value, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry := Entry{Value: clone(value), CreatedAt: now, ExpiresAt: expiry(now, ttl, m.ttl)}

	k := key.String()
	if el, ok := m.items[k]; ok {
		el.Value.(*memoryItem).entry = entry
		m.order.MoveToFront(el)
		return nil
	}

	m.items[k] = m.order.PushFront(&memoryItem{key: k, entry: entry})
	for m.maxSize > 0 && m.order.Len() > m.maxSize {
		m.removeElement(m.order.Back())
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key.String()]
	if !ok {
		return false, nil
	}
	m.removeElement(el)
	return true, nil
}

func (m *Memory) Clear(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.order.Len()
	m.order.Init()
	m.items = make(map[string]*list.Element)
	return n, nil
}

// CleanupExpired removes every expired entry and returns how many went.
func (m *Memory) CleanupExpired(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*memoryItem).entry.Expired(now) {
			m.removeElement(el)
			removed++
		}
		el = next
	}
	return removed, nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	size := m.order.Len()
	m.mu.Unlock()
	return m.stats(size)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryItem).key)
}

func clone(v Value) Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}
