// Package dedupe keeps a bib from producing two detections at one checkpoint.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory remembers accepted keys and the detection they produced.
type Memory interface {
	// Remember atomically records key if absent. It returns the value already
	// stored and true when key was present.
	Remember(ctx context.Context, key, value string) (string, bool)

	// Recall returns the value stored for key.
	Recall(ctx context.Context, key string) (string, bool)

	// Forget drops key so a failed write can be retried.
	Forget(ctx context.Context, key string)

	Size() int64
}

// node is one entry of the insertion-ordered list.
type node struct {
	key        string
	value      string
	prev, next *node
}

func (n *node) reset() {
	n.key, n.value = "", ""
	n.prev, n.next = nil, nil
}

// sessionMemory is a Memory bounded by entry count. When full, the oldest
// entry is evicted. maxSize <= 0 means unbounded.
type sessionMemory struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node // newest
	tail     *node // oldest
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewMemory creates a session memory.
func NewMemory(opts ...Option) Memory {
	m := &sessionMemory{maxSize: DefaultMemorySize}
	for _, opt := range opts {
		opt(m)
	}
	m.seen = make(map[string]*node)
	m.nodePool = sync.Pool{New: func() any { return &node{} }}
	return m
}

func (m *sessionMemory) Remember(_ context.Context, key, value string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.seen[key]; ok {
		return n.value, true
	}
	if m.maxSize > 0 && len(m.seen) >= m.maxSize {
		m.unlink(m.tail)
	}

	n := m.nodePool.Get().(*node)
	n.key, n.value = key, value
	n.next = m.head
	if m.head != nil {
		m.head.prev = n
	}
	m.head = n
	if m.tail == nil {
		m.tail = n
	}
	m.seen[key] = n
	m.size.Add(1)
	return "", false
}

func (m *sessionMemory) Recall(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.seen[key]
	if !ok {
		return "", false
	}
	return n.value, true
}

func (m *sessionMemory) Forget(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.seen[key]; ok {
		m.unlink(n)
	}
}

// unlink removes n from the list and map. Caller holds m.mu.
func (m *sessionMemory) unlink(n *node) {
	if n == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
	delete(m.seen, n.key)
	n.reset()
	m.nodePool.Put(n)
	m.size.Add(-1)
}

func (m *sessionMemory) Size() int64 {
	return m.size.Load()
}
