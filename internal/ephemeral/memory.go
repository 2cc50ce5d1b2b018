package ephemeral

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a single-process Store used in dev mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	pathSubs map[string]map[*subscription]struct{}
	collSubs map[*collSubscription]struct{}
	cleanup  map[string]struct{}
	closed   bool
}

// subscription serializes deliveries and drops anything after stop.
// Notifications raised from inside a callback (a subscriber mutating
// the store it observes) are queued and drained once the callback
// returns, so delivery never re-enters.
type subscription struct {
	mu         sync.Mutex
	stopped    bool
	delivering bool
	queue      [][]byte
	fn         func([]byte)
}

type collSubscription struct {
	mu         sync.Mutex
	stopped    bool
	delivering bool
	queue      []map[string][]byte
	prefix     string
	fn         func(map[string][]byte)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		pathSubs: make(map[string]map[*subscription]struct{}),
		collSubs: make(map[*collSubscription]struct{}),
		cleanup:  make(map[string]struct{}),
	}
}

func (m *MemoryStore) Publish(_ context.Context, path string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	m.values[path] = v
	subs, colls := m.watchers(path)
	m.mu.Unlock()

	m.notify(subs, v, colls)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.values[path]
	delete(m.values, path)
	subs, colls := m.watchers(path)
	m.mu.Unlock()

	if existed {
		m.notify(subs, nil, colls)
	}
	return nil
}

func (m *MemoryStore) RemoveOnDisconnect(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup[path] = struct{}{}
}

// Close simulates the client disconnecting: every path registered via
// RemoveOnDisconnect is removed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	paths := make([]string, 0, len(m.cleanup))
	for p := range m.cleanup {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	for _, p := range paths {
		m.Remove(context.Background(), p)
	}
	return nil
}

func (m *MemoryStore) Subscribe(path string, fn func([]byte)) func() {
	sub := &subscription{fn: fn}

	m.mu.Lock()
	if m.pathSubs[path] == nil {
		m.pathSubs[path] = make(map[*subscription]struct{})
	}
	m.pathSubs[path][sub] = struct{}{}
	cur := m.values[path]
	m.mu.Unlock()

	sub.deliver(cur)

	return func() {
		sub.stop()

		m.mu.Lock()
		delete(m.pathSubs[path], sub)
		m.mu.Unlock()
	}
}

func (m *MemoryStore) SubscribeCollection(prefix string, fn func(map[string][]byte)) func() {
	sub := &collSubscription{prefix: prefix, fn: fn}

	m.mu.Lock()
	m.collSubs[sub] = struct{}{}
	snap := m.snapshot(prefix)
	m.mu.Unlock()

	sub.deliver(snap)

	return func() {
		sub.stop()

		m.mu.Lock()
		delete(m.collSubs, sub)
		m.mu.Unlock()
	}
}

// watchers must be called with m.mu held.
func (m *MemoryStore) watchers(path string) ([]*subscription, []*collSubscription) {
	var subs []*subscription
	for s := range m.pathSubs[path] {
		subs = append(subs, s)
	}
	var colls []*collSubscription
	for c := range m.collSubs {
		if strings.HasPrefix(path, c.prefix) {
			colls = append(colls, c)
		}
	}
	return subs, colls
}

// snapshot must be called with m.mu held.
func (m *MemoryStore) snapshot(prefix string) map[string][]byte {
	snap := make(map[string][]byte)
	for p, v := range m.values {
		if strings.HasPrefix(p, prefix) {
			snap[p] = v
		}
	}
	return snap
}

func (m *MemoryStore) notify(subs []*subscription, value []byte, colls []*collSubscription) {
	for _, s := range subs {
		s.deliver(value)
	}
	for _, c := range colls {
		m.mu.Lock()
		snap := m.snapshot(c.prefix)
		m.mu.Unlock()
		c.deliver(snap)
	}
}

func (s *subscription) deliver(value []byte) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.delivering {
		s.queue = append(s.queue, value)
		s.mu.Unlock()
		return
	}
	s.delivering = true
	s.mu.Unlock()

	for {
		s.fn(value)

		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 {
			s.delivering = false
			s.queue = nil
			s.mu.Unlock()
			return
		}
		value = s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
}

func (c *collSubscription) deliver(snap map[string][]byte) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.delivering {
		c.queue = append(c.queue, snap)
		c.mu.Unlock()
		return
	}
	c.delivering = true
	c.mu.Unlock()

	for {
		c.fn(snap)

		c.mu.Lock()
		if c.stopped || len(c.queue) == 0 {
			c.delivering = false
			c.queue = nil
			c.mu.Unlock()
			return
		}
		snap = c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
	}
}

func (c *collSubscription) stop() {
	c.mu.Lock()
	c.stopped = true
	c.queue = nil
	c.mu.Unlock()
}
