// Package connectivity tracks whether the remote service is reachable and
// notifies listeners on each transition.
package connectivity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
)

// Monitor holds the current connectivity state. Updates are edge-triggered:
// setting the value it already has does nothing.
type Monitor struct {
	log *zap.Logger

	mu          sync.Mutex
	online      bool
	version     uint64
	nextID      int
	subscribers map[int]*subscriber
	reconnect   []func()
}

// subscriber drops deliveries older than the last one it saw, so a slow
// initial call cannot overwrite a newer transition.
type subscriber struct {
	fn func(bool)

	mu   sync.Mutex
	seen uint64
	sent bool
}

func (s *subscriber) deliver(version uint64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent && version <= s.seen {
		return
	}
	s.seen, s.sent = version, true
	s.fn(online)
}

// NewMonitor returns a monitor starting in the given state.
func NewMonitor(initial bool, log *zap.Logger) *Monitor {
	return &Monitor{
		online:      initial,
		log:         logger.OrNop(log),
		subscribers: make(map[int]*subscriber),
	}
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe calls fn with the current state right away and again on every
// transition. Calls to one subscriber never overlap and never go back to an
// older state. fn must not call Set. The returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = sub
	current, version := m.online, m.version
	m.mu.Unlock()

	sub.deliver(version, current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// OnReconnect registers fn to run on every offline to online transition.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// Set feeds a new observation. Subscribers run first, then reconnect hooks.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.version++
	version := m.version

	subs := make([]*subscriber, 0, len(m.subscribers))
	for id := 0; id < m.nextID; id++ {
		if sub, ok := m.subscribers[id]; ok {
			subs = append(subs, sub)
		}
	}
	var hooks []func()
	if online {
		hooks = append(hooks, m.reconnect...)
	}
	m.mu.Unlock()

	if online {
		m.log.Info("connectivity restored")
	} else {
		m.log.Info("connectivity lost")
	}

	for _, sub := range subs {
		sub.deliver(version, online)
	}
	for _, fn := range hooks {
		fn()
	}
}
