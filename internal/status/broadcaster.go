// Package status derives the user-visible sync status and fans it out to listeners.
package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
)

// PendingCounter reports how many actions are waiting.
type PendingCounter interface {
	Count(ctx context.Context) (int, error)
}

// Broadcaster holds the current SyncStatus. Callbacks are invoked outside
// the lock, in subscription order.
type Broadcaster struct {
	count PendingCounter
	log   *zap.Logger

	mu       sync.Mutex
	current  models.SyncStatus
	flips    uint64
	nextID   int
	onStatus map[int]func(models.SyncStatus)
	onOnline map[int]*onlineListener
}

// onlineListener serialises calls to one OnOnlineChange callback and skips
// values older than the last one delivered.
type onlineListener struct {
	fn func(bool)

	mu   sync.Mutex
	seen uint64
	sent bool
}

func (l *onlineListener) deliver(flip uint64, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent && flip <= l.seen {
		return
	}
	l.seen, l.sent = flip, true
	l.fn(online)
}

// NewBroadcaster returns a broadcaster starting with the given online state.
// count may be nil, in which case connectivity changes keep the last count.
func NewBroadcaster(initialOnline bool, count PendingCounter, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		count:    count,
		log:      logger.OrNop(log),
		current:  models.SyncStatus{IsOnline: initialOnline},
		onStatus: make(map[int]func(models.SyncStatus)),
		onOnline: make(map[int]*onlineListener),
	}
}

// Current returns a snapshot of the status.
func (b *Broadcaster) Current() models.SyncStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// OnStatusChange registers fn for every status update.
func (b *Broadcaster) OnStatusChange(fn func(models.SyncStatus)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.onStatus[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.onStatus, id)
		b.mu.Unlock()
	}
}

// OnOnlineChange calls fn with the current online flag and then on every flip.
// A flip racing the first call is never followed by the older value.
func (b *Broadcaster) OnOnlineChange(fn func(bool)) (unsubscribe func()) {
	l := &onlineListener{fn: fn}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.onOnline[id] = l
	online, flip := b.current.IsOnline, b.flips
	b.mu.Unlock()

	l.deliver(flip, online)

	return func() {
		b.mu.Lock()
		delete(b.onOnline, id)
		b.mu.Unlock()
	}
}

// SetOnline records a connectivity transition and recomputes the pending count.
func (b *Broadcaster) SetOnline(online bool) {
	b.mu.Lock()
	if b.current.IsOnline == online {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	pending, known := b.pendingCount()

	b.mu.Lock()
	if b.current.IsOnline == online {
		b.mu.Unlock()
		return
	}
	b.current.IsOnline = online
	b.flips++
	flip := b.flips
	if known {
		b.current.PendingCount = pending
	}
	snapshot := b.current
	statusFns := b.statusListeners()
	onlineFns := b.onlineListeners()
	b.mu.Unlock()

	for _, l := range onlineFns {
		l.deliver(flip, online)
	}
	for _, fn := range statusFns {
		fn(snapshot)
	}
}

// SyncStarted marks a drain of pending actions as running.
func (b *Broadcaster) SyncStarted(pending int) {
	b.update(func(s *models.SyncStatus) {
		s.IsSyncing = true
		s.PendingCount = pending
	})
}

// SyncFinished marks the drain as done at the given time.
func (b *Broadcaster) SyncFinished(at time.Time, pending int) {
	b.update(func(s *models.SyncStatus) {
		s.IsSyncing = false
		s.LastSyncAt = at
		s.PendingCount = pending
	})
}

// Refresh recomputes the pending count and notifies listeners if it changed.
func (b *Broadcaster) Refresh() {
	pending, known := b.pendingCount()
	if !known {
		return
	}

	b.mu.Lock()
	if b.current.PendingCount == pending {
		b.mu.Unlock()
		return
	}
	b.current.PendingCount = pending
	snapshot := b.current
	fns := b.statusListeners()
	b.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (b *Broadcaster) update(apply func(*models.SyncStatus)) {
	b.mu.Lock()
	apply(&b.current)
	snapshot := b.current
	fns := b.statusListeners()
	b.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (b *Broadcaster) pendingCount() (int, bool) {
	if b.count == nil {
		return 0, false
	}
	n, err := b.count.Count(context.Background())
	if err != nil {
		b.log.Warn("failed to count pending actions", zap.Error(err))
		return 0, false
	}
	return n, true
}

// statusListeners must be called with mu held.
func (b *Broadcaster) statusListeners() []func(models.SyncStatus) {
	fns := make([]func(models.SyncStatus), 0, len(b.onStatus))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.onStatus[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// onlineListeners must be called with mu held.
func (b *Broadcaster) onlineListeners() []*onlineListener {
	ls := make([]*onlineListener, 0, len(b.onOnline))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.onOnline[id]; ok {
			ls = append(ls, l)
		}
	}
	return ls
}
