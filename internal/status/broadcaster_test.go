package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/declutter/internal/models"
)

type fakeCounter struct {
	n   int
	err error
}

func (f *fakeCounter) Count(context.Context) (int, error) { return f.n, f.err }

func TestSyncLifecycle(t *testing.T) {
	b := NewBroadcaster(true, nil, nil)

	var got []models.SyncStatus
	b.OnStatusChange(func(s models.SyncStatus) { got = append(got, s) })

	b.SyncStarted(3)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SyncFinished(at, 1)

	require.Len(t, got, 2)
	assert.Equal(t, models.SyncStatus{IsOnline: true, IsSyncing: true, PendingCount: 3}, got[0])
	assert.Equal(t, models.SyncStatus{IsOnline: true, IsSyncing: false, PendingCount: 1, LastSyncAt: at}, got[1])
	assert.Equal(t, got[1], b.Current())
}

func TestSetOnline_RecomputesPending(t *testing.T) {
	counter := &fakeCounter{n: 4}
	b := NewBroadcaster(false, counter, nil)

	var got []models.SyncStatus
	b.OnStatusChange(func(s models.SyncStatus) { got = append(got, s) })

	b.SetOnline(true)
	b.SetOnline(true)

	require.Len(t, got, 1, "repeated values are ignored")
	assert.True(t, got[0].IsOnline)
	assert.Equal(t, 4, got[0].PendingCount)
}

func TestSetOnline_CountErrorKeepsLastValue(t *testing.T) {
	counter := &fakeCounter{n: 2}
	b := NewBroadcaster(true, counter, nil)
	b.SyncFinished(time.Now(), 2)

	counter.err = errors.New("locked")
	b.SetOnline(false)

	assert.False(t, b.Current().IsOnline)
	assert.Equal(t, 2, b.Current().PendingCount)
}

func TestOnOnlineChange(t *testing.T) {
	b := NewBroadcaster(false, nil, nil)

	var seen []bool
	unsubscribe := b.OnOnlineChange(func(online bool) { seen = append(seen, online) })

	b.SyncStarted(1)
	b.SetOnline(true)
	b.SetOnline(false)
	unsubscribe()
	b.SetOnline(true)

	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestOnlineListener_DropsOlderValue(t *testing.T) {
	var seen []bool
	l := &onlineListener{fn: func(online bool) { seen = append(seen, online) }}

	l.deliver(3, true)
	l.deliver(2, false)

	assert.Equal(t, []bool{true}, seen)
}

func TestOnOnlineChange_ConcurrentFlipEndsOnCurrentState(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := NewBroadcaster(false, nil, nil)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.SetOnline(j%2 == 0)
			}
		}()

		var (
			mu   sync.Mutex
			last bool
		)
		b.OnOnlineChange(func(online bool) {
			mu.Lock()
			last = online
			mu.Unlock()
		})
		wg.Wait()

		mu.Lock()
		assert.Equal(t, b.Current().IsOnline, last, "iteration %d", i)
		mu.Unlock()
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster(true, nil, nil)

	var calls int
	unsubscribe := b.OnStatusChange(func(models.SyncStatus) { calls++ })
	b.SyncStarted(1)
	unsubscribe()
	b.SyncFinished(time.Now(), 0)

	assert.Equal(t, 1, calls)
}

func TestCallbackMayReadCurrent(t *testing.T) {
	b := NewBroadcaster(true, nil, nil)

	var inner models.SyncStatus
	b.OnStatusChange(func(models.SyncStatus) { inner = b.Current() })
	b.SyncStarted(5)

	assert.Equal(t, 5, inner.PendingCount)
}

func TestRefresh(t *testing.T) {
	counter := &fakeCounter{n: 0}
	b := NewBroadcaster(false, counter, nil)

	var calls int
	b.OnStatusChange(func(models.SyncStatus) { calls++ })

	b.Refresh()
	assert.Equal(t, 0, calls)

	counter.n = 2
	b.Refresh()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, b.Current().PendingCount)
}
