// Package engine wires the offline-first components into one explicitly
// owned unit: store, connectivity monitor, action log, coordinator and
// status broadcaster.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/config"
	"github.com/atinyakov/declutter/internal/connectivity"
	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/queue"
	"github.com/atinyakov/declutter/internal/records"
	"github.com/atinyakov/declutter/internal/remote"
	"github.com/atinyakov/declutter/internal/status"
	"github.com/atinyakov/declutter/internal/store"
	"github.com/atinyakov/declutter/internal/syncer"
)

// Engine owns every component. Create it with New and release it with Close.
type Engine struct {
	Store       *store.SQLiteStore
	Monitor     *connectivity.Monitor
	Prober      *connectivity.Prober
	Actions     *queue.ActionLog
	Coordinator *syncer.Coordinator
	Status      *status.Broadcaster
	Records     *records.Service

	log             *zap.Logger
	unsubscribeStat func()

	mu      sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// New opens the store, probes connectivity once and wires the components.
// It does not start background probing; see Run.
func New(ctx context.Context, opts *config.ClientOptions, log *zap.Logger) (*Engine, error) {
	log = logger.OrNop(log)

	httpClient, err := remote.NewHTTPClient(remote.TLSFiles{
		CAFile:   opts.CAFile,
		CertFile: opts.CertFile,
		KeyFile:  opts.KeyFile,
	}, opts.RequestTimeout.Std())
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	st := store.NewSQLite(opts.StorePath, log.Named("store"))
	if err := st.Open(ctx); err != nil {
		return nil, err
	}

	monitor := connectivity.NewMonitor(opts.AssumeOnline, log.Named("connectivity"))
	prober := connectivity.NewProber(monitor, httpClient, opts.HealthURL, opts.ProbeInterval.Std(), log.Named("probe"))
	if !opts.AssumeOnline {
		monitor.Set(prober.ProbeOnce(ctx))
	}

	actions := queue.New(st, monitor, log.Named("queue"))
	broadcaster := status.NewBroadcaster(monitor.IsOnline(), actions, log.Named("status"))
	coordinator := syncer.New(actions, remote.NewClient(opts.ServerURL, httpClient), monitor, broadcaster, log.Named("sync"))

	actions.SetDrainTrigger(coordinator.Trigger)
	actions.SetChangeHook(broadcaster.Refresh)
	monitor.OnReconnect(coordinator.Trigger)
	monitor.Subscribe(broadcaster.SetOnline)

	e := &Engine{
		Store:       st,
		Monitor:     monitor,
		Prober:      prober,
		Actions:     actions,
		Coordinator: coordinator,
		Status:      broadcaster,
		Records:     records.NewService(st, actions),
		log:         log,
	}
	e.unsubscribeStat = broadcaster.OnStatusChange(func(s models.SyncStatus) {
		log.Debug("sync status",
			zap.Bool("online", s.IsOnline),
			zap.Bool("syncing", s.IsSyncing),
			zap.Int("pending", s.PendingCount),
		)
	})
	broadcaster.Refresh()

	log.Info("engine ready",
		zap.String("store", opts.StorePath),
		zap.Bool("storeAvailable", st.Available()),
		zap.Bool("online", monitor.IsOnline()),
	)
	return e, nil
}

// Run probes connectivity until ctx is done. Pending actions left from a
// previous run are drained right away when online.
func (e *Engine) Run(ctx context.Context) {
	if e.Monitor.IsOnline() {
		e.Coordinator.Trigger()
	}
	e.Prober.Run(ctx)
}

// Start runs Run in the background until ctx is done or Close is called.
// Calling it again while running does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopRun != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.stopRun, e.runDone = cancel, done
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
}

// Close stops the background loop started by Start, waits for running
// drains and closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	stop, done := e.stopRun, e.runDone
	e.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}

	if e.unsubscribeStat != nil {
		e.unsubscribeStat()
	}
	e.Coordinator.Wait()
	return e.Store.Close()
}
