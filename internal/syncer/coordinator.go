// Package syncer drains the pending action log against the remote service.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/remote"
)

// ErrDrainInProgress is returned when a drain is requested while one runs.
var ErrDrainInProgress = errors.New("drain already in progress")

// ActionLog is the subset of the pending action log used while draining.
type ActionLog interface {
	ListPending(ctx context.Context) ([]models.PendingAction, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Remote delivers a single action.
type Remote interface {
	Apply(ctx context.Context, action models.PendingAction) error
}

// Connectivity reports whether the remote is reachable.
type Connectivity interface {
	IsOnline() bool
}

// StatusSink receives drain lifecycle events.
type StatusSink interface {
	SyncStarted(pending int)
	SyncFinished(at time.Time, pending int)
}

// SkipReason says why a drain did not run.
type SkipReason string

// SkipOffline means the drain was skipped because the monitor reports offline.
const SkipOffline SkipReason = "offline"

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Action models.PendingAction
	Err    error
}

// Failure reasons reported by Outcome.Reason.
const (
	ReasonRejected  = "rejected"
	ReasonTransport = "transport"
	ReasonLocal     = "local"
)

// Reason classifies a failed delivery. It is empty for delivered actions.
func (o Outcome) Reason() string {
	var rejected *remote.RejectedError
	switch {
	case o.Err == nil:
		return ""
	case errors.As(o.Err, &rejected):
		return ReasonRejected
	case errors.Is(o.Err, remote.ErrSyncTransport):
		return ReasonTransport
	default:
		return ReasonLocal
	}
}

// Report summarises one drain.
type Report struct {
	Skipped  SkipReason
	Outcomes []Outcome
}

// Succeeded returns the number of delivered actions.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of actions left pending.
func (r Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Coordinator runs drains one at a time.
type Coordinator struct {
	actions ActionLog
	remote  Remote
	online  Connectivity
	status  StatusSink
	log     *zap.Logger
	now     func() time.Time

	draining atomic.Bool
	rerun    atomic.Bool
	wg       sync.WaitGroup
}

// New returns a Coordinator. status may be nil.
func New(actions ActionLog, remote Remote, online Connectivity, status StatusSink, log *zap.Logger) *Coordinator {
	return &Coordinator{
		actions: actions,
		remote:  remote,
		online:  online,
		status:  status,
		log:     logger.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsDraining reports whether a drain is running.
func (c *Coordinator) IsDraining() bool {
	return c.draining.Load()
}

// Drain delivers every pending action in FIFO order. A failed action is
// logged, kept in the log and does not stop the remaining ones.
//
// A request arriving while a drain runs gets ErrDrainInProgress and makes the
// running drain do one more pass for actions enqueued meanwhile. Actions
// already attempted by this drain are not sent again in that pass.
func (c *Coordinator) Drain(ctx context.Context) (Report, error) {
	if !c.online.IsOnline() {
		c.log.Debug("drain skipped, offline")
		return Report{Skipped: SkipOffline}, nil
	}
	if !c.acquire() {
		return Report{}, ErrDrainInProgress
	}

	var report Report
	attempted := make(map[string]struct{})
	for {
		err := c.pass(ctx, &report, attempted)
		c.draining.Store(false)
		if err != nil {
			return report, err
		}
		if !c.rerun.Swap(false) || !c.online.IsOnline() {
			return report, nil
		}
		if !c.draining.CompareAndSwap(false, true) {
			// another caller took over and will see the new actions
			return report, nil
		}
		c.log.Debug("actions enqueued during drain, running another pass")
	}
}

// acquire takes the drain guard, or records a rerun request for the holder.
func (c *Coordinator) acquire() bool {
	for {
		if c.draining.CompareAndSwap(false, true) {
			return true
		}
		c.rerun.Store(true)
		if c.draining.Load() {
			return false
		}
	}
}

// pass delivers the pending actions not yet in attempted.
func (c *Coordinator) pass(ctx context.Context, report *Report, attempted map[string]struct{}) error {
	all, err := c.actions.ListPending(ctx)
	if err != nil {
		return err
	}
	pending := make([]models.PendingAction, 0, len(all))
	for _, a := range all {
		if _, done := attempted[a.ID]; !done {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	c.log.Info("sync started", zap.Int("pending", len(pending)))
	if c.status != nil {
		c.status.SyncStarted(len(all))
	}

	succeeded, failed := 0, 0
	for _, action := range pending {
		attempted[action.ID] = struct{}{}
		err := c.deliver(ctx, action)
		report.Outcomes = append(report.Outcomes, Outcome{Action: action, Err: err})
		if err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	remaining, err := c.actions.Count(ctx)
	if err != nil {
		c.log.Warn("failed to count remaining actions", zap.Error(err))
		remaining = len(all) - succeeded
	}

	c.log.Info("sync finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("remaining", remaining),
	)
	if c.status != nil {
		c.status.SyncFinished(c.now(), remaining)
	}
	return nil
}

func (c *Coordinator) deliver(ctx context.Context, action models.PendingAction) error {
	fields := []zap.Field{
		zap.String("id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("collection", string(action.Collection)),
	}

	if err := c.remote.Apply(ctx, action); err != nil {
		var rejected *remote.RejectedError
		switch {
		case errors.As(err, &rejected):
			c.log.Warn("action rejected by server", append(fields, zap.Int("status", rejected.StatusCode), zap.Error(err))...)
		case errors.Is(err, remote.ErrSyncTransport):
			c.log.Warn("action delivery failed", append(fields, zap.Error(err))...)
		default:
			c.log.Error("action could not be sent", append(fields, zap.Error(err))...)
		}
		return err
	}

	if err := c.actions.Remove(ctx, action.ID); err != nil {
		// delivered but still stored, so it will be sent again
		c.log.Error("failed to remove delivered action", append(fields, zap.Error(err))...)
		return err
	}
	c.log.Debug("action delivered", fields...)
	return nil
}

// Trigger starts a drain in the background and returns immediately.
func (c *Coordinator) Trigger() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		report, err := c.Drain(context.Background())
		switch {
		case errors.Is(err, ErrDrainInProgress):
			c.log.Debug("drain already running, another pass requested")
		case err != nil:
			c.log.Error("drain failed", zap.Error(err))
		case report.Skipped != "":
			c.log.Debug("drain skipped", zap.String("reason", string(report.Skipped)))
		}
	}()
}

// Wait blocks until every triggered drain has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
