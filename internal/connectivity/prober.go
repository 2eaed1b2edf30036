package connectivity

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
)

// DefaultProbeInterval is used when NewProber gets a non-positive interval.
const DefaultProbeInterval = 15 * time.Second

// Prober derives connectivity from periodic health requests and feeds a Monitor.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration
	log      *zap.Logger
}

// NewProber returns a prober for url. A nil client means http.DefaultClient.
func NewProber(monitor *Monitor, client *http.Client, url string, interval time.Duration, log *zap.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		monitor:  monitor,
		client:   client,
		url:      url,
		interval: interval,
		log:      logger.OrNop(log),
	}
}

// ProbeOnce checks the health endpoint and reports reachability without
// touching the monitor. Any response below 500 counts as reachable.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.Error("bad health url", zap.String("url", p.url), zap.Error(err))
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("health probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes until ctx is done, feeding every result into the monitor.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.ProbeOnce(ctx)
			if ctx.Err() != nil {
				return
			}
			p.monitor.Set(online)
		}
	}
}
