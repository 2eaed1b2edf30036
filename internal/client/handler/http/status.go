package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
)

const writeTimeout = 5 * time.Second

// StatusSource provides the current sync status and its changes.
type StatusSource interface {
	Current() models.SyncStatus
	OnStatusChange(fn func(models.SyncStatus)) (unsubscribe func())
}

// StatusHandler serves sync status snapshots and the live stream.
type StatusHandler struct {
	Status StatusSource
	Log    *zap.Logger
}

// Current handles GET /api/status.
func (h *StatusHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Current())
}

// Stream handles GET /api/status/stream. The current status is sent first,
// then every change. When the client falls behind only the latest status is kept.
func (h *StatusHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	updates := make(chan models.SyncStatus, 1)
	push := func(s models.SyncStatus) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := h.Status.OnStatusChange(push)
	defer unsubscribe()
	push(h.Status.Current())

	// clients never send anything; CloseRead ends ctx when they disconnect
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			if err := h.write(ctx, conn, s); err != nil {
				h.logger().Debug("status stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *StatusHandler) write(ctx context.Context, conn *websocket.Conn, s models.SyncStatus) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *StatusHandler) logger() *zap.Logger {
	return logger.OrNop(h.Log)
}
