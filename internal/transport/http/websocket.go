package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/fanout"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events godoc
// @Summary Live job updates
// @Description Upgrades to a websocket that receives one JSON job snapshot per
// @Description message. Only changes after connecting are sent; use GET /api/jobs to resync.
// @Tags jobs
// @Router /ws [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeErr(w, http.StatusServiceUnavailable, "live updates are not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}

	sub := h.events.Subscribe()
	h.log.Debug("websocket connected", zap.Int("subscribers", h.events.Subscribers()))
	ctx, cancel := context.WithCancel(h.baseCtx)

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub)

	cancel()
	sub.Close()
	_ = conn.Close()
}

// readPump discards client messages and cancels ctx once the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub *fanout.Subscription) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	updates := make(chan error, 1)
	go func() {
		for {
			jobs, err := sub.Next(ctx)
			if err != nil {
				updates <- err
				return
			}
			for _, job := range jobs {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(job); err != nil {
					updates <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-updates:
			h.log.Debug("websocket closed", zap.Error(err))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
