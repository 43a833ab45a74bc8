package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/starford/salesboard/internal/sse"
)

const wsWriteTimeout = 5 * time.Second

// WebSocket handles GET /api/ws. It streams the same events as /api/events,
// one JSON document per text message. Messages sent by the client are
// ignored.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.WSOrigins})
	if err != nil {
		slog.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := conn.CloseRead(r.Context())
	ch := h.Broker.SubscribeFramed(sse.FramingJSON)
	defer h.Broker.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
