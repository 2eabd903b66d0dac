package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/coder/websocket"
)

const (
	// eventBuffer is the per-connection event queue. A client that falls
	// further behind misses intermediate events; every event carries the
	// full view, so the next one catches it up.
	eventBuffer = 32

	eventWriteTimeout = 10 * time.Second
)

// handleEvents streams engine events over a WebSocket. The current state
// is sent first as a "snapshot" event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	user := auth.RequestUserID(r.Context())
	s.logger.Debug("event stream opened", slog.String("user_id", user))

	events, cancel := s.engine.Subscribe(eventBuffer)
	defer cancel()

	// The client never sends; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := writeEvent(ctx, conn, gallery.Event{Kind: "snapshot", View: s.engine.State()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", slog.String("user_id", user))
			return

		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine stopped")
				return
			}

			if err := writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev gallery.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
