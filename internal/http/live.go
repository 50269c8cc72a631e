package http

import (
	"context"
	"net/http"
	"time"

	"expensesync/internal/history"
	"expensesync/internal/log"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// clientMessage is what a live client may send.
type clientMessage struct {
	Type    string `json:"type"`
	Counter uint64 `json:"counter,omitempty"`
}

// handleLive upgrades to a websocket and streams the user's history view.
// Each connection owns one controller; closing either side closes it and
// releases its change feed subscription.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, log.OpSubscribe, err)
		return
	}
	if s.deps.Feed == nil {
		ErrorResponse(http.StatusServiceUnavailable, "live updates are not configured").Write(w)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the response.
		s.logger.WarnContext(r.Context(), "Websocket upgrade failed", log.FieldError, err)
		return
	}
	defer conn.Close()

	ctrl := history.NewController(s.deps.History, s.deps.Feed, s.logger)
	if !s.track(ctrl) {
		_ = ctrl.Close()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer s.untrack(ctrl)
	defer ctrl.Close()

	ctx := context.WithoutCancel(r.Context())
	logger := log.FromContext(r.Context(), s.logger)
	logger.InfoContext(ctx, "Live view opened", log.FieldUserID, userID, log.FieldChannel, "expenses:"+userID)

	done := make(chan struct{})
	go s.readLive(conn, ctrl, done)

	if err := ctrl.Bind(ctx, userID); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case v, ok := <-ctrl.Renders():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toViewDTO(v)); err != nil {
				logger.DebugContext(ctx, "Live view write failed", log.FieldError, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			logger.InfoContext(ctx, "Live view closed", log.FieldUserID, userID)
			return
		}
	}
}

// readLive handles client messages until the connection fails.
func (s *Server) readLive(conn *websocket.Conn, ctrl *history.Controller, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if _, isClose := err.(*websocket.CloseError); !isClose {
				// Malformed frames end the session like a close would.
				s.logger.Debug("Live view read ended", log.FieldError, err)
			}
			return
		}
		switch msg.Type {
		case "refresh":
			ctrl.Refresh()
		case "refresh_requested":
			ctrl.RefreshRequested(msg.Counter)
		}
	}
}
