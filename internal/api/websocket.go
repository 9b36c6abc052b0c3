package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"settlement-reconciler/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundMessage = 512
)

// handleSessionSocket pushes the session status on every transition and closes
// once the session reaches a terminal state.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	updates, cancel, err := s.sessions.Subscribe(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", id).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithFields(logger.Fields{
		"session_id": id,
		"request_id": requestIDFrom(r.Context()),
	})
	log.Debug("Websocket subscriber connected")

	// The client never sends data; reading only detects disconnects and pongs.
	gone := make(chan struct{})
	conn.SetReadLimit(maxInboundMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
				log.Debug("Websocket subscriber released")
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("Websocket subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
