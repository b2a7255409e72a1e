package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

const relayWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// stream upgrades the connection to a websocket and relays every payload
// published on the broadcast channel. A failed write means the client is
// gone: the relay terminates itself rather than retry or buffer.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages, err := s.bus.Subscribe(ctx, store.ChannelBroadcast)
	if err != nil {
		s.logger.Error("broadcast subscribe failed", zap.Error(err))
		return
	}

	metrics.IncRelayClients()
	defer metrics.DecRelayClients()

	// Drain the read side so close frames and pings are processed; any read
	// error cancels the relay.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for payload := range messages {
		if err := conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			s.logger.Debug("relay client dropped", zap.Error(err))
			return
		}
	}
}
