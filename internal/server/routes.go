package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/signaling"
)

// ServeWs returns an http.HandlerFunc that upgrades signaling connections and
// hands them to the hub. The wire codec is chosen with ?codec=json|msgpack.
func ServeWs(hub *signaling.Hub, origins *OriginPolicy, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return origins.Allows(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		codec, err := protocol.CodecByName(r.URL.Query().Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Upgrade writes the error response itself.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
			return
		}

		client := signaling.NewClient(hub, conn, codec)
		if !hub.Register(client) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}
		logger.Debug("websocket connected", "session", client.ID, "codec", codec.Name(), "remote_addr", r.RemoteAddr)

		go client.WritePump()
		go client.ReadPump()
	}
}
