// Package ws lets browser clients speak the chat line protocol over a
// WebSocket. Text messages in both directions form one byte stream of
// newline-terminated lines; message boundaries carry no meaning.
package ws

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ConnServer runs a protocol session over a stream connection.
type ConnServer interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// Handler upgrades the request and serves the chat protocol over it.
// originPatterns lists extra host patterns allowed to connect cross-origin;
// same-origin requests are always accepted.
func Handler(srv ConnServer, originPatterns []string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))
		srv.ServeConn(r.Context(), websocket.NetConn(r.Context(), conn, websocket.MessageText))
	}
}
