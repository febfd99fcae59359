package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Default WebSocket server buffer sizes.
const (
	defaultReadBufferSize  = 1024
	defaultWriteBufferSize = 1024
)

// WSServer is the device-side WebSocket endpoint: it upgrades incoming
// connections and answers one reply frame per request frame through the
// attached Handler. Real devices embed this; the fleet simulator and the
// tests use it directly.
type WSServer struct {
	handler  Handler
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewWSServer creates a server answering requests with h.
func NewWSServer(h Handler) *WSServer {
	return &WSServer{
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultReadBufferSize,
			WriteBufferSize: defaultWriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Get().Named("ws-server"),
	}
}

// ServeHTTP upgrades the connection and serves exchanges until the peer
// disconnects or a frame fails to parse.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug(ctx, "connection closed", logger.Error(err))
			}
			return
		}

		msg, err := wire.Decode(frame)
		if err != nil {
			s.logger.Warn(ctx, "dropping undecodable frame", logger.Error(err))
			return
		}

		reply, err := s.handler(ctx, msg)
		if err != nil {
			// The protocol has no error frames; a handler failure reads as
			// a timeout on the engine side.
			s.logger.Debug(ctx, "handler error, no reply sent", logger.Error(err))
			continue
		}

		out, err := wire.Encode(reply)
		if err != nil {
			s.logger.Error(ctx, "encoding reply failed", logger.Error(err))
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			return
		}
	}
}
