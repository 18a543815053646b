package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Reject codes carried in the error envelope of a refused handshake.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUnavailable  = "UNAVAILABLE"
)

// Serve runs the handshake on an upgraded transport and then blocks reading
// client frames until the connection ends. The token is checked after the
// upgrade so the client is told why it is refused.
func (h *Hub) Serve(t Transport, token string) error {
	userID, ok := h.verifier.Verify(token)
	if !ok {
		h.metrics.handshakeRejected()
		h.logger.Info("handshake rejected", zap.String("reason", "invalid token"))
		h.reject(t, CodeUnauthorized, "invalid or expired token", websocket.ClosePolicyViolation)
		return ErrUnauthorized
	}

	c := newConnection(t, userID, h.opts, h.opts.Clock)
	if !h.admit(c) {
		h.metrics.handshakeRejected()
		h.reject(t, CodeUnavailable, "server shutting down", websocket.CloseGoingAway)
		return ErrHubClosed
	}

	h.readPump(c)
	return nil
}

// reject writes an error envelope and a close frame on a transport that was
// never registered, then closes it.
func (h *Hub) reject(t Transport, code, message string, closeCode int) {
	deadline := time.Now().Add(h.opts.WriteWait)
	if frame, err := EncodeEnvelope(NewEnvelope(EventError, ErrorData{Code: code, Message: message})); err == nil {
		if err := t.SetWriteDeadline(deadline); err == nil {
			_ = t.WriteMessage(websocket.TextMessage, frame)
		}
	}
	_ = t.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message), deadline)
	_ = t.Close()
}

// NewUpgrader builds an upgrader that accepts the listed origins. An empty list,
// a "*" entry or a request without an Origin header (native mobile clients) is
// accepted.
func NewUpgrader(allowedOrigins []string, readBuffer, writeBuffer int) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]

	return &websocket.Upgrader{
		ReadBufferSize:  readBuffer,
		WriteBufferSize: writeBuffer,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard || len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}
