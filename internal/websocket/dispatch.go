package websocket

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DispatchClientMessage routes one inbound frame from c. Bad frames are logged
// and dropped; the connection stays open.
func (h *Hub) DispatchClientMessage(c *Connection, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while dispatching client frame",
				zap.String("conn_id", c.id), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	frame, err := DecodeClientFrame(raw)
	if err != nil {
		h.dropFrame(c, dropMalformed, err)
		return
	}

	switch frame.Type {
	case ClientTypePing:
		h.sendTo(c, NewEnvelope(EventPong, PongData{Timestamp: h.opts.Clock.Now().UTC()}))

	case ClientTypeTyping:
		req, err := frame.typingRequest()
		if err != nil {
			h.dropFrame(c, dropInvalid, err)
			return
		}
		h.NotifyTyping(req.ConversationID, c.userID, req.UserName, req.ParticipantIDs)

	default:
		h.dropFrame(c, dropUnknownType, fmt.Errorf("%w: %q", ErrUnknownMessageType, frame.Type))
	}
}

func (h *Hub) dropFrame(c *Connection, reason string, err error) {
	h.metrics.frameDropped(reason)
	h.logger.Warn("dropped client frame",
		zap.String("conn_id", c.id), zap.String("user_id", c.userID),
		zap.String("reason", reason), zap.Error(err))
}

// readPump reads frames until the peer goes away, then evicts c. It runs on the
// handshake goroutine. A frame over MaxMessageSize is a protocol error: the
// transport has already failed the read, so the connection ends too.
func (h *Hub) readPump(c *Connection) {
	defer h.evict(c, reasonClosed)

	c.transport.SetReadLimit(h.opts.MaxMessageSize)
	c.transport.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.dropFrame(c, dropOversized, err)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				h.logger.Debug("read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.touch()

		if !c.allowInbound() {
			h.dropFrame(c, dropRateLimited, nil)
			continue
		}
		h.DispatchClientMessage(c, raw)
	}
}
