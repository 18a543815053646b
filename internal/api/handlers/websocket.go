package handlers

import (
	"errors"
	"strings"

	"catch-hub/internal/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	hub      *websocket.Hub
	upgrader *gorilla.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(hub *websocket.Hub, upgrader *gorilla.Upgrader, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		upgrader: upgrader,
		logger:   logger.With(zap.String("component", "ws_handler")),
	}
}

// HandleWebSocket upgrades /api/v1/ws?token=<jwt> and hands the connection to
// the hub. The token is checked after the upgrade so a refused client still
// receives an error envelope. Browsers that cannot set headers use the query
// parameter; native clients may send Authorization instead.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimSpace(c.GetHeader("Authorization"))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		return
	}

	err = h.hub.Serve(conn, token)
	switch {
	case errors.Is(err, websocket.ErrUnauthorized):
		h.logger.Info("websocket handshake unauthorized", zap.String("client_ip", c.ClientIP()))
	case errors.Is(err, websocket.ErrHubClosed):
		h.logger.Info("websocket handshake refused during shutdown", zap.String("client_ip", c.ClientIP()))
	}
}
