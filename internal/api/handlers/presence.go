package handlers

import (
	"net/http"
	"strings"

	"catch-hub/internal/websocket"
	"catch-hub/pkg/response"

	"github.com/gin-gonic/gin"
)

const maxPresenceQuery = 500

type PresenceHandler struct {
	hub *websocket.Hub
}

func NewPresenceHandler(hub *websocket.Hub) *PresenceHandler {
	return &PresenceHandler{hub: hub}
}

type PresenceResponse struct {
	UserID      string `json:"userId"`
	IsOnline    bool   `json:"isOnline"`
	Connections int    `json:"connections"`
}

type PresenceQueryRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

type PresenceQueryResponse struct {
	Online []string `json:"online"`
}

// GetPresence answers GET /api/v1/presence/:userId.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "userId is required")
		return
	}

	n := h.hub.ConnectionCount(userID)
	response.Success(c, http.StatusOK, PresenceResponse{
		UserID:      userID,
		IsOnline:    n > 0,
		Connections: n,
	})
}

// QueryPresence answers POST /api/v1/presence/query with the online subset of
// the requested users.
func (h *PresenceHandler) QueryPresence(c *gin.Context) {
	var req PresenceQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}
	if len(req.UserIDs) > maxPresenceQuery {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "too many userIds")
		return
	}

	response.Success(c, http.StatusOK, PresenceQueryResponse{Online: h.hub.OnlineAmong(req.UserIDs)})
}
