package routes

import (
	"time"

	"catch-hub/internal/api/handlers"
	"catch-hub/internal/api/middleware"
	"catch-hub/internal/config"
	"catch-hub/internal/services"
	"catch-hub/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// presenceQueryLimit is requests per minute per client IP on the presence API.
const presenceQueryLimit = 300

type Router struct {
	engine          *gin.Engine
	cfg             *config.Config
	hub             *websocket.Hub
	wsHandler       *handlers.WSHandler
	presenceHandler *handlers.PresenceHandler
	healthHandler   *handlers.HealthHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	cfg *config.Config,
	hub *websocket.Hub,
	verifier middleware.TokenVerifier,
	limiter services.RateLimiter,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.WebSocket.AllowedOrigins))
	engine.Use(middleware.LogApi(logger))

	upgrader := websocket.NewUpgrader(cfg.WebSocket.AllowedOrigins, 1024, 1024)

	return &Router{
		engine:          engine,
		cfg:             cfg,
		hub:             hub,
		wsHandler:       handlers.NewWSHandler(hub, upgrader, logger),
		presenceHandler: handlers.NewPresenceHandler(hub),
		healthHandler:   handlers.NewHealthHandler(hub),
		rateLimitMW:     middleware.NewRateLimitMiddleware(limiter, logger),
		authMW:          middleware.NewAuthMiddleware(verifier),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Health)
	r.engine.GET("/metrics", gin.WrapH(r.hub.Metrics().Handler()))

	api := r.engine.Group("/api/v1")

	// Token is checked by the hub after the upgrade.
	api.GET("/ws",
		r.rateLimitMW.RateLimitIP(r.cfg.Server.HandshakeLimit, r.cfg.Server.HandshakeWindow),
		r.wsHandler.HandleWebSocket,
	)

	presence := api.Group("/presence")
	presence.Use(r.authMW.RequireAuth())
	presence.Use(r.rateLimitMW.RateLimitIP(presenceQueryLimit, time.Minute))
	{
		presence.GET("/:userId", r.presenceHandler.GetPresence)
		presence.POST("/query", r.presenceHandler.QueryPresence)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
