package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pattersondev/voynich-client/internal/auth"
	"github.com/pattersondev/voynich-client/internal/config"
	"github.com/pattersondev/voynich-client/internal/metrics"
	"github.com/pattersondev/voynich-client/internal/mw"
	"github.com/pattersondev/voynich-client/internal/ws"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, store *ChatStore, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免匿名接口被刷爆。
	r.Use(mw.RateLimit(rate.Limit(cfg.RatePerSec), cfg.RateBurst))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(cfg, store, hub)
	r.POST("/temp-token", h.TempToken)
	r.POST("/chats", auth.RequireScope(cfg.JWTSecret, auth.ScopeTemp), h.CreateChat)
	r.GET("/chats/:id", h.GetChat)

	r.GET("/ws", ws.Serve(hub, store))
	return r
}
