package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pattersondev/voynich-client/internal/auth"
	"github.com/pattersondev/voynich-client/internal/config"
	"github.com/pattersondev/voynich-client/internal/metrics"
	"github.com/pattersondev/voynich-client/internal/models"
	"github.com/pattersondev/voynich-client/internal/ws"
)

// Handler 聚合所有 HTTP handler，依赖注入 store 与 hub。
type Handler struct {
	cfg   config.Config
	store *ChatStore
	hub   *ws.Hub
}

func NewHandler(cfg config.Config, store *ChatStore, hub *ws.Hub) *Handler {
	return &Handler{cfg: cfg, store: store, hub: hub}
}

// TempToken 发放只能用于创建房间的临时令牌。
func (h *Handler) TempToken(c *gin.Context) {
	token, err := auth.GenerateTempToken(h.cfg.JWTSecret, time.Duration(h.cfg.TempTokenTTLMin)*time.Minute)
	if err != nil {
		log.Error().Err(err).Msg("generate temp token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// CreateChat 按时长创建自毁房间，返回房间 id 与房间令牌。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Duration string `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	d, ok := models.Durations[req.Duration]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
		return
	}
	expiresAt := time.Now().Add(d).UTC()
	chat, err := h.store.CreateChat(expiresAt)
	if err != nil {
		log.Error().Err(err).Str("duration", req.Duration).Msg("create chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}
	token, err := auth.GenerateChatToken(chat.ID, h.cfg.JWTSecret, chat.ExpiresAt)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Msg("generate chat token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}
	metrics.ChatsCreatedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"id": chat.ID, "token": token})
}

// GetChat 返回房间元数据与全部历史消息。已清除的房间返回 404；
// 已到期但尚未被清理的房间原样返回，由客户端按过期处理。
func (h *Handler) GetChat(c *gin.Context) {
	id := c.Param("id")
	chat, err := h.store.GetChat(id)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		log.Error().Err(err).Str("chat_id", id).Msg("get chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	msgs, err := h.store.ListMessages(id)
	if err != nil {
		log.Error().Err(err).Str("chat_id", id).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     gin.H{"id": chat.ID, "expires_at": chat.ExpiresAt},
		"messages": msgs,
	})
}
