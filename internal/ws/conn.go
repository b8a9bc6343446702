package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pattersondev/voynich-client/internal/attach"
	"github.com/pattersondev/voynich-client/internal/metrics"
	"github.com/pattersondev/voynich-client/internal/models"
)

// Store is what the socket layer needs from chat persistence.
type Store interface {
	// ChatAlive reports whether the chat exists and has not expired.
	ChatAlive(chatID string) bool
	// SaveMessage persists a submission and returns it with the
	// server-assigned id and timestamp.
	SaveMessage(chatID string, out models.Outbound) (models.Message, error)
}

type Client struct {
	hub    *Hub
	chat   *ChatHub
	conn   *websocket.Conn
	send   chan []byte
	store  Store
	userID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve 处理 websocket 升级；客户端先发 join 事件绑定房间。
func Serve(hub *Hub, store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), store: store}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.chat != nil {
			select {
			case c.chat.unregister <- c:
			case <-c.chat.done:
			}
		}
		_ = c.conn.Close()
	}()
	// Base64 of a 10 MiB attachment plus envelope overhead.
	c.conn.SetReadLimit(16 << 20)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Event {
		case models.EventJoin:
			c.handleJoin(env.Data)
		case models.EventMessage:
			c.handleMessage(env.Data)
		}
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var join models.Join
	if err := json.Unmarshal(data, &join); err != nil || join.ChatID == "" {
		return
	}
	// Re-joins after reconnect land here again; binding is idempotent.
	if c.chat != nil && c.chat.chatID == join.ChatID {
		return
	}
	if c.chat != nil {
		select {
		case c.chat.unregister <- c:
		case <-c.chat.done:
		}
		c.chat = nil
	}
	if !c.store.ChatAlive(join.ChatID) {
		c.replyExpired()
		return
	}
	c.userID = join.UserID
	chat := c.hub.GetChat(join.ChatID)
	select {
	case chat.register <- c:
		c.chat = chat
	case <-chat.done:
		// 在拿到 hub 和注册之间房间过期了，按已过期回复。
		c.replyExpired()
	}
}

func (c *Client) replyExpired() {
	env, err := json.Marshal(models.Envelope{Event: models.EventChatExpired, Data: json.RawMessage("null")})
	if err != nil {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

func (c *Client) handleMessage(data json.RawMessage) {
	if c.chat == nil {
		return
	}
	var out models.Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		return
	}
	if out.ChatID != c.chat.chatID {
		return
	}
	if out.Content == "" && out.Attachment == nil {
		return
	}
	if out.Attachment != nil {
		raw, err := attach.Decode(out.Attachment)
		if err != nil || len(raw) > attach.MaxDecodedSize {
			return
		}
	}
	if !c.store.ChatAlive(out.ChatID) {
		return
	}
	msg, err := c.store.SaveMessage(out.ChatID, out)
	if err != nil {
		log.Error().Err(err).Str("chat_id", out.ChatID).Msg("save message")
		return
	}
	env, err := models.NewEnvelope(models.EventMessage, msg)
	if err != nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.chat.broadcast <- b:
		metrics.WsMessagesTotal.Inc()
	case <-c.chat.done:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
