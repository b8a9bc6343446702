package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pattersondev/voynich-client/internal/metrics"
	"github.com/pattersondev/voynich-client/internal/models"
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	chats map[string]*ChatHub
}

func NewHub() *Hub { return &Hub{chats: make(map[string]*ChatHub)} }

// GetChat 若房间未初始化则懒加载一个 ChatHub。
func (h *Hub) GetChat(chatID string) *ChatHub {
	h.mu.RLock()
	chat := h.chats[chatID]
	h.mu.RUnlock()
	if chat != nil {
		return chat
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	chat = h.chats[chatID]
	if chat != nil {
		return chat
	}
	chat = NewChatHub(chatID)
	h.chats[chatID] = chat
	go chat.run()
	return chat
}

func (h *Hub) Online(chatID string) int {
	h.mu.RLock()
	chat := h.chats[chatID]
	h.mu.RUnlock()
	if chat == nil {
		return 0
	}
	return chat.Online()
}

// Expire 向房间广播 chatExpired 并关闭全部连接，随后移除子 Hub。
func (h *Hub) Expire(chatID string) {
	h.mu.Lock()
	chat := h.chats[chatID]
	delete(h.chats, chatID)
	h.mu.Unlock()
	if chat != nil {
		chat.expire()
	}
}

type ChatHub struct {
	chatID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	expired    chan struct{}
	// done 在 run 退出后关闭；客户端侧的发送都要同时 select done，
	// 否则房间过期后连接收尾会永久阻塞。
	done   chan struct{}
	online int32
}

func NewChatHub(chatID string) *ChatHub {
	return &ChatHub{
		chatID:     chatID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		expired:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (ch *ChatHub) run() {
	defer close(ch.done)
	for {
		select {
		case c := <-ch.register:
			ch.clients[c] = true
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsConnections.Inc()
			ch.fanout(userCountEvent(len(ch.clients)))
		case c := <-ch.unregister:
			if _, ok := ch.clients[c]; ok {
				delete(ch.clients, c)
				close(c.send)
				atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
				metrics.WsConnections.Dec()
				ch.fanout(userCountEvent(len(ch.clients)))
			}
		case msg := <-ch.broadcast:
			ch.fanout(msg)
		case <-ch.expired:
			env, _ := json.Marshal(models.Envelope{Event: models.EventChatExpired, Data: json.RawMessage("null")})
			ch.fanout(env)
			for c := range ch.clients {
				delete(ch.clients, c)
				close(c.send)
				metrics.WsConnections.Dec()
			}
			atomic.StoreInt32(&ch.online, 0)
			return
		}
	}
}

// fanout 将消息分发给所有客户端，发送缓冲打满的连接直接剔除。
func (ch *ChatHub) fanout(msg []byte) {
	if msg == nil {
		return
	}
	for c := range ch.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(ch.clients, c)
			metrics.WsConnections.Dec()
		}
	}
}

func (ch *ChatHub) expire() {
	select {
	case <-ch.expired:
	default:
		close(ch.expired)
	}
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (ch *ChatHub) Online() int { return int(atomic.LoadInt32(&ch.online)) }

func userCountEvent(n int) []byte {
	env, err := models.NewEnvelope(models.EventUserCount, n)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return out
}
