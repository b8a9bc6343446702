package server

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pattersondev/voynich-client/internal/metrics"
	"github.com/pattersondev/voynich-client/internal/ws"
)

// Sweeper 周期性清理到期房间：先广播 chatExpired 断开连接，
// 再整房清除持久化数据，使后续快照请求返回 404。
type Sweeper struct {
	store    *ChatStore
	hub      *ws.Hub
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store *ChatStore, hub *ws.Hub, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		store:    store,
		hub:      hub,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Sweeper) sweep(now time.Time) {
	ids, err := s.store.ExpiredChats(now)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep query")
		return
	}
	for _, id := range ids {
		s.hub.Expire(id)
		if err := s.store.PurgeChat(id); err != nil {
			log.Error().Err(err).Str("chat_id", id).Msg("purge chat")
			continue
		}
		metrics.ChatsExpiredTotal.Inc()
		log.Info().Str("chat_id", id).Msg("chat expired and purged")
	}
}

// Stop 停止扫描，等待当前一轮清理完成。
func (s *Sweeper) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
