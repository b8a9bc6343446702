package server

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/pattersondev/voynich-client/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatStore 封装房间与消息的持久化，消息 id 由服务端用 ULID 赋值，
// 天然按创建时间排序。
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateChat 创建一个在 expiresAt 自毁的房间。
func (s *ChatStore) CreateChat(expiresAt time.Time) (*models.Chat, error) {
	chat := models.Chat{ID: uuid.NewString(), ExpiresAt: expiresAt}
	if err := s.db.Create(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *ChatStore) GetChat(id string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// ListMessages 按到达顺序（ULID 即插入顺序）返回房间全部消息。
func (s *ChatStore) ListMessages(chatID string) ([]models.Message, error) {
	var msgs []models.ChatMessage
	if err := s.db.Where("chat_id = ?", chatID).Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	return out, nil
}

// ChatAlive implements ws.Store.
func (s *ChatStore) ChatAlive(chatID string) bool {
	chat, err := s.GetChat(chatID)
	if err != nil {
		return false
	}
	return chat.ExpiresAt.After(time.Now())
}

// SaveMessage implements ws.Store.
func (s *ChatStore) SaveMessage(chatID string, out models.Outbound) (models.Message, error) {
	rec := models.ChatMessage{
		ID:        ulid.Make().String(),
		ChatID:    chatID,
		Sender:    out.Sender,
		Content:   out.Content,
		CreatedAt: time.Now().UTC(),
	}
	if out.Attachment != nil {
		rec.AttachmentName = out.Attachment.Name
		rec.AttachmentType = out.Attachment.Type
		rec.AttachmentData = out.Attachment.Data
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return models.Message{}, err
	}
	return rec.Wire(), nil
}

// ExpiredChats 返回已到期待清除的房间 id。
func (s *ChatStore) ExpiredChats(now time.Time) ([]string, error) {
	var ids []string
	err := s.db.Model(&models.Chat{}).Where("expires_at <= ?", now).Pluck("id", &ids).Error
	return ids, err
}

// PurgeChat 连消息一起整房清除，之后快照接口返回 404。
func (s *ChatStore) PurgeChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Chat{ID: id}).Error
	})
}
