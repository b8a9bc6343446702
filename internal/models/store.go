package models

import "time"

// Chat 是 devserver 持久化的房间记录，过期后整行连同消息一起清除。
type Chat struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// ChatMessage 是 devserver 持久化的消息记录，附件按列内联存储。
type ChatMessage struct {
	ID             string `gorm:"primaryKey;size:26"`
	ChatID         string `gorm:"index:idx_msg_chat_id;size:36;not null"`
	Sender         string `gorm:"size:8;not null"`
	Content        string `gorm:"type:text"`
	AttachmentName string `gorm:"size:255"`
	AttachmentType string `gorm:"size:128"`
	AttachmentData string `gorm:"type:text"`
	CreatedAt      time.Time
}

// Wire converts a stored message to its wire form.
func (m ChatMessage) Wire() Message {
	out := Message{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
	}
	if m.AttachmentName != "" || m.AttachmentData != "" {
		out.Attachment = &Attachment{
			Name: m.AttachmentName,
			Type: m.AttachmentType,
			Data: m.AttachmentData,
		}
	}
	return out
}
