package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
)

type ChatMessage struct {
  ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
  ChatID      uuid.UUID       `gorm:"type:uuid;not null;index;index:idx_chat_message_chat_position,unique,priority:1" json:"chatID"`
  Role        string          `gorm:"column:role;not null" json:"role"`
  Parts       datatypes.JSON  `gorm:"column:parts;not null" json:"parts"`

  // Position is the zero-based display order within the chat; it matches the
  // array position of the message at write time.
  Position    int             `gorm:"column:position;not null;index:idx_chat_message_chat_position,unique,priority:2" json:"position"`

  CreatedAt   time.Time       `gorm:"not null" json:"createdAt"`
}

func (ChatMessage) TableName() string {
  return "chat_message"
}
