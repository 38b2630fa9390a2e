package types

import (
  "time"

  "github.com/google/uuid"
)

type Chat struct {
  ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
  UserID      uuid.UUID     `gorm:"type:uuid;index;not null" json:"userID"`
  Title       string        `gorm:"column:title;type:varchar(100)" json:"title"`

  CreatedAt   time.Time     `gorm:"not null" json:"createdAt"`
  UpdatedAt   time.Time     `gorm:"not null" json:"updatedAt"`
}

func (Chat) TableName() string {
  return "chat"
}
