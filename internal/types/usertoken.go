package types

import (
  "time"

  "github.com/google/uuid"
)

type UserToken struct {
  ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
  UserID        uuid.UUID     `gorm:"type:uuid;index;not null" json:"userID"`
  AccessToken   string        `gorm:"column:access_token;not null;index" json:"-"`
  RefreshToken  string        `gorm:"column:refresh_token;not null;index" json:"-"`
  ExpiresAt     time.Time     `gorm:"not null" json:"expiresAt"`

  CreatedAt     time.Time     `gorm:"not null" json:"createdAt"`
}

func (UserToken) TableName() string {
  return "user_token"
}
