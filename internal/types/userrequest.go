package types

import (
  "time"

  "github.com/google/uuid"
)

// UserRequest is one row per chat request attempt. The table is append-only:
// rows are never updated or deleted, only counted within the current day.
type UserRequest struct {
  ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
  UserID      uuid.UUID     `gorm:"type:uuid;index;not null" json:"userID"`

  CreatedAt   time.Time     `gorm:"not null;index" json:"createdAt"`
}

func (UserRequest) TableName() string {
  return "user_request"
}
