package repos

import (
  "context"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

type UserRequestRepo interface {
  Create(ctx context.Context, tx *gorm.DB, req *types.UserRequest) (*types.UserRequest, error)
  CountByUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) (int64, error)
  CountByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
}

type userRequestRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUserRequestRepo(db *gorm.DB, baseLog *logger.Logger) UserRequestRepo {
  return &userRequestRepo{
    db:  db,
    log: baseLog.With("repo", "UserRequestRepo"),
  }
}

func (urr *userRequestRepo) Create(ctx context.Context, tx *gorm.DB, req *types.UserRequest) (*types.UserRequest, error) {
  if tx == nil {
    tx = urr.db
  }
  if req.ID == uuid.Nil {
    req.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(req).Error; err != nil {
    urr.log.Error("failed to create user request row", "error", err)
    return nil, fmt.Errorf("Failed to record user request: %w", err)
  }
  return req, nil
}

func (urr *userRequestRepo) CountByUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) (int64, error) {
  if tx == nil {
    tx = urr.db
  }
  var count int64
  if err := tx.WithContext(ctx).
    Model(&types.UserRequest{}).
    Where("user_id = ? AND created_at >= ?", userID, since).
    Count(&count).Error; err != nil {
    return 0, fmt.Errorf("Failed counting user requests since %s: %w", since, err)
  }
  return count, nil
}

func (urr *userRequestRepo) CountByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
  if tx == nil {
    tx = urr.db
  }
  var count int64
  if err := tx.WithContext(ctx).
    Model(&types.UserRequest{}).
    Where("user_id = ?", userID).
    Count(&count).Error; err != nil {
    return 0, fmt.Errorf("Failed counting user requests: %w", err)
  }
  return count, nil
}
