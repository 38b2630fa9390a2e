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

type ChatRepo interface {
  CreateChat(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
  GetChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error)
  GetUserChats(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error)
  UpdateChatTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string, updatedAt time.Time) error

  CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.ChatMessage) ([]*types.ChatMessage, error)
  GetMessagesByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.ChatMessage, error)
  DeleteMessagesByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error
}

type chatRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
  return &chatRepo{
    db:  db,
    log: baseLog.With("repo", "ChatRepo"),
  }
}

func (cr *chatRepo) CreateChat(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
  if tx == nil {
    tx = cr.db
  }
  if chat.ID == uuid.Nil {
    chat.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(chat).Error; err != nil {
    cr.log.Error("failed to create chat", "error", err)
    return nil, fmt.Errorf("Failed creating chat: %w", err)
  }
  return chat, nil
}

func (cr *chatRepo) GetChatByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error) {
  if tx == nil {
    tx = cr.db
  }
  var c types.Chat
  if err := tx.WithContext(ctx).
    Where("id = ?", id).
    First(&c).Error; err != nil {
    return nil, err
  }
  return &c, nil
}

func (cr *chatRepo) GetUserChats(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error) {
  if tx == nil {
    tx = cr.db
  }
  var chats []*types.Chat
  if err := tx.WithContext(ctx).
    Where("user_id = ?", userID).
    Order("updated_at DESC").
    Find(&chats).Error; err != nil {
    return nil, fmt.Errorf("Failed fetching chats for user: %w", err)
  }
  return chats, nil
}

func (cr *chatRepo) UpdateChatTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string, updatedAt time.Time) error {
  if tx == nil {
    tx = cr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.Chat{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "title":      title,
      "updated_at": updatedAt,
    }).Error; err != nil {
    cr.log.Error("failed to update chat title", "error", err)
    return fmt.Errorf("Failed updating chat: %w", err)
  }
  return nil
}

func (cr *chatRepo) CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.ChatMessage) ([]*types.ChatMessage, error) {
  if tx == nil {
    tx = cr.db
  }
  if len(msgs) == 0 {
    return msgs, nil
  }
  for _, m := range msgs {
    if m.ID == uuid.Nil {
      m.ID = uuid.New()
    }
  }
  if err := tx.WithContext(ctx).Create(&msgs).Error; err != nil {
    cr.log.Error("failed to create chat messages", "error", err)
    return nil, fmt.Errorf("Failed creating chat messages: %w", err)
  }
  return msgs, nil
}

func (cr *chatRepo) GetMessagesByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.ChatMessage, error) {
  if tx == nil {
    tx = cr.db
  }
  var msgs []*types.ChatMessage
  if err := tx.WithContext(ctx).
    Where("chat_id = ?", chatID).
    Order("position ASC").
    Find(&msgs).Error; err != nil {
    cr.log.Error("failed to get chat messages by chatID", "error", err)
    return nil, fmt.Errorf("Failed fetching chat messages: %w", err)
  }
  return msgs, nil
}

func (cr *chatRepo) DeleteMessagesByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
  if tx == nil {
    tx = cr.db
  }
  if err := tx.WithContext(ctx).
    Where("chat_id = ?", chatID).
    Delete(&types.ChatMessage{}).Error; err != nil {
    cr.log.Error("failed to delete chat messages by chatID", "error", err)
    return fmt.Errorf("Failed deleting chat messages: %w", err)
  }
  return nil
}
