package services

import (
  "context"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/repos"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

// ErrChatOwnership is returned when an upsert targets a chat id that already
// belongs to a different user. Nothing is mutated in that case.
var ErrChatOwnership = errors.New("chat id belongs to another user")

type ChatWithMessages struct {
  Chat     types.Chat        `json:"chat"`
  Messages []types.UIMessage `json:"messages"`
}

type ChatStoreService interface {
  UpsertChat(ctx context.Context, userID uuid.UUID, chatID uuid.UUID, title string, messages []types.UIMessage) error
  GetChat(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (*ChatWithMessages, error)
  GetChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error)
}

type chatStoreService struct {
  db       *gorm.DB
  log      *logger.Logger
  chatRepo repos.ChatRepo
  now      func() time.Time
}

func NewChatStoreService(db *gorm.DB, log *logger.Logger, chatRepo repos.ChatRepo) ChatStoreService {
  return &chatStoreService{
    db:       db,
    log:      log.With("service", "ChatStoreService"),
    chatRepo: chatRepo,
    now:      time.Now,
  }
}

// UpsertChat replaces the chat's whole transcript: insert the chat if absent,
// otherwise drop every prior message row and reinsert the full current set.
// The sequence runs in one transaction so concurrent upserts on the same chat
// id cannot interleave the delete/insert steps.
func (css *chatStoreService) UpsertChat(ctx context.Context, userID uuid.UUID, chatID uuid.UUID, title string, messages []types.UIMessage) error {
  return css.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    //1) Fetch existing chat by id (global lookup, not scoped by user)
    existing, err := css.chatRepo.GetChatByID(ctx, tx, chatID)
    if err != nil && !repos.IsNotFound(err) {
      return fmt.Errorf("Failed fetching chat for upsert: %w", err)
    }

    if existing != nil {
      //2) Reject reuse of the id under a different owner
      if existing.UserID != userID {
        css.log.Warn("Chat id already belongs to another user", "chatID", chatID, "ownerID", existing.UserID, "callerID", userID)
        return ErrChatOwnership
      }
      //3) Owned: clear prior messages, bump title and updated_at
      if err := css.chatRepo.DeleteMessagesByChatID(ctx, tx, chatID); err != nil {
        return err
      }
      if err := css.chatRepo.UpdateChatTitle(ctx, tx, chatID, title, css.now()); err != nil {
        return err
      }
    } else {
      //4) Absent: insert a fresh chat row
      if _, err := css.chatRepo.CreateChat(ctx, tx, &types.Chat{
        ID:     chatID,
        UserID: userID,
        Title:  title,
      }); err != nil {
        return err
      }
    }

    //5) Insert the full message list, tagged with zero-based positions
    if len(messages) == 0 {
      return nil
    }
    rows := make([]*types.ChatMessage, 0, len(messages))
    for i, m := range messages {
      parts, err := types.MarshalParts(m.Parts)
      if err != nil {
        return err
      }
      rows = append(rows, &types.ChatMessage{
        ChatID:   chatID,
        Role:     m.Role,
        Parts:    parts,
        Position: i,
      })
    }
    if _, err := css.chatRepo.CreateMessages(ctx, tx, rows); err != nil {
      return err
    }
    return nil
  })
}

// GetChat enforces ownership at read time: a chat owned by someone else reads
// back as absent.
func (css *chatStoreService) GetChat(ctx context.Context, chatID uuid.UUID, userID uuid.UUID) (*ChatWithMessages, error) {
  chat, err := css.chatRepo.GetChatByID(ctx, nil, chatID)
  if err != nil {
    if repos.IsNotFound(err) {
      return nil, nil
    }
    return nil, fmt.Errorf("Failed fetching chat: %w", err)
  }
  if chat.UserID != userID {
    return nil, nil
  }

  rows, err := css.chatRepo.GetMessagesByChatID(ctx, nil, chatID)
  if err != nil {
    return nil, err
  }
  messages := make([]types.UIMessage, 0, len(rows))
  for _, row := range rows {
    parts, err := types.UnmarshalParts(row.Parts)
    if err != nil {
      return nil, err
    }
    messages = append(messages, types.UIMessage{Role: row.Role, Parts: parts})
  }
  return &ChatWithMessages{Chat: *chat, Messages: messages}, nil
}

func (css *chatStoreService) GetChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error) {
  return css.chatRepo.GetUserChats(ctx, nil, userID)
}
