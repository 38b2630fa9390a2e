package services

import (
  "context"
  "time"

  "github.com/google/uuid"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

const chatSystemPrompt = `You are a helpful AI assistant that can search the web to provide accurate and up-to-date information.

When users ask questions that require current information, facts, or recent events, you should use the searchWeb tool to find relevant information.

Always cite your sources with inline links when you use information from web searches. Format your citations in proper Markdown style like this: [source name](link).

For example:
- [CNN](https://www.cnn.com/article)
- [Wikipedia](https://en.wikipedia.org/wiki/topic)
- [TechCrunch](https://techcrunch.com/2024/article)

Your goal is to be helpful and informative while being transparent about where your information comes from. Always use proper Markdown link formatting.`

const (
  maxTitleLength   = 100
  defaultChatTitle = "New Chat"
)

type ChatService interface {
  // StreamChat runs the pre-stream persistence synchronously and returns the
  // resolved chat id plus the live event stream. A non-nil error means no
  // model call was made.
  StreamChat(ctx context.Context, userID uuid.UUID, chatID uuid.UUID, messages []types.UIMessage) (uuid.UUID, <-chan StreamEvent, <-chan error, error)
}

type chatService struct {
  log   *logger.Logger
  store ChatStoreService
  model ModelService
}

func NewChatService(log *logger.Logger, store ChatStoreService, model ModelService) ChatService {
  return &chatService{
    log:   log.With("service", "ChatService"),
    store: store,
    model: model,
  }
}

func (cs *chatService) StreamChat(ctx context.Context, userID uuid.UUID, chatID uuid.UUID, messages []types.UIMessage) (uuid.UUID, <-chan StreamEvent, <-chan error, error) {
  //1) Resolve chat id: caller-supplied or freshly generated
  if chatID == uuid.Nil {
    chatID = uuid.New()
  }

  //2) Derive title from the first user message
  title := DeriveChatTitle(messages)

  //3) Persist the chat with the input list before invoking the model, so a
  //   record exists even if streaming later fails or is interrupted
  if err := cs.store.UpsertChat(ctx, userID, chatID, title, messages); err != nil {
    cs.log.Warn("pre-stream chat upsert failed, aborting before model call", "chatID", chatID, "error", err)
    return chatID, nil, nil, err
  }

  //4) Invoke the model and relay its events, collecting the assistant output
  modelEvents, modelErrs := cs.model.StreamChat(ctx, chatSystemPrompt, messages)

  outEvents := make(chan StreamEvent, 16)
  outErrs := make(chan error, 1)
  go func() {
    defer close(outEvents)
    defer close(outErrs)

    var assistantParts []types.MessagePart
    for ev := range modelEvents {
      assistantParts = appendEventPart(assistantParts, ev)
      select {
      case outEvents <- ev:
      case <-ctx.Done():
        return
      }
    }
    if err := <-modelErrs; err != nil {
      outErrs <- err
      return
    }

    //5) Final transcript write, detached from the response stream. Its
    //   failure is logged, never surfaced: the stream has been delivered.
    final := append(append([]types.UIMessage(nil), messages...), types.UIMessage{
      Role:  "assistant",
      Parts: assistantParts,
    })
    go func() {
      bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
      defer cancel()
      if err := cs.store.UpsertChat(bgCtx, userID, chatID, title, final); err != nil {
        cs.log.Error("post-stream chat upsert failed; final assistant turn lost", "chatID", chatID, "error", err)
      }
    }()
  }()

  return chatID, outEvents, outErrs, nil
}

// appendEventPart folds one stream event into the assistant message's part
// list, keeping consecutive text deltas as a single text part.
func appendEventPart(parts []types.MessagePart, ev StreamEvent) []types.MessagePart {
  switch ev.Type {
  case EventTextDelta:
    if n := len(parts); n > 0 && parts[n-1].Type == types.PartTypeText {
      parts[n-1].Text += ev.Delta
      return parts
    }
    return append(parts, types.MessagePart{Type: types.PartTypeText, Text: ev.Delta})
  case EventToolCall:
    return append(parts, types.MessagePart{
      Type:       types.PartTypeToolInvocation,
      ToolCallID: ev.ToolCallID,
      ToolName:   ev.ToolName,
      Args:       ev.Args,
    })
  case EventToolResult:
    return append(parts, types.MessagePart{
      Type:       types.PartTypeToolResult,
      ToolCallID: ev.ToolCallID,
      ToolName:   ev.ToolName,
      Result:     ev.Result,
    })
  }
  return parts
}

// DeriveChatTitle is the first user-role message's first text part, truncated
// to 100 characters, with a literal fallback when none exists.
func DeriveChatTitle(messages []types.UIMessage) string {
  for _, m := range messages {
    if m.Role != "user" {
      continue
    }
    for _, p := range m.Parts {
      if p.Type != types.PartTypeText || p.Text == "" {
        continue
      }
      runes := []rune(p.Text)
      if len(runes) > maxTitleLength {
        return string(runes[:maxTitleLength])
      }
      return p.Text
    }
  }
  return defaultChatTitle
}
