package handlers

import (
  "encoding/json"
  "errors"
  "fmt"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/requestdata"
  "github.com/deepsearch-org/deepsearch-backend/internal/services"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

type ChatHandler struct {
  log              *logger.Logger
  rateLimitService services.RateLimitService
  chatService      services.ChatService
  chatStoreService services.ChatStoreService
  pingInterval     time.Duration
}

func NewChatHandler(log *logger.Logger, rateLimitService services.RateLimitService, chatService services.ChatService, chatStoreService services.ChatStoreService) *ChatHandler {
  return &ChatHandler{
    log:              log.With("handler", "ChatHandler"),
    rateLimitService: rateLimitService,
    chatService:      chatService,
    chatStoreService: chatStoreService,
    pingInterval:     15 * time.Second,
  }
}

// StreamChat is POST /api/chat: rate-check, record, persist the pending chat,
// then relay the model stream to the client as SSE without buffering it.
func (ch *ChatHandler) StreamChat(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.String(http.StatusUnauthorized, "Unauthorized")
    return
  }

  var req struct {
    Messages []types.UIMessage `json:"messages"`
    ChatID   string            `json:"chatId,omitempty"`
  }
  if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  chatID := uuid.Nil
  if req.ChatID != "" {
    parsed, err := uuid.Parse(req.ChatID)
    if err != nil {
      c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
      return
    }
    chatID = parsed
  }

  //1) Rate-check
  usage, err := ch.rateLimitService.CheckLimit(c.Request.Context(), rd.UserID)
  if err != nil {
    c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to check rate limit"})
    return
  }
  if !usage.Allowed {
    c.JSON(http.StatusTooManyRequests, gin.H{
      "error":     "rate_limit_exceeded",
      "message":   "Daily request limit reached. Try again tomorrow.",
      "remaining": usage.Remaining,
      "total":     usage.Total,
    })
    return
  }

  //2) Record against quota before any model work, so a failed model call
  //   still counts
  if err := ch.rateLimitService.RecordRequest(c.Request.Context(), rd.UserID); err != nil {
    c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to record request"})
    return
  }

  //3) Pre-stream persistence + model invocation
  resolvedChatID, events, errs, err := ch.chatService.StreamChat(c.Request.Context(), rd.UserID, chatID, req.Messages)
  if err != nil {
    if errors.Is(err, services.ErrChatOwnership) {
      c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "chat id belongs to another user"})
      return
    }
    c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failed", "message": "failed to save chat"})
    return
  }

  //4) Relay the stream
  c.Header("Content-Type", "text/event-stream")
  c.Header("Cache-Control", "no-cache")
  c.Header("Connection", "keep-alive")
  c.Header("X-Accel-Buffering", "no")
  c.Status(http.StatusOK)

  flusher, ok := c.Writer.(http.Flusher)
  if !ok {
    fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"streaming unsupported\"}\n\n")
    return
  }

  writeEvent := func(event string, payload interface{}) {
    b, err := json.Marshal(payload)
    if err != nil {
      fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
      flusher.Flush()
      return
    }
    fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, string(b))
    flusher.Flush()
  }

  writeEvent("chat", gin.H{"chatId": resolvedChatID})

  ticker := time.NewTicker(ch.pingInterval)
  defer ticker.Stop()

  ctx := c.Request.Context()
  for {
    select {
    case ev, ok := <-events:
      if !ok {
        // stream ended; report a late error if one arrived, else done
        select {
        case err := <-errs:
          if err != nil {
            writeEvent("error", gin.H{"message": err.Error()})
            return
          }
        default:
        }
        writeEvent("done", gin.H{"chatId": resolvedChatID})
        return
      }
      writeEvent(ev.Type, ev)

    case err := <-errs:
      if err == nil {
        continue
      }
      ch.log.Warn("model stream failed", "chatID", resolvedChatID, "error", err)
      writeEvent("error", gin.H{"message": err.Error()})
      return

    case <-ticker.C:
      // keep-alive comment, invisible to SSE clients
      fmt.Fprint(c.Writer, ": ping\n\n")
      flusher.Flush()

    case <-ctx.Done():
      return
    }
  }
}

func (ch *ChatHandler) GetChats(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
    return
  }
  chats, err := ch.chatStoreService.GetChats(c.Request.Context(), rd.UserID)
  if err != nil {
    c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
    return
  }
  c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (ch *ChatHandler) GetChat(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
    return
  }
  chatID, err := uuid.Parse(c.Param("chatID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
    return
  }
  chat, err := ch.chatStoreService.GetChat(c.Request.Context(), chatID, rd.UserID)
  if err != nil {
    c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
    return
  }
  if chat == nil {
    c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
    return
  }
  c.JSON(http.StatusOK, chat)
}

func (ch *ChatHandler) GetUsage(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
    return
  }
  stats, err := ch.rateLimitService.GetUsageStats(c.Request.Context(), rd.UserID)
  if err != nil {
    c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load usage stats"})
    return
  }
  c.JSON(http.StatusOK, stats)
}
