package handlers

import (
  "context"
  "encoding/json"
  "fmt"
  "net/http"
  "net/http/httptest"
  "strings"
  "testing"
  "time"

  "github.com/gin-gonic/gin"
  gormsqlite "github.com/glebarez/sqlite"
  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/repos"
  "github.com/deepsearch-org/deepsearch-backend/internal/requestdata"
  "github.com/deepsearch-org/deepsearch-backend/internal/services"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

type scriptedModel struct {
  events []services.StreamEvent
  err    error
  delay  time.Duration
  called bool
}

func (sm *scriptedModel) StreamChat(ctx context.Context, system string, messages []types.UIMessage) (<-chan services.StreamEvent, <-chan error) {
  sm.called = true
  events := make(chan services.StreamEvent, len(sm.events))
  errs := make(chan error, 1)
  go func() {
    defer close(events)
    defer close(errs)
    if sm.delay > 0 {
      time.Sleep(sm.delay)
    }
    for _, ev := range sm.events {
      events <- ev
    }
    if sm.err != nil {
      errs <- sm.err
    }
  }()
  return events, errs
}

type chatTestEnv struct {
  router  *gin.Engine
  db      *gorm.DB
  store   services.ChatStoreService
  user    *types.User
  handler *ChatHandler
}

func newChatTestEnv(t *testing.T, model services.ModelService, dailyLimit int, isAdmin bool) *chatTestEnv {
  t.Helper()
  gin.SetMode(gin.TestMode)

  dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
  db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
  if err != nil {
    t.Fatalf("open sqlite: %v", err)
  }
  if err := db.AutoMigrate(&types.User{}, &types.UserRequest{}, &types.Chat{}, &types.ChatMessage{}); err != nil {
    t.Fatalf("automigrate: %v", err)
  }

  log, err := logger.New("development")
  if err != nil {
    t.Fatalf("init logger: %v", err)
  }

  userRepo := repos.NewUserRepo(db, log)
  user, err := userRepo.Create(context.Background(), nil, &types.User{
    Email:    t.Name() + "@example.com",
    Password: "hashed",
    IsAdmin:  isAdmin,
  })
  if err != nil {
    t.Fatalf("create user: %v", err)
  }

  store := services.NewChatStoreService(db, log, repos.NewChatRepo(db, log))
  rateLimiter := services.NewRateLimitService(log, userRepo, repos.NewUserRequestRepo(db, log), dailyLimit)
  chatService := services.NewChatService(log, store, model)
  handler := NewChatHandler(log, rateLimiter, chatService, store)

  router := gin.New()
  router.Use(func(c *gin.Context) {
    ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{
      UserID:  user.ID,
      IsAdmin: user.IsAdmin,
    })
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  })
  router.POST("/api/chat", handler.StreamChat)
  router.GET("/api/chats", handler.GetChats)
  router.GET("/api/chats/:chatID", handler.GetChat)
  router.GET("/api/usage", handler.GetUsage)

  return &chatTestEnv{router: router, db: db, store: store, user: user, handler: handler}
}

func (env *chatTestEnv) post(t *testing.T, body string) *httptest.ResponseRecorder {
  t.Helper()
  req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
  req.Header.Set("Content-Type", "application/json")
  w := httptest.NewRecorder()
  env.router.ServeHTTP(w, req)
  return w
}

func TestStreamChatEndpoint(t *testing.T) {
  model := &scriptedModel{
    events: []services.StreamEvent{
      {Type: services.EventTextDelta, Delta: "Hello"},
      {Type: services.EventTextDelta, Delta: " there"},
    },
  }
  env := newChatTestEnv(t, model, 0, false)

  w := env.post(t, `{"messages":[{"role":"user","parts":[{"type":"text","text":"greet me"}]}]}`)
  if w.Code != http.StatusOK {
    t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
  }
  if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
    t.Fatalf("expected SSE content type, got %q", ct)
  }

  body := w.Body.String()
  chatIdx := strings.Index(body, "event: chat\n")
  deltaIdx := strings.Index(body, "event: text-delta\n")
  doneIdx := strings.Index(body, "event: done\n")
  if chatIdx < 0 || deltaIdx < 0 || doneIdx < 0 {
    t.Fatalf("missing expected events in stream:\n%s", body)
  }
  if !(chatIdx < deltaIdx && deltaIdx < doneIdx) {
    t.Fatalf("events out of order:\n%s", body)
  }

  // the request counted against the daily quota
  var count int64
  if err := env.db.Model(&types.UserRequest{}).Where("user_id = ?", env.user.ID).Count(&count).Error; err != nil {
    t.Fatalf("count requests: %v", err)
  }
  if count != 1 {
    t.Fatalf("expected 1 recorded request, got %d", count)
  }
}

func TestStreamChatRateLimited(t *testing.T) {
  model := &scriptedModel{events: []services.StreamEvent{{Type: services.EventTextDelta, Delta: "x"}}}
  env := newChatTestEnv(t, model, 1, false)

  body := `{"messages":[{"role":"user","parts":[{"type":"text","text":"one"}]}]}`
  if w := env.post(t, body); w.Code != http.StatusOK {
    t.Fatalf("first request should pass, got %d", w.Code)
  }

  w := env.post(t, body)
  if w.Code != http.StatusTooManyRequests {
    t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
  }
  var resp struct {
    Error     string `json:"error"`
    Remaining int    `json:"remaining"`
    Total     int    `json:"total"`
  }
  if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
    t.Fatalf("decode 429 body: %v", err)
  }
  if resp.Error != "rate_limit_exceeded" || resp.Remaining != 0 || resp.Total != 1 {
    t.Fatalf("unexpected 429 payload: %+v", resp)
  }
}

func TestStreamChatAdminBypassesLimit(t *testing.T) {
  model := &scriptedModel{events: []services.StreamEvent{{Type: services.EventTextDelta, Delta: "x"}}}
  env := newChatTestEnv(t, model, 1, true)

  body := `{"messages":[{"role":"user","parts":[{"type":"text","text":"again"}]}]}`
  for i := 0; i < 3; i++ {
    if w := env.post(t, body); w.Code != http.StatusOK {
      t.Fatalf("admin request #%d got %d", i+1, w.Code)
    }
  }
}

func TestStreamChatForeignChatID(t *testing.T) {
  model := &scriptedModel{events: []services.StreamEvent{{Type: services.EventTextDelta, Delta: "x"}}}
  env := newChatTestEnv(t, model, 0, false)

  foreignChat := uuid.New()
  err := env.store.UpsertChat(context.Background(), uuid.New(), foreignChat, "theirs", []types.UIMessage{
    {Role: "user", Parts: []types.MessagePart{{Type: types.PartTypeText, Text: "theirs"}}},
  })
  if err != nil {
    t.Fatalf("seed foreign chat: %v", err)
  }

  w := env.post(t, fmt.Sprintf(`{"messages":[{"role":"user","parts":[{"type":"text","text":"mine"}]}],"chatId":"%s"}`, foreignChat))
  if w.Code != http.StatusForbidden {
    t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
  }
  if model.called {
    t.Fatalf("model must not run for a foreign chat id")
  }
}

func TestStreamChatBadRequests(t *testing.T) {
  env := newChatTestEnv(t, &scriptedModel{}, 0, false)

  if w := env.post(t, `{"messages":[]}`); w.Code != http.StatusBadRequest {
    t.Fatalf("empty messages: expected 400, got %d", w.Code)
  }
  if w := env.post(t, `{"messages":[{"role":"user","parts":[{"type":"text","text":"hi"}]}],"chatId":"not-a-uuid"}`); w.Code != http.StatusBadRequest {
    t.Fatalf("bad chat id: expected 400, got %d", w.Code)
  }
}

func TestGetChatEndpoints(t *testing.T) {
  env := newChatTestEnv(t, &scriptedModel{}, 0, false)
  chatID := uuid.New()
  err := env.store.UpsertChat(context.Background(), env.user.ID, chatID, "saved", []types.UIMessage{
    {Role: "user", Parts: []types.MessagePart{{Type: types.PartTypeText, Text: "saved"}}},
  })
  if err != nil {
    t.Fatalf("seed chat: %v", err)
  }

  w := httptest.NewRecorder()
  env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
  if w.Code != http.StatusOK {
    t.Fatalf("list chats: expected 200, got %d", w.Code)
  }
  var listResp struct {
    Chats []types.Chat `json:"chats"`
  }
  if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
    t.Fatalf("decode chat list: %v", err)
  }
  if len(listResp.Chats) != 1 || listResp.Chats[0].Title != "saved" {
    t.Fatalf("unexpected chat list: %+v", listResp.Chats)
  }

  w = httptest.NewRecorder()
  env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats/"+chatID.String(), nil))
  if w.Code != http.StatusOK {
    t.Fatalf("get chat: expected 200, got %d: %s", w.Code, w.Body.String())
  }

  w = httptest.NewRecorder()
  env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats/"+uuid.NewString(), nil))
  if w.Code != http.StatusNotFound {
    t.Fatalf("missing chat: expected 404, got %d", w.Code)
  }
}

func TestStreamChatKeepAliveComment(t *testing.T) {
  model := &scriptedModel{
    events: []services.StreamEvent{{Type: services.EventTextDelta, Delta: "late"}},
    delay:  60 * time.Millisecond,
  }
  env := newChatTestEnv(t, model, 0, false)
  env.handler.pingInterval = 10 * time.Millisecond

  w := env.post(t, `{"messages":[{"role":"user","parts":[{"type":"text","text":"slow one"}]}]}`)
  if w.Code != http.StatusOK {
    t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
  }

  body := w.Body.String()
  pingIdx := strings.Index(body, ": ping\n\n")
  if pingIdx < 0 {
    t.Fatalf("expected a keep-alive comment while the model stalled:\n%s", body)
  }
  // the comment is framed as an SSE comment, not a named event
  if strings.Contains(body, "event: ping") {
    t.Fatalf("keep-alive must be a comment line, found a ping event:\n%s", body)
  }
  deltaIdx := strings.Index(body, "event: text-delta\n")
  if deltaIdx < 0 || pingIdx > deltaIdx {
    t.Fatalf("expected the keep-alive before the delayed delta:\n%s", body)
  }
}

func TestGetUsageEndpoint(t *testing.T) {
  model := &scriptedModel{events: []services.StreamEvent{{Type: services.EventTextDelta, Delta: "x"}}}
  env := newChatTestEnv(t, model, 0, false)

  if w := env.post(t, `{"messages":[{"role":"user","parts":[{"type":"text","text":"hi"}]}]}`); w.Code != http.StatusOK {
    t.Fatalf("chat request got %d", w.Code)
  }

  w := httptest.NewRecorder()
  env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
  if w.Code != http.StatusOK {
    t.Fatalf("usage: expected 200, got %d", w.Code)
  }
  var stats services.UsageStats
  if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
    t.Fatalf("decode usage: %v", err)
  }
  if stats.Today != 1 || stats.Total != 1 || stats.IsAdmin {
    t.Fatalf("unexpected usage stats: %+v", stats)
  }
}
