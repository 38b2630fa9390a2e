package middleware

import (
  "net/http"
  "net/http/httptest"
  "strings"
  "testing"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/requestdata"
  "github.com/deepsearch-org/deepsearch-backend/internal/services"
)

const testSecret = "test-secret"

func newAuthTestRouter(t *testing.T) *gin.Engine {
  t.Helper()
  gin.SetMode(gin.TestMode)
  log, err := logger.New("development")
  if err != nil {
    t.Fatalf("init logger: %v", err)
  }
  // token parsing never touches the database
  authService := services.NewAuthService(nil, log, nil, nil, testSecret, time.Hour, 24*time.Hour)
  am := NewAuthMiddleware(log, authService)

  router := gin.New()
  router.GET("/protected", am.RequireAuth(), func(c *gin.Context) {
    rd := requestdata.GetRequestData(c.Request.Context())
    c.JSON(http.StatusOK, gin.H{"userID": rd.UserID})
  })
  return router
}

func signTestToken(t *testing.T, secret string, userID uuid.UUID) string {
  t.Helper()
  now := time.Now()
  claims := services.JWTClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   userID.String(),
      IssuedAt:  jwt.NewNumericDate(now),
      ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
    },
  }
  signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
  if err != nil {
    t.Fatalf("sign token: %v", err)
  }
  return signed
}

func TestRequireAuthRejectsWithPlainText(t *testing.T) {
  router := newAuthTestRouter(t)

  cases := []struct {
    name   string
    header string
  }{
    {name: "missing token", header: ""},
    {name: "garbage token", header: "Bearer not-a-jwt"},
  }
  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      req := httptest.NewRequest(http.MethodGet, "/protected", nil)
      if tc.header != "" {
        req.Header.Set("Authorization", tc.header)
      }
      w := httptest.NewRecorder()
      router.ServeHTTP(w, req)

      if w.Code != http.StatusUnauthorized {
        t.Fatalf("expected 401, got %d", w.Code)
      }
      if w.Body.String() != "Unauthorized" {
        t.Fatalf("expected plain-text body %q, got %q", "Unauthorized", w.Body.String())
      }
      if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
        t.Fatalf("expected text/plain content type, got %q", ct)
      }
    })
  }
}

func TestRequireAuthPassesValidToken(t *testing.T) {
  router := newAuthTestRouter(t)
  userID := uuid.New()
  token := signTestToken(t, testSecret, userID)

  req := httptest.NewRequest(http.MethodGet, "/protected", nil)
  req.Header.Set("Authorization", "Bearer "+token)
  w := httptest.NewRecorder()
  router.ServeHTTP(w, req)

  if w.Code != http.StatusOK {
    t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
  }
  if !strings.Contains(w.Body.String(), userID.String()) {
    t.Fatalf("downstream handler did not see the user id: %s", w.Body.String())
  }
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
  router := newAuthTestRouter(t)
  token := signTestToken(t, testSecret, uuid.New())

  req := httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
  w := httptest.NewRecorder()
  router.ServeHTTP(w, req)

  if w.Code != http.StatusOK {
    t.Fatalf("expected 200 via query token, got %d", w.Code)
  }
}

func TestRequireAuthRejectsForeignSignature(t *testing.T) {
  router := newAuthTestRouter(t)
  token := signTestToken(t, "other-secret", uuid.New())

  req := httptest.NewRequest(http.MethodGet, "/protected", nil)
  req.Header.Set("Authorization", "Bearer "+token)
  w := httptest.NewRecorder()
  router.ServeHTTP(w, req)

  if w.Code != http.StatusUnauthorized {
    t.Fatalf("expected 401, got %d", w.Code)
  }
  if w.Body.String() != "Unauthorized" {
    t.Fatalf("expected plain-text body, got %q", w.Body.String())
  }
}
