package main

import (
  "fmt"
  "os"
  "strings"
  "time"

  "github.com/deepsearch-org/deepsearch-backend/internal/db"
  "github.com/deepsearch-org/deepsearch-backend/internal/handlers"
  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/middleware"
  "github.com/deepsearch-org/deepsearch-backend/internal/repos"
  "github.com/deepsearch-org/deepsearch-backend/internal/server"
  "github.com/deepsearch-org/deepsearch-backend/internal/services"
  "github.com/deepsearch-org/deepsearch-backend/internal/utils"
)

func main() {
  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
  refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)
  dailyRequestLimit := utils.GetEnvAsInt("DAILY_REQUEST_LIMIT", services.DefaultDailyRequestLimit, log)
  openRouterURL := utils.GetEnv("OPENROUTER_API_URL", "https://openrouter.ai/api/v1", log)
  openRouterKey := utils.GetEnv("OPENROUTER_API_KEY", "", log)
  openRouterModel := utils.GetEnv("OPENROUTER_MODEL", "google/gemini-flash-1.5", log)
  serperURL := utils.GetEnv("SERPER_API_URL", "https://google.serper.dev", log)
  serperKey := utils.GetEnv("SERPER_API_KEY", "", log)
  allowOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  userRepo := repos.NewUserRepo(thePG, log)
  userTokenRepo := repos.NewUserTokenRepo(thePG, log)
  userRequestRepo := repos.NewUserRequestRepo(thePG, log)
  chatRepo := repos.NewChatRepo(thePG, log)

  // Services Setup
  log.Info("Setting up Services from Main now...")
  authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
  rateLimitService := services.NewRateLimitService(log, userRepo, userRequestRepo, dailyRequestLimit)
  chatStoreService := services.NewChatStoreService(thePG, log, chatRepo)
  searchService, err := services.NewSerperService(log, serperURL, serperKey)
  if err != nil {
    log.Error("Fatal error: Cannot init SerperService", "error", err)
    os.Exit(1)
  }
  modelService, err := services.NewOpenRouterService(log, openRouterURL, openRouterKey, openRouterModel, searchService)
  if err != nil {
    log.Error("Fatal error: Cannot init OpenRouterService", "error", err)
    os.Exit(1)
  }
  chatService := services.NewChatService(log, chatStoreService, modelService)
  log.Info("Services Set Up From Main Successful :)")

  // Handler Setup
  authHandler := handlers.NewAuthHandler(authService)
  chatHandler := handlers.NewChatHandler(log, rateLimitService, chatService, chatStoreService)

  // MiddleWare Setup
  authMiddleware := middleware.NewAuthMiddleware(log, authService)

  // Router Setup
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    AuthMiddleware: authMiddleware,
    ChatHandler:    chatHandler,
    AllowOrigins:   strings.Split(allowOrigins, ","),
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Error("Server failed", "error", err)
  }
}
