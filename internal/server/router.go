package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/deepsearch-org/deepsearch-backend/internal/handlers"
  "github.com/deepsearch-org/deepsearch-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler     *handlers.AuthHandler
  AuthMiddleware  *middleware.AuthMiddleware
  ChatHandler     *handlers.ChatHandler
  AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  allowOrigins := cfg.AllowOrigins
  if len(allowOrigins) == 0 {
    allowOrigins = []string{"http://localhost:3000"}
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     allowOrigins,
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Refresh-Token"},
    AllowCredentials: true,
  }))

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/healthz", handlers.Healthz)

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  api := router.Group("/api")
  {
    api.POST("/register", cfg.AuthHandler.Register)
    api.POST("/login", cfg.AuthHandler.Login)
  }

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.POST("/refresh", cfg.AuthHandler.Refresh)
  protected.POST("/logout", cfg.AuthHandler.Logout)

  //Chat
  protected.POST("/chat", cfg.ChatHandler.StreamChat)
  protected.GET("/chats", cfg.ChatHandler.GetChats)
  protected.GET("/chats/:chatID", cfg.ChatHandler.GetChat)
  protected.GET("/usage", cfg.ChatHandler.GetUsage)

  return router
}
