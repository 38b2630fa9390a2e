package db

import (
  "fmt"

  "gorm.io/driver/postgres"
  "gorm.io/gorm"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
  "github.com/deepsearch-org/deepsearch-backend/internal/utils"
)

type PostgresService struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
  serviceLog := log.With("service", "PostgresService")

  //1) Get and Set Environment Variables
  postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
  postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
  postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
  postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
  postgresName := utils.GetEnv("POSTGRES_NAME", "deepsearch", log)

  //2) Construct DSN From Environment Variables
  dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

  //3) Attempt DB Connection
  serviceLog.Info("Attempting to connect to Postgres DB now...")
  db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
  })
  if err != nil {
    serviceLog.Error("Failed to connect to Postgres DB", "error", err)
    return nil, fmt.Errorf("Failed to connect to Postgres DB: %w", err)
  }
  serviceLog.Info("Successfully Connected to Postgres DB :)")

  return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
  s.log.Info("Starting AutoMigrateAll for all GORM models now...")

  err := s.db.AutoMigrate(
    &types.User{},
    &types.UserToken{},
    &types.UserRequest{},
    &types.Chat{},
    &types.ChatMessage{},
  )
  if err != nil {
    s.log.Error("AutoMigrateAll failed for Base Tables :(", "error", err)
    return err
  }
  s.log.Info("AutoMigrateAll completed successfully for Base Tables :)")

  s.log.Info("Configuring Foreign Key Relationships for Base Tables now...")
  // -- UserToken.user_id => user.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "user_token"
      ADD CONSTRAINT "fk_user_token_user_id"
      FOREIGN KEY ("user_id")
      REFERENCES "user"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_user_token_user_id: %w", err)
  }
  // -- UserRequest.user_id => user.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "user_request"
      ADD CONSTRAINT "fk_user_request_user_id"
      FOREIGN KEY ("user_id")
      REFERENCES "user"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_user_request_user_id: %w", err)
  }
  // -- Chat.user_id => user.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "chat"
      ADD CONSTRAINT "fk_chat_user_id"
      FOREIGN KEY ("user_id")
      REFERENCES "user"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_chat_user_id: %w", err)
  }
  // -- ChatMessage.chat_id => chat.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "chat_message"
      ADD CONSTRAINT "fk_chat_message_chat_id"
      FOREIGN KEY ("chat_id")
      REFERENCES "chat"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_chat_message_chat_id: %w", err)
  }
  s.log.Info("Successfully Added Foreign Key Relationships to Base Tables :)")

  return nil
}

func (s *PostgresService) DB() *gorm.DB {
  return s.db
}
