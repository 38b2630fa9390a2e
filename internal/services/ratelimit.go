package services

import (
  "context"
  "fmt"
  "time"

  "github.com/google/uuid"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/repos"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

const DefaultDailyRequestLimit = 50

// Usage reports a user's standing against the daily quota. Remaining and Total
// are -1 for admin users, meaning unbounded.
type Usage struct {
  Allowed   bool `json:"allowed"`
  Remaining int  `json:"remaining"`
  Total     int  `json:"total"`
}

type UsageStats struct {
  Today   int64 `json:"today"`
  Total   int64 `json:"total"`
  IsAdmin bool  `json:"isAdmin"`
}

type RateLimitService interface {
  CheckLimit(ctx context.Context, userID uuid.UUID) (Usage, error)
  RecordRequest(ctx context.Context, userID uuid.UUID) error
  GetUsageStats(ctx context.Context, userID uuid.UUID) (UsageStats, error)
}

type rateLimitService struct {
  log             *logger.Logger
  userRepo        repos.UserRepo
  userRequestRepo repos.UserRequestRepo
  dailyLimit      int
  now             func() time.Time
}

func NewRateLimitService(log *logger.Logger, userRepo repos.UserRepo, userRequestRepo repos.UserRequestRepo, dailyLimit int) RateLimitService {
  if dailyLimit <= 0 {
    dailyLimit = DefaultDailyRequestLimit
  }
  return &rateLimitService{
    log:             log.With("service", "RateLimitService"),
    userRepo:        userRepo,
    userRequestRepo: userRequestRepo,
    dailyLimit:      dailyLimit,
    now:             time.Now,
  }
}

// CheckLimit is side-effect free; it only reads. Callers that go on to serve
// the request must call RecordRequest themselves before invoking the model.
func (rls *rateLimitService) CheckLimit(ctx context.Context, userID uuid.UUID) (Usage, error) {
  user, err := rls.userRepo.GetByID(ctx, nil, userID)
  if err != nil {
    rls.log.Warn("Failed to load user for rate limit check", "userID", userID, "error", err)
    return Usage{}, fmt.Errorf("Failed to load user for rate limit check: %w", err)
  }
  if user.IsAdmin {
    return Usage{Allowed: true, Remaining: -1, Total: -1}, nil
  }

  total, err := rls.userRequestRepo.CountByUserSince(ctx, nil, userID, rls.startOfToday())
  if err != nil {
    rls.log.Warn("Failed to count user requests for rate limit check", "userID", userID, "error", err)
    return Usage{}, err
  }
  remaining := rls.dailyLimit - int(total)
  return Usage{
    Allowed:   remaining > 0,
    Remaining: remaining,
    Total:     int(total),
  }, nil
}

func (rls *rateLimitService) RecordRequest(ctx context.Context, userID uuid.UUID) error {
  _, err := rls.userRequestRepo.Create(ctx, nil, &types.UserRequest{
    UserID:    userID,
    CreatedAt: rls.now(),
  })
  return err
}

func (rls *rateLimitService) GetUsageStats(ctx context.Context, userID uuid.UUID) (UsageStats, error) {
  user, err := rls.userRepo.GetByID(ctx, nil, userID)
  if err != nil {
    return UsageStats{}, fmt.Errorf("Failed to load user for usage stats: %w", err)
  }
  today, err := rls.userRequestRepo.CountByUserSince(ctx, nil, userID, rls.startOfToday())
  if err != nil {
    return UsageStats{}, err
  }
  total, err := rls.userRequestRepo.CountByUser(ctx, nil, userID)
  if err != nil {
    return UsageStats{}, err
  }
  return UsageStats{Today: today, Total: total, IsAdmin: user.IsAdmin}, nil
}

// startOfToday is local midnight in the server's timezone. A DST shift can
// shrink or stretch a single window by an hour.
func (rls *rateLimitService) startOfToday() time.Time {
  now := rls.now()
  return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
