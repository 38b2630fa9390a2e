package services

import (
  "context"
  "fmt"
  "strings"
  "time"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"
  "golang.org/x/crypto/bcrypt"
  "gorm.io/gorm"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/repos"
  "github.com/deepsearch-org/deepsearch-backend/internal/requestdata"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

type JWTClaims struct {
  jwt.RegisteredClaims
  IsAdmin bool `json:"is_admin,omitempty"`
}

type AuthService interface {
  RegisterUser(ctx context.Context, email, password string) error
  Login(ctx context.Context, email, password string) (string, string, error)
  Refresh(ctx context.Context) (string, string, error)
  Logout(ctx context.Context) error

  SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
  GetAccessTTL() time.Duration
}

type authService struct {
  db            *gorm.DB
  log           *logger.Logger
  userRepo      repos.UserRepo
  userTokenRepo repos.UserTokenRepo
  jwtSecretKey  string
  accessTTL     time.Duration
  refreshTTL    time.Duration
}

func NewAuthService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  userTokenRepo repos.UserTokenRepo,
  jwtSecretKey string,
  accessTTL time.Duration,
  refreshTTL time.Duration,
) AuthService {
  serviceLog := log.With("service", "AuthService")
  return &authService{
    db:            db,
    log:           serviceLog,
    userRepo:      userRepo,
    userTokenRepo: userTokenRepo,
    jwtSecretKey:  jwtSecretKey,
    accessTTL:     accessTTL,
    refreshTTL:    refreshTTL,
  }
}

func (as *authService) RegisterUser(ctx context.Context, email, password string) error {
  //1) Normalize and validate input
  email = strings.ToLower(strings.TrimSpace(email))
  if email == "" {
    return fmt.Errorf("an email is required to register.")
  }
  if password == "" {
    return fmt.Errorf("a password is required to register.")
  }
  exists, err := as.userRepo.EmailExists(ctx, nil, email)
  if err != nil {
    as.log.Warn("Failed to check if user email exists, Cannot proceed. Returning error.", "error", err)
    return err
  }
  if exists {
    return fmt.Errorf("email is already in use.")
  }

  //2) Hash Password
  hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
  if err != nil {
    as.log.Warn("Failure to hash password for user. Returning error", "error", err)
    return fmt.Errorf("Failed to hash password for user.")
  }

  //3) Create Final User
  _, err = as.userRepo.Create(ctx, nil, &types.User{
    Email:    email,
    Password: string(hashed),
  })
  return err
}

func (as *authService) Login(ctx context.Context, userEmail, userPassword string) (string, string, error) {
  email := strings.ToLower(strings.TrimSpace(userEmail))
  if email == "" || userPassword == "" {
    return "", "", fmt.Errorf("email and password are required to login.")
  }

  user, err := as.userRepo.GetByEmail(ctx, nil, email)
  if err != nil {
    as.log.Warn("Failure to retrieve user by email, Cannot proceed. Returning error.", "error", err)
    return "", "", fmt.Errorf("invalid email or password")
  }
  if hErr := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(userPassword)); hErr != nil {
    as.log.Warn("Invalid password, user password and hash dont match, Cannot proceed. Returning error.")
    return "", "", fmt.Errorf("invalid email or password")
  }

  var accessToken string
  var refreshToken string
  if err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    tok, genErr := as.generateAccessToken(user)
    if genErr != nil {
      as.log.Warn("Generate Access Token Error, Cannot proceed. Returning error.", "error", genErr)
      return fmt.Errorf("Generate Access Token Error: %w", genErr)
    }
    accessToken = tok
    refreshToken = uuid.New().String()
    userToken := types.UserToken{
      UserID:       user.ID,
      AccessToken:  accessToken,
      RefreshToken: refreshToken,
      ExpiresAt:    time.Now().Add(as.refreshTTL),
    }
    if _, cTErr := as.userTokenRepo.Create(ctx, tx, &userToken); cTErr != nil {
      return fmt.Errorf("Create User Token Error: %w", cTErr)
    }
    return nil
  }); err != nil {
    return "", "", err
  }
  return accessToken, refreshToken, nil
}

func (as *authService) Refresh(ctx context.Context) (string, string, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    return "", "", fmt.Errorf("No Request Data found in context.")
  }
  if rd.RefreshToken == "" {
    return "", "", fmt.Errorf("RefreshToken in Request Data in context is an empty string.")
  }

  var accessToken string
  var newRefreshToken string
  err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    existing, fTErr := as.userTokenRepo.GetByRefreshToken(ctx, tx, rd.RefreshToken)
    if fTErr != nil {
      as.log.Warn("Error fetching refresh token, Cannot proceed. Returning error.", "error", fTErr)
      return fmt.Errorf("Error fetching refresh token: %w", fTErr)
    }
    if existing.ExpiresAt.Before(time.Now()) {
      if dTErr := as.userTokenRepo.DeleteByID(ctx, tx, existing.ID); dTErr != nil {
        return fmt.Errorf("Refresh token expired, error deleting: %w", dTErr)
      }
      return fmt.Errorf("Refresh Token Expired.")
    }
    user, uErr := as.userRepo.GetByID(ctx, tx, existing.UserID)
    if uErr != nil {
      return fmt.Errorf("Failed to load user for refresh: %w", uErr)
    }
    tok, genErr := as.generateAccessToken(user)
    if genErr != nil {
      return fmt.Errorf("Generate Access Token Error: %w", genErr)
    }
    accessToken = tok
    newRefreshToken = uuid.New().String()
    newUserToken := types.UserToken{
      UserID:       user.ID,
      AccessToken:  accessToken,
      RefreshToken: newRefreshToken,
      ExpiresAt:    time.Now().Add(as.refreshTTL),
    }
    if _, cErr := as.userTokenRepo.Create(ctx, tx, &newUserToken); cErr != nil {
      return fmt.Errorf("Create User Token Error: %w", cErr)
    }
    if dErr := as.userTokenRepo.DeleteByID(ctx, tx, existing.ID); dErr != nil {
      return fmt.Errorf("Failed to delete old user token: %w", dErr)
    }
    return nil
  })
  if err != nil {
    return "", "", err
  }
  return accessToken, newRefreshToken, nil
}

func (as *authService) Logout(ctx context.Context) error {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    return fmt.Errorf("No Request Data found in context.")
  }
  return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    found, fTErr := as.userTokenRepo.GetByAccessToken(ctx, tx, rd.TokenString)
    if fTErr != nil {
      return fmt.Errorf("Error fetching access token for logout: %w", fTErr)
    }
    if dErr := as.userTokenRepo.DeleteByID(ctx, tx, found.ID); dErr != nil {
      return fmt.Errorf("Error deleting user token for logout: %w", dErr)
    }
    return nil
  })
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
  now := time.Now()
  claims := JWTClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   user.ID.String(),
      IssuedAt:  jwt.NewNumericDate(now),
      ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
    },
    IsAdmin: user.IsAdmin,
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
  parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
    return []byte(as.jwtSecretKey), nil
  })
  if err != nil || !parsedToken.Valid {
    return ctx, fmt.Errorf("invalid or expired token")
  }
  claims, ok := parsedToken.Claims.(*JWTClaims)
  if !ok {
    return ctx, fmt.Errorf("invalid token claims")
  }
  userID, err := uuid.Parse(claims.Subject)
  if err != nil {
    return ctx, fmt.Errorf("invalid user id in token subject")
  }
  rd := &requestdata.RequestData{
    TokenString: tokenString,
    UserID:      userID,
    IsAdmin:     claims.IsAdmin,
  }
  return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
  return as.accessTTL
}
