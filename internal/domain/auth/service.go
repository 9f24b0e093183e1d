package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/pkg/logger"
)

// Repository loads and updates operators.
type Repository interface {
	FindByLogin(ctx context.Context, login string) (*Operator, error)
	FindByID(ctx context.Context, operatorID id.ID) (*Operator, error)
	Create(ctx context.Context, op *Operator) error
	Update(ctx context.Context, op *Operator) error
}

// ServiceConfig holds login policy settings.
type ServiceConfig struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
	}
}

// Service implements operator registration and login.
type Service struct {
	repo   Repository
	jwt    *JWTService
	config ServiceConfig
}

// NewService creates an auth service.
func NewService(repo Repository, jwtService *JWTService, config ServiceConfig) *Service {
	return &Service{repo: repo, jwt: jwtService, config: config}
}

// Token is an issued access token with its expiry.
type Token struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Register creates an operator account.
func (s *Service) Register(ctx context.Context, login, password string) (*Operator, error) {
	if login == "" {
		return nil, apperror.NewValidation("login is required")
	}
	if len(password) < 8 {
		return nil, apperror.NewValidation("password must be at least 8 characters")
	}
	if existing, err := s.repo.FindByLogin(ctx, login); err == nil && existing != nil {
		return nil, apperror.NewConflict("login already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	op := NewOperator(login, string(hash))
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, err
	}
	logger.Info(ctx, "operator registered", "login", login, "operator_id", op.ID)
	return op, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, login, password string) (*Token, *Operator, error) {
	op, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		// Same error for unknown login and bad password.
		return nil, nil, apperror.NewUnauthorized("invalid credentials")
	}
	if err := op.CanLogin(); err != nil {
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		op.RecordFailedLogin(s.config.MaxLoginAttempts, s.config.LockDuration)
		if updErr := s.repo.Update(ctx, op); updErr != nil {
			logger.Error(ctx, "failed to record login failure", "login", login, "error", updErr)
		}
		return nil, nil, apperror.NewUnauthorized("invalid credentials")
	}

	op.RecordSuccessfulLogin()
	if err := s.repo.Update(ctx, op); err != nil {
		logger.Error(ctx, "failed to record login", "login", login, "error", err)
	}

	accessToken, expiresAt, err := s.jwt.GenerateAccessToken(op)
	if err != nil {
		return nil, nil, apperror.NewInternal(err)
	}
	logger.Info(ctx, "operator logged in", "login", login, "operator_id", op.ID)
	return &Token{AccessToken: accessToken, ExpiresAt: expiresAt}, op, nil
}
