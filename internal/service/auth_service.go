package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenManager
	limiter    *auth.AttemptLimiter
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates collaborator requirements for the service.
type AuthDependencies struct {
	UserRepo     repository.UserRepository
	TokenManager *auth.TokenManager
	Limiter      *auth.AttemptLimiter
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		tokens:     deps.TokenManager,
		limiter:    deps.Limiter,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// Login verifies credentials and issues a signed token. An unknown email and
// a wrong password both return the same invalid-credentials error so the
// response does not reveal which identifiers exist. Store failures surface
// as store errors, never as bad credentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	if err := s.enforceLimit(ctx, "login", email); err != nil {
		return "", time.Time{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.publish(ctx, events.EventLoginFailed, email, events.LoginFailedPayload{Reason: "unknown identifier"})
			return "", time.Time{}, apperrors.NewInvalidCredentials()
		}
		return "", time.Time{}, apperrors.NewStoreUnavailable(err)
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.publish(ctx, events.EventLoginFailed, email, events.LoginFailedPayload{Reason: "password mismatch"})
		return "", time.Time{}, apperrors.NewInvalidCredentials()
	}

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}

	if err := s.limiter.Reset(ctx, "login", email); err != nil && s.logger != nil {
		s.logger.Warn("failed to reset attempt counter", zap.Error(err))
	}
	s.publish(ctx, events.EventLoginSucceeded, email, nil)

	return token, expiresAt, nil
}

// Register creates a new identity. The role string is stored as given; no
// allow-list is applied. Uniqueness is enforced by the store's conditional
// insert, so concurrent duplicate registrations leave exactly one row.
func (s *AuthService) Register(ctx context.Context, email, password, role string) (*domain.User, error) {
	if err := s.enforceLimit(ctx, "register", email); err != nil {
		return nil, err
	}

	// Fast-path check; the insert below remains the authority.
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if exists {
		return nil, apperrors.NewDuplicateIdentity(email)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewDuplicateIdentity(email)
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}

	s.publish(ctx, events.EventUserRegistered, email, events.UserRegisteredPayload{Role: role})

	return user, nil
}

// ListUsers returns all identities. Authorization is the request gate's
// job; this method trusts it already ran.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return users, nil
}

// enforceLimit applies the attempt limiter. A limiter outage fails open:
// throttling is protection, not a dependency of the login path.
func (s *AuthService) enforceLimit(ctx context.Context, kind, email string) error {
	err := s.limiter.Enforce(ctx, kind, email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrTooManyAttempts):
		return apperrors.NewRateLimited()
	default:
		if s.logger != nil {
			s.logger.Warn("attempt limiter unavailable", zap.String("kind", kind), zap.Error(err))
		}
		return nil
	}
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, subject string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
