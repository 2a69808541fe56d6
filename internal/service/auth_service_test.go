package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
	err   error
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*domain.User)}
}

func (r *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.users[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	user.ID = user.Email
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.Email] = &clone
	return nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	user, ok := r.users[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (r *memoryUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.users[email]
	return ok, nil
}

func (r *memoryUserRepo) List(_ context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, *user)
	}
	return out, nil
}

type capturingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *capturingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *capturingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *capturingDispatcher) ofType(eventType events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, event := range d.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func newTestService(t *testing.T, repo repository.UserRepository, limiter *auth.AttemptLimiter) (*AuthService, *capturingDispatcher) {
	t.Helper()

	tokens, err := auth.NewTokenManager(testSecret, time.Hour, time.Minute)
	require.NoError(t, err)

	dispatcher := &capturingDispatcher{}
	cfg := config.Config{Auth: config.AuthConfig{BcryptCost: bcrypt.MinCost}}

	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:     repo,
		TokenManager: tokens,
		Limiter:      limiter,
		Dispatcher:   dispatcher,
		Logger:       zap.NewNop(),
	})
	return svc, dispatcher
}

func errorCode(err error) string {
	return apperrors.ToDomainError(err).Code
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, dispatcher := newTestService(t, repo, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "USER", user.Role)
	assert.NotEqual(t, "longenough1", user.PasswordHash)
	assert.NoError(t, auth.ComparePassword(user.PasswordHash, "longenough1"))

	token, expiresAt, err := svc.Login(ctx, "a@x.com", "longenough1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	tokens, err := auth.NewTokenManager(testSecret, time.Hour, time.Minute)
	require.NoError(t, err)
	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)
	assert.Equal(t, "USER", claims.Role)

	assert.Len(t, dispatcher.ofType(events.EventUserRegistered), 1)
	assert.Len(t, dispatcher.ofType(events.EventLoginSucceeded), 1)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, dispatcher := newTestService(t, repo, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)

	_, _, unknownErr := svc.Login(ctx, "nobody@x.com", "whatever123")
	_, _, wrongPwErr := svc.Login(ctx, "a@x.com", "wrongpassword")

	require.Error(t, unknownErr)
	require.Error(t, wrongPwErr)
	assert.Equal(t, apperrors.CodeInvalidCredentials, errorCode(unknownErr))
	assert.Equal(t, apperrors.CodeInvalidCredentials, errorCode(wrongPwErr))
	// Externally indistinguishable: same message either way.
	assert.Equal(t, unknownErr.Error(), wrongPwErr.Error())

	assert.Len(t, dispatcher.ofType(events.EventLoginFailed), 2)
}

func TestLoginStoreOutageIsNotInvalidCredentials(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)

	repo.err = errors.New("connection refused")
	_, _, err = svc.Login(ctx, "a@x.com", "longenough1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStoreUnavailable, errorCode(err))
}

func TestRegisterDuplicate(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "a@x.com", "different123", "ADMIN")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDuplicateIdentity, errorCode(err))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, "USER", users[0].Role)
}

func TestRegisterDuplicateLostRaceSurfacesConflict(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, nil)
	ctx := context.Background()

	// Simulate losing the race: the existence probe saw nothing, but the
	// insert hits an existing row.
	_, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)
	repo.mu.Lock()
	stored := repo.users["a@x.com"]
	repo.mu.Unlock()

	err = repo.Create(ctx, &domain.User{Email: "a@x.com", PasswordHash: "other", Role: "ADMIN"})
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	repo.mu.Lock()
	assert.Same(t, stored, repo.users["a@x.com"])
	repo.mu.Unlock()
}

func TestRegisterAcceptsFreeTextRole(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, nil)

	user, err := svc.Register(context.Background(), "a@x.com", "longenough1", "night-auditor")
	require.NoError(t, err)
	assert.Equal(t, "night-auditor", user.Role)
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := auth.NewAttemptLimiter(client, 2, time.Minute)

	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, limiter)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "a@x.com", "bad")
	assert.Equal(t, apperrors.CodeInvalidCredentials, errorCode(err))
	_, _, err = svc.Login(ctx, "a@x.com", "bad")
	assert.Equal(t, apperrors.CodeInvalidCredentials, errorCode(err))

	_, _, err = svc.Login(ctx, "a@x.com", "bad")
	assert.Equal(t, apperrors.CodeRateLimited, errorCode(err))
}

func TestLoginLimiterOutageFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := auth.NewAttemptLimiter(client, 2, time.Minute)
	mr.Close()

	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, limiter)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "longenough1", "USER")
	require.NoError(t, err)

	// Redis is gone; login still works.
	_, _, err = svc.Login(ctx, "a@x.com", "longenough1")
	assert.NoError(t, err)
}

func TestListUsersStoreOutage(t *testing.T) {
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, nil)

	repo.err = errors.New("connection refused")
	_, err := svc.ListUsers(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStoreUnavailable, errorCode(err))
}
