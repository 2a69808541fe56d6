package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller for a single request. It is
// derived from the token and a fresh store lookup, and discarded with the
// request.
type Principal struct {
	User  *domain.User
	Email string
	Role  string
}

// Gate intercepts every inbound request. Public routes pass through per the
// access policy; protected routes must present a bearer token that verifies,
// has not expired, and whose subject still resolves to a stored identity.
type Gate struct {
	tokens *TokenManager
	users  repository.UserRepository
	policy *AccessPolicy
	logger *zap.Logger
}

// NewGate constructs the request gate.
func NewGate(tokens *TokenManager, users repository.UserRepository, policy *AccessPolicy, logger *zap.Logger) *Gate {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Gate{tokens: tokens, users: users, policy: policy, logger: logger}
}

// Handle enforces the access policy for the request path.
func (g *Gate) Handle(c *fiber.Ctx) error {
	if g.policy.RequirementFor(c.Path()) == RequirePublic {
		return c.Next()
	}

	tokenStr, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return g.reject(c, "", apperrors.NewUnauthenticated("missing bearer token"))
	}

	claims, err := g.tokens.Validate(tokenStr)
	if err != nil {
		var expired *ExpiredTokenError
		if errors.As(err, &expired) {
			subject, _ := g.tokens.ExtractSubject(tokenStr)
			return g.reject(c, subject, apperrors.NewExpiredToken(expired.IssuedAt, expired.ExpiresAt))
		}
		return g.reject(c, "", apperrors.NewMalformedToken())
	}

	// The subject is re-resolved on every request: a token for a deleted
	// identity is rejected, and role changes take effect immediately.
	user, err := g.users.GetByEmail(c.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return g.reject(c, claims.Subject, apperrors.NewUnauthenticated("unknown subject"))
		}
		return g.reject(c, claims.Subject, apperrors.NewStoreUnavailable(err))
	}

	c.Locals(principalKey, &Principal{User: user, Email: user.Email, Role: user.Role})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller, if any.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// bearerToken extracts the credential from an Authorization header value.
// A missing header or a non-Bearer scheme both read as "no token".
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (g *Gate) reject(c *fiber.Ctx, subject string, err error) error {
	if g.logger != nil {
		fields := []zap.Field{
			zap.String("route", c.Path()),
			zap.String("method", c.Method()),
			zap.String("code", apperrors.ToDomainError(err).Code),
		}
		if subject != "" {
			fields = append(fields, zap.String("subject", subject))
		}
		g.logger.Warn("request rejected", fields...)
	}
	return err
}
