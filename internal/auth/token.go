package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/auth-service/internal/domain"
)

// MinSecretBytes is the shortest secret accepted for HMAC-SHA256 signing.
const MinSecretBytes = 32

// ErrMalformedToken covers structurally invalid tokens and signature
// mismatches. Anything that fails before the expiry check lands here.
var ErrMalformedToken = errors.New("token is malformed")

// ExpiredTokenError reports a structurally valid, correctly signed token
// whose lifetime has elapsed. IssuedAt and ExpiresAt are kept for client
// diagnostics.
type ExpiredTokenError struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("token expired at %s (issued %s)",
		e.ExpiresAt.UTC().Format(time.RFC3339), e.IssuedAt.UTC().Format(time.RFC3339))
}

// TokenManager issues and validates signed bearer tokens. Validation is a
// pure function of the token string, the signing secret, and the clock;
// the manager holds no mutable state and is safe for concurrent use.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration

	now func() time.Time
}

// NewTokenManager builds a manager. Short secrets are rejected here so a
// bad AUTH_JWT_SECRET aborts startup instead of failing per request.
func NewTokenManager(secret string, ttl, skew time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretBytes, len(secret))
	}
	if skew < 0 {
		skew = 0
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, skew: skew, now: time.Now}, nil
}

// Claims describes the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue builds and signs a token for a verified identity. The subject is
// the identity's email; role is carried as a custom claim.
func (tm *TokenManager) Issue(user *domain.User) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Validate parses and verifies a token. Structure and signature are checked
// first, then expiry with the configured clock-skew allowance. The skew is
// applied to the expiry boundary only; issuance time is not re-validated.
func (tm *TokenManager) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, tm.keyFunc,
		jwt.WithLeeway(tm.skew),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, tm.expiredError(claims)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// ExtractSubject reads the subject claim after verifying the signature,
// without applying expiry rules. Used where only identity linkage matters.
func (tm *TokenManager) ExtractSubject(tokenStr string) (string, error) {
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, tm.keyFunc, jwt.WithoutClaimsValidation()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims.Subject, nil
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("unexpected signing method")
	}
	return tm.secret, nil
}

func (tm *TokenManager) expiredError(claims *Claims) error {
	expErr := &ExpiredTokenError{}
	if claims.IssuedAt != nil {
		expErr.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		expErr.ExpiresAt = claims.ExpiresAt.Time
	}
	return expErr
}
