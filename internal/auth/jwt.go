package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rvidia/server/internal/model"
)

const (
	tokenIssuer = "gpu-task-manager"
	tokenExpiry = 7 * 24 * time.Hour
	stateExpiry = 10 * time.Minute
)

// ErrInvalidToken is the single failure result of Verify. The cause is wrapped.
var ErrInvalidToken = errors.New("invalid token")

// Payload is the identity carried by a session token
type Payload struct {
	UserID   string
	Email    string
	Role     model.Role
	Username string
	Name     string

	IssuedAt  time.Time
	ExpiresAt time.Time
	// KeyIndex is the position of the secret that verified the token; 0 is the newest.
	KeyIndex int
}

// sessionClaims is the wire form of a session token
type sessionClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// stateClaims carries the requested role through the Google OAuth round trip
type stateClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs session tokens with the newest secret and verifies against all of them
type TokenService struct {
	secrets [][]byte
	now     func() time.Time
}

// NewTokenService creates a token service. secrets is ordered newest first and must not be empty.
func NewTokenService(secrets []string) (*TokenService, error) {
	if len(secrets) == 0 {
		return nil, errors.New("at least one signing secret is required")
	}
	s := &TokenService{now: time.Now}
	for i, secret := range secrets {
		if secret == "" {
			return nil, fmt.Errorf("signing secret %d is empty", i)
		}
		s.secrets = append(s.secrets, []byte(secret))
	}
	return s, nil
}

// Issue creates a signed session token for the user (7-day expiry)
func (s *TokenService) Issue(subject, email string, role model.Role, username, name string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	role, err := model.ParseRole(string(role))
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := &sessionClaims{
		UserID:   subject,
		Email:    email,
		Role:     string(role),
		Username: username,
		Name:     name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secrets[0])
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// IssueUser is Issue for a stored user
func (s *TokenService) IssueUser(u model.User) (string, error) {
	return s.Issue(u.ID.String(), u.Email, u.Role, u.Username, u.DisplayName())
}

// Verify checks signature and expiry. Secrets are tried in order, but only a signature
// mismatch moves on to the next one; expired or malformed tokens fail at once.
func (s *TokenService) Verify(tokenString string) (*Payload, error) {
	var lastErr error
	for i, secret := range s.secrets {
		claims := &sessionClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(secret), s.parserOptions()...)
		if err == nil {
			return toPayload(claims, i)
		}
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, lastErr)
}

// IssueState creates the short-lived OAuth state value carrying the requested role
func (s *TokenService) IssueState(role model.Role) (string, error) {
	now := s.now()
	claims := &stateClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "oauth-state",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secrets[0])
}

// VerifyState returns the role from a state value produced by IssueState
func (s *TokenService) VerifyState(state string) (model.Role, error) {
	claims := &stateClaims{}
	opts := append(s.parserOptions(), jwt.WithSubject("oauth-state"))
	if _, err := jwt.ParseWithClaims(state, claims, keyFunc(s.secrets[0]), opts...); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return role, nil
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}

func toPayload(claims *sessionClaims, keyIndex int) (*Payload, error) {
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	p := &Payload{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Role:     role,
		Username: claims.Username,
		Name:     claims.Name,
		KeyIndex: keyIndex,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
