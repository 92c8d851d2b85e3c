package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rvidia/server/internal/logger"
	"github.com/rvidia/server/internal/mailer"
	"github.com/rvidia/server/internal/model"
	"github.com/rvidia/server/internal/repo"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt input limit
	resetTokenExpiry  = time.Hour
)

var (
	ErrInvalidRole        = model.ErrInvalidRole
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrGoogleUnverified   = errors.New("google email is not verified")
	ErrGoogleMismatch     = errors.New("account is linked to a different google identity")
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernameInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Options are the account policies read from config
type Options struct {
	AllowRoleSelection bool
	AdminEmails        []string
}

// Service orchestrates account operations
type Service struct {
	users  repo.UserRepo
	resets repo.ResetRepo
	tokens *TokenService
	hasher *Hasher
	mail   mailer.Sender
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// NewService creates a new account service
func NewService(
	users repo.UserRepo,
	resets repo.ResetRepo,
	tokens *TokenService,
	hasher *Hasher,
	mail mailer.Sender,
	opts Options,
	log *slog.Logger,
) *Service {
	return &Service{
		users:  users,
		resets: resets,
		tokens: tokens,
		hasher: hasher,
		mail:   mail,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// SignUpInput is the payload of sign-up and admin user creation
type SignUpInput struct {
	Username string
	Email    string
	Password string
	Name     string
	Role     string
}

// SignUp registers a password account and returns it with a session token
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (model.User, string, error) {
	role := model.RoleUser
	if s.opts.AllowRoleSelection && in.Role != "" {
		r, err := model.ParseRole(in.Role)
		if err != nil {
			return model.User{}, "", err
		}
		role = r
	}
	if s.isAdminEmail(in.Email) {
		role = model.RoleAdmin
	}

	u, err := s.create(ctx, in, role)
	if err != nil {
		return model.User{}, "", err
	}
	token, err := s.tokens.IssueUser(u)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}
	s.log.Info("user signed up", "user_id", u.ID, "email", logger.MaskEmail(u.Email), "role", u.Role)
	return u, token, nil
}

// CreateUser is the admin path: the role is taken as given (default user)
func (s *Service) CreateUser(ctx context.Context, in SignUpInput) (model.User, error) {
	role := model.RoleUser
	if in.Role != "" {
		r, err := model.ParseRole(in.Role)
		if err != nil {
			return model.User{}, err
		}
		role = r
	}
	return s.create(ctx, in, role)
}

func (s *Service) create(ctx context.Context, in SignUpInput, role model.Role) (model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return model.User{}, fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if !emailPattern.MatchString(in.Email) {
		return model.User{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if err := checkPassword(in.Password); err != nil {
		return model.User{}, err
	}

	if ok, err := s.UsernameAvailable(ctx, in.Username); err != nil {
		return model.User{}, err
	} else if !ok {
		return model.User{}, ErrUsernameTaken
	}
	if ok, err := s.EmailAvailable(ctx, in.Email); err != nil {
		return model.User{}, err
	} else if !ok {
		return model.User{}, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, err
	}
	name := in.Name
	if name == "" {
		name = in.Username
	}

	u, err := s.users.Create(ctx, model.User{
		Email:        in.Email,
		Username:     in.Username,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		// lost a race with a concurrent sign-up
		if errors.Is(err, repo.ErrEmailConflict) {
			return model.User{}, ErrEmailTaken
		}
		if errors.Is(err, repo.ErrConflict) {
			return model.User{}, ErrUsernameTaken
		}
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// SignIn authenticates by email or username. Unknown user and wrong password are indistinguishable.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (model.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return model.User{}, "", fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}

	u, err := s.users.GetByEmail(ctx, identifier)
	if errors.Is(err, repo.ErrNotFound) {
		u, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, "", ErrInvalidCredentials
		}
		return model.User{}, "", fmt.Errorf("failed to load user: %w", err)
	}

	if !s.hasher.Check(u.PasswordHash, password) {
		return model.User{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.IssueUser(u)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return u, token, nil
}

// LoginWithGoogle finds or creates the account for a Google profile and links the Google ID.
// requestedRole only applies to newly created accounts and only when role selection is allowed.
func (s *Service) LoginWithGoogle(ctx context.Context, p GoogleProfile, requestedRole model.Role) (model.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if !p.VerifiedEmail {
		return model.User{}, "", ErrGoogleUnverified
	}

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		role := model.RoleUser
		if s.opts.AllowRoleSelection && requestedRole != "" {
			role = requestedRole
		}
		if s.isAdminEmail(email) {
			role = model.RoleAdmin
		}
		u, err = s.createGoogleUser(ctx, p, email, role)
		if err != nil {
			return model.User{}, "", err
		}
		s.log.Info("user created from google", "user_id", u.ID, "email", logger.MaskEmail(email))
	case err != nil:
		return model.User{}, "", fmt.Errorf("failed to load user: %w", err)
	case u.GoogleID == nil:
		if err := s.users.LinkGoogle(ctx, u.ID, p.ID); err != nil {
			return model.User{}, "", fmt.Errorf("failed to link google account: %w", err)
		}
		u.GoogleID = &p.ID
	case *u.GoogleID != p.ID:
		s.log.Warn("google id mismatch", "user_id", u.ID, "email", logger.MaskEmail(email))
		return model.User{}, "", ErrGoogleMismatch
	}

	token, err := s.tokens.IssueUser(u)
	if err != nil {
		return model.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return u, token, nil
}

func (s *Service) createGoogleUser(ctx context.Context, p GoogleProfile, email string, role model.Role) (model.User, error) {
	base := usernameBase(email)
	username := base
	for attempt := 0; attempt < 5; attempt++ {
		ok, err := s.UsernameAvailable(ctx, username)
		if err != nil {
			return model.User{}, err
		}
		if ok {
			googleID := p.ID
			name := p.Name
			if name == "" {
				name = username
			}
			u, err := s.users.Create(ctx, model.User{
				Email:    email,
				Username: username,
				Name:     name,
				GoogleID: &googleID,
				Role:     role,
			})
			if err == nil {
				return u, nil
			}
			if !errors.Is(err, repo.ErrConflict) {
				return model.User{}, fmt.Errorf("failed to create user: %w", err)
			}
		}
		username = base + randomSuffix()
	}
	return model.User{}, fmt.Errorf("could not find a free username for %s", logger.MaskEmail(email))
}

// CurrentUser loads the fresh user row behind a session
func (s *Service) CurrentUser(ctx context.Context, p *Payload) (model.User, error) {
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return model.User{}, ErrUserNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

// RequestPasswordReset replaces the user's reset token, emails it and returns it
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	token, hash, err := generateResetToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(resetTokenExpiry)
	if err := s.resets.Replace(ctx, u.ID, hash, expiresAt); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	if err := s.mail.SendPasswordReset(ctx, u.Email, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token and sets the new password
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return fmt.Errorf("%w: token and password are required", ErrInvalidInput)
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	// hash first so a failure leaves the token usable
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.resets.Consume(ctx, hashResetToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password reset", "user_id", userID)
	return nil
}

func checkPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(pw) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

// UsernameAvailable reports whether no account uses username (case-insensitive)
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	_, err := s.users.GetByUsername(ctx, username)
	return available(err)
}

// EmailAvailable reports whether no account uses email
func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	_, err := s.users.GetByEmail(ctx, email)
	return available(err)
}

func available(lookupErr error) (bool, error) {
	switch {
	case lookupErr == nil:
		return false, nil
	case errors.Is(lookupErr, repo.ErrNotFound):
		return true, nil
	default:
		return false, fmt.Errorf("failed to check availability: %w", lookupErr)
	}
}

func (s *Service) isAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, admin := range s.opts.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(admin), email) {
			return true
		}
	}
	return false
}

// usernameBase turns "John.Doe+x@example.com" into "john_doe_x"
func usernameBase(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := strings.Trim(usernameInvalid.ReplaceAllString(strings.ToLower(local), "_"), "_")
	if base == "" {
		base = "user"
	}
	return base
}

func randomSuffix() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano()%1000000)
	}
	return hex.EncodeToString(b)
}
