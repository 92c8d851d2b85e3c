package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rvidia/server/internal/model"
)

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write
	ErrConflict = errors.New("conflict")
	// ErrEmailConflict is the ErrConflict raised by the users email constraint
	ErrEmailConflict = fmt.Errorf("email %w", ErrConflict)
)

const usersEmailConstraint = "users_email_key"

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	LinkGoogle(ctx context.Context, id uuid.UUID, googleID string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	List(ctx context.Context) ([]model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, username, name, password_hash, google_id, role, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u        model.User
		idStr    string
		role     string
		googleID sql.NullString
	)
	if err := row.Scan(&idStr, &u.Email, &u.Username, &u.Name, &u.PasswordHash, &googleID, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	u.ID = id
	if u.Role, err = model.ParseRole(role); err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", idStr, err)
	}
	if googleID.Valid {
		u.GoogleID = &googleID.String
	}
	return u, nil
}

func (r *userRepo) getOne(ctx context.Context, where string, arg any) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByEmail retrieves a user by email (emails are stored lower-case)
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// GetByUsername retrieves a user by username, ignoring case
func (r *userRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.getOne(ctx, `lower(username) = lower($1)`, strings.TrimSpace(username))
}

// Create inserts a user and returns it with generated ID and timestamps
func (r *userRepo) Create(ctx context.Context, u model.User) (model.User, error) {
	var googleID sql.NullString
	if u.GoogleID != nil {
		googleID = sql.NullString{String: *u.GoogleID, Valid: true}
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, username, name, password_hash, google_id, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(u.Email)), u.Username, u.Name, u.PasswordHash, googleID, string(u.Role),
	)
	created, err := scanUser(row)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return model.User{}, fmt.Errorf("insert user: %w", conflict)
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// LinkGoogle stores the Google account ID on an existing user
func (r *userRepo) LinkGoogle(ctx context.Context, id uuid.UUID, googleID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET google_id = $2, updated_at = now() WHERE id = $1
	`, id, googleID)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return fmt.Errorf("link google account: %w", conflict)
		}
		return fmt.Errorf("link google account: %w", err)
	}
	return expectOneRow(result, "user")
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(result, "user")
}

// List returns all users, newest first
func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func expectOneRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// uniqueConflict maps a unique violation to ErrEmailConflict or ErrConflict; nil for any other error
func uniqueConflict(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	if pqErr.Constraint == usersEmailConstraint {
		return ErrEmailConflict
	}
	return ErrConflict
}
