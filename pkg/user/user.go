// Package user models the account a proxy credential belongs to, along with
// its monthly quota ceilings.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User owns zero or more ProxyCredentials. Usage rows reference it weakly
// and are never cascade-deleted.
type User struct {
	ID          uuid.UUID
	Username    string
	Email       string
	IsActive    bool
	IsAdmin     bool
	QuotaTokens int64
	// QuotaAmount is stored but never enforced; see DESIGN.md.
	QuotaAmount float64
	CreatedAt   time.Time
}

// ErrNotFound is returned when no user matches the given id.
var ErrNotFound = errors.New("user: not found")

// Store persists users in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore builds a Store over the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Get loads a user by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, email, is_active, is_admin, quota_tokens, quota_amount, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.IsActive, &u.IsAdmin, &u.QuotaTokens, &u.QuotaAmount, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user: loading user: %w", err)
	}
	return u, nil
}

// Create inserts a new user.
func (s *Store) Create(ctx context.Context, username, email string, quotaTokens int64, quotaAmount float64) (User, error) {
	u := User{Username: username, Email: email, IsActive: true, QuotaTokens: quotaTokens, QuotaAmount: quotaAmount}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, is_active, is_admin, quota_tokens, quota_amount)
		VALUES ($1, $2, true, false, $3, $4)
		RETURNING id, created_at
	`, username, email, quotaTokens, quotaAmount).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("user: creating user: %w", err)
	}
	return u, nil
}
