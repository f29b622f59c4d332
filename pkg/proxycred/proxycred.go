// Package proxycred manages caller-facing proxy credentials: opaque
// sk-proxy-… secrets resolved by exact match, carrying optional model
// allow-lists and per-credential rate-limit overrides.
package proxycred

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keyPrefix = "sk-proxy-"

// Credential is the caller-facing secret. Unlike the teacher's hashed
// API-key convention, Credential.Key is stored and looked up as plaintext:
// the original service resolves bearer credentials by an exact-match query,
// not a hash comparison (see DESIGN.md).
type Credential struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Key           string
	Name          string
	IsActive      bool
	AllowedModels []string // nil means no restriction
	RPMOverride   *int
	TPMOverride   *int
	CreatedAt     time.Time
}

// Generate produces a new sk-proxy-… secret with at least 32 bytes of
// URL-safe random entropy in the suffix.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("proxycred: generating key: %w", err)
	}
	suffix := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
	return keyPrefix + suffix, nil
}

// Store persists proxy credentials in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore builds a Store over the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// FindActiveByKey resolves a bearer credential by exact match, returning
// only active credentials.
func (s *Store) FindActiveByKey(ctx context.Context, key string) (Credential, error) {
	var c Credential
	var allowedModelsJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, key, name, is_active, allowed_models, rpm_override, tpm_override, created_at
		FROM proxy_credentials
		WHERE key = $1 AND is_active = true
	`, key).Scan(&c.ID, &c.UserID, &c.Key, &c.Name, &c.IsActive, &allowedModelsJSON, &c.RPMOverride, &c.TPMOverride, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("proxycred: looking up credential: %w", err)
	}

	if len(allowedModelsJSON) > 0 {
		if err := json.Unmarshal(allowedModelsJSON, &c.AllowedModels); err != nil {
			return Credential{}, fmt.Errorf("proxycred: decoding allowed_models: %w", err)
		}
	}

	return c, nil
}

// ErrNotFound is returned when no active credential matches the given key.
var ErrNotFound = errors.New("proxycred: credential not found or inactive")

// ModelAllowed reports whether model is permitted by c's allow-list. An
// empty/nil allow-list permits every model.
func (c Credential) ModelAllowed(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// Create inserts a new proxy credential with a freshly generated key and
// returns it, including its generated id.
func (s *Store) Create(ctx context.Context, userID uuid.UUID, name string, allowedModels []string, rpmOverride, tpmOverride *int) (Credential, error) {
	key, err := Generate()
	if err != nil {
		return Credential{}, err
	}

	var allowedJSON []byte
	if len(allowedModels) > 0 {
		allowedJSON, err = json.Marshal(allowedModels)
		if err != nil {
			return Credential{}, fmt.Errorf("proxycred: encoding allowed_models: %w", err)
		}
	}

	c := Credential{UserID: userID, Key: key, Name: name, IsActive: true, AllowedModels: allowedModels, RPMOverride: rpmOverride, TPMOverride: tpmOverride}
	err = s.db.QueryRow(ctx, `
		INSERT INTO proxy_credentials (user_id, key, name, is_active, allowed_models, rpm_override, tpm_override)
		VALUES ($1, $2, $3, true, $4, $5, $6)
		RETURNING id, created_at
	`, userID, key, name, allowedJSON, rpmOverride, tpmOverride).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Credential{}, fmt.Errorf("proxycred: creating credential: %w", err)
	}

	return c, nil
}
