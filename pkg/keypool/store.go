package keypool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const credentialColumns = `
	id, type, sealed_key, endpoint, deployment, api_version, weight, status, notes,
	failure_count, last_failure_at, cooldown_until,
	total_requests, total_tokens, total_errors, created_at, updated_at
`

// Store persists upstream credentials in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore builds a Store over the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func scanCredential(row pgx.CollectableRow) (Credential, error) {
	var c Credential
	err := row.Scan(
		&c.ID, &c.Type, &c.SealedKey, &c.Endpoint, &c.Deployment, &c.APIVersion, &c.Weight, &c.Status, &c.Notes,
		&c.FailureCount, &c.LastFailureAt, &c.CooldownUntil,
		&c.TotalRequests, &c.TotalTokens, &c.TotalErrors, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// ListSelectable returns all credentials of the given type whose status is
// HEALTHY or COOLDOWN, in a stable order (by id) so weighted selection is
// deterministic given the same draw.
func (s *Store) ListSelectable(ctx context.Context, typ CredentialType) ([]Credential, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM upstream_credentials
		WHERE type = $1 AND status IN ('HEALTHY', 'COOLDOWN')
		ORDER BY id
	`, credentialColumns), typ)
	if err != nil {
		return nil, fmt.Errorf("listing selectable credentials: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, scanCredential)
}

// RecoverFromCooldown transitions id from COOLDOWN to HEALTHY if its cooldown
// has elapsed. It is a no-op otherwise.
func (s *Store) RecoverFromCooldown(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE upstream_credentials
		SET status = 'HEALTHY', failure_count = 0, cooldown_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'COOLDOWN' AND cooldown_until <= now()
	`, id)
	if err != nil {
		return fmt.Errorf("recovering credential from cooldown: %w", err)
	}
	return nil
}

// RecordSuccess increments total_requests/total_tokens and clears the
// failure counter, re-arming the breaker.
func (s *Store) RecordSuccess(ctx context.Context, id uuid.UUID, tokens int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE upstream_credentials
		SET total_requests = total_requests + 1,
		    total_tokens = total_tokens + $2,
		    failure_count = 0,
		    updated_at = now()
		WHERE id = $1
	`, id, tokens)
	if err != nil {
		return fmt.Errorf("recording credential success: %w", err)
	}
	return nil
}

// RecordFailureResult reports whether this failure tripped the breaker.
type RecordFailureResult struct {
	Tripped       bool
	CooldownUntil time.Time
}

// RecordFailure increments total_errors/failure_count and, if the new
// failure_count reaches threshold while the credential is still HEALTHY,
// trips the breaker into COOLDOWN for cooldown duration.
func (s *Store) RecordFailure(ctx context.Context, id uuid.UUID, threshold int, cooldown time.Duration) (RecordFailureResult, error) {
	var result RecordFailureResult

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var failureCount int
		var status Status
		err := tx.QueryRow(ctx, `
			UPDATE upstream_credentials
			SET total_errors = total_errors + 1,
			    failure_count = failure_count + 1,
			    last_failure_at = now(),
			    updated_at = now()
			WHERE id = $1
			RETURNING failure_count, status
		`, id).Scan(&failureCount, &status)
		if err != nil {
			return fmt.Errorf("incrementing failure count: %w", err)
		}

		if failureCount >= threshold && status == StatusHealthy {
			cooldownUntil := time.Now().Add(cooldown)
			_, err := tx.Exec(ctx, `
				UPDATE upstream_credentials
				SET status = 'COOLDOWN', cooldown_until = $2, updated_at = now()
				WHERE id = $1
			`, id, cooldownUntil)
			if err != nil {
				return fmt.Errorf("tripping breaker: %w", err)
			}
			result.Tripped = true
			result.CooldownUntil = cooldownUntil
		}

		return nil
	})

	return result, err
}

// Create inserts a new upstream credential and returns its generated id.
func (s *Store) Create(ctx context.Context, c Credential) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO upstream_credentials (type, sealed_key, endpoint, deployment, api_version, weight, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, 'HEALTHY', $7)
		RETURNING id
	`, c.Type, c.SealedKey, c.Endpoint, c.Deployment, c.APIVersion, c.Weight, c.Notes).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating upstream credential: %w", err)
	}
	return id, nil
}
