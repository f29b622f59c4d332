// Package usage records per-request accounting and enforces monthly token
// quotas, writing audit rows and rollups transactionally.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duskrelay/chatproxy/internal/telemetry"
)

var tracer = telemetry.Tracer("chatproxy/usage")

// Record is one append-only audit row.
type Record struct {
	UserID           uuid.UUID
	CredentialID     uuid.UUID
	UpstreamID       *uuid.UUID
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	StatusCode       int
	LatencyMS        int64
	ClientIP         string
	UserAgent        string
	RequestBody      *string
	ErrorType        string
	ErrorMessage     string
}

// Tracker writes usage records and rollups and answers quota checks.
type Tracker struct {
	db *pgxpool.Pool
}

// New builds a Tracker over the given pool.
func New(db *pgxpool.Pool) *Tracker {
	return &Tracker{db: db}
}

// ErrQuotaExceeded is returned by CheckQuota when the projected usage would
// exceed the user's monthly token ceiling.
var ErrQuotaExceeded = errors.New("usage: monthly quota exceeded")

// ErrUserUnavailable is returned by CheckQuota when the user is missing or
// inactive.
var ErrUserUnavailable = errors.New("usage: user missing or inactive")

// CheckQuota loads the user and current month's rollup, rejecting when the
// user is missing/inactive or when current usage plus estTokens would
// exceed quota_tokens. quota_amount is intentionally not compared here: see
// DESIGN.md.
func (t *Tracker) CheckQuota(ctx context.Context, userID uuid.UUID, estTokens int64) error {
	var isActive bool
	var quotaTokens int64
	err := t.db.QueryRow(ctx, `SELECT is_active, quota_tokens FROM users WHERE id = $1`, userID).Scan(&isActive, &quotaTokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserUnavailable
	}
	if err != nil {
		return fmt.Errorf("usage: loading user: %w", err)
	}
	if !isActive {
		return ErrUserUnavailable
	}

	year, month, _ := time.Now().UTC().Date()
	var currentTokens int64
	err = t.db.QueryRow(ctx, `
		SELECT total_tokens FROM usage_monthly WHERE user_id = $1 AND year = $2 AND month = $3
	`, userID, year, int(month)).Scan(&currentTokens)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("usage: loading monthly rollup: %w", err)
	}

	if !quotaAllows(currentTokens, estTokens, quotaTokens) {
		return ErrQuotaExceeded
	}
	return nil
}

func quotaAllows(currentTokens, estTokens, quotaTokens int64) bool {
	return currentTokens+estTokens <= quotaTokens
}

// Record appends an audit row and upserts the day/month rollups for
// r.UserID in a single transaction. The pipeline calls it on every outcome
// once an upstream credential has been selected, including failures with zero
// tokens; requests rejected before selection are not recorded. On upsert
// conflict it retries the
// transaction once; on persistent failure the whole transaction (including
// the audit row) is rolled back so records never exist without their
// rollup increment.
func (t *Tracker) Record(ctx context.Context, r Record) error {
	ctx, span := tracer.Start(ctx, "usage.record", trace.WithAttributes(
		attribute.String("user_id", r.UserID.String()),
		attribute.Int("status_code", r.StatusCode),
		attribute.Int64("total_tokens", r.TotalTokens),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = t.recordOnce(ctx, r)
		if lastErr == nil {
			return nil
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return fmt.Errorf("usage: recording usage after retry: %w", lastErr)
}

func (t *Tracker) recordOnce(ctx context.Context, r Record) error {
	now := time.Now().UTC()
	year, month, day := now.Date()

	return pgx.BeginFunc(ctx, t.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_records (
				user_id, credential_id, upstream_id, model,
				prompt_tokens, completion_tokens, total_tokens,
				status_code, latency_ms, client_ip, user_agent,
				request_body, error_type, error_message, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, r.UserID, r.CredentialID, r.UpstreamID, r.Model,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens,
			r.StatusCode, r.LatencyMS, r.ClientIP, r.UserAgent,
			r.RequestBody, nullIfEmpty(r.ErrorType), nullIfEmpty(r.ErrorMessage), now)
		if err != nil {
			return fmt.Errorf("inserting usage record: %w", err)
		}

		dayKey := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		_, err = tx.Exec(ctx, `
			INSERT INTO usage_daily (user_id, day, total_requests, total_tokens)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (user_id, day) DO UPDATE SET
				total_requests = usage_daily.total_requests + 1,
				total_tokens = usage_daily.total_tokens + EXCLUDED.total_tokens
		`, r.UserID, dayKey, r.TotalTokens)
		if err != nil {
			return fmt.Errorf("upserting daily rollup: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO usage_monthly (user_id, year, month, total_requests, total_tokens)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (user_id, year, month) DO UPDATE SET
				total_requests = usage_monthly.total_requests + 1,
				total_tokens = usage_monthly.total_tokens + EXCLUDED.total_tokens
		`, r.UserID, year, int(month), r.TotalTokens)
		if err != nil {
			return fmt.Errorf("upserting monthly rollup: %w", err)
		}

		return nil
	})
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
