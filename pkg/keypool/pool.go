package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duskrelay/chatproxy/internal/telemetry"
	"github.com/duskrelay/chatproxy/pkg/cipher"
)

var tracer = telemetry.Tracer("chatproxy/keypool")

// Pool selects and drives the breaker over a set of upstream credentials.
type Pool struct {
	store            *Store
	cipher           *cipher.Cipher
	logger           *slog.Logger
	failureThreshold int
	cooldownDuration time.Duration
	rand             *rand.Rand
}

// New builds a Pool. failureThreshold and cooldown mirror
// CIRCUIT_BREAKER_FAILURE_THRESHOLD / CIRCUIT_BREAKER_COOLDOWN_SECONDS.
func New(store *Store, c *cipher.Cipher, logger *slog.Logger, failureThreshold int, cooldown time.Duration) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:            store,
		cipher:           c,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownDuration: cooldown,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ErrNoneAvailable is returned by Select when no HEALTHY credential of the
// requested type exists.
var ErrNoneAvailable = fmt.Errorf("keypool: no healthy upstream credential available")

// Select queries all candidates of typ, lazily recovers any COOLDOWN entries
// whose cooldown has elapsed, then picks one HEALTHY credential by weighted
// random draw. Ties are broken by the stable (id-ordered) walk order.
func (p *Pool) Select(ctx context.Context, typ CredentialType) (Credential, error) {
	ctx, span := tracer.Start(ctx, "keypool.select", trace.WithAttributes(
		attribute.String("credential_type", string(typ)),
	))
	defer span.End()

	candidates, err := p.store.ListSelectable(ctx, typ)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Credential{}, err
	}

	healthy := make([]Credential, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == StatusCooldown && c.CooldownUntil != nil && !c.CooldownUntil.After(time.Now()) {
			if err := p.store.RecoverFromCooldown(ctx, c.ID); err != nil {
				p.logger.Error("recovering credential from cooldown", "credential_id", c.ID, "error", err)
				continue
			}
			telemetry.KeypoolBreakerTransitionsTotal.WithLabelValues("HEALTHY").Inc()
			c.Status = StatusHealthy
			c.FailureCount = 0
			c.CooldownUntil = nil
		}
		if c.Status == StatusHealthy {
			healthy = append(healthy, c)
		}
	}

	if len(healthy) == 0 {
		span.RecordError(ErrNoneAvailable)
		span.SetStatus(codes.Error, ErrNoneAvailable.Error())
		return Credential{}, ErrNoneAvailable
	}

	picked := p.weightedPick(healthy)
	span.SetAttributes(attribute.String("credential_id", picked.ID.String()))
	return picked, nil
}

func (p *Pool) weightedPick(healthy []Credential) Credential {
	var total int64
	for _, c := range healthy {
		total += int64(c.Weight)
	}

	if total == 0 {
		return healthy[p.rand.Intn(len(healthy))]
	}

	draw := p.rand.Int63n(total)
	var cumulative int64
	for _, c := range healthy {
		cumulative += int64(c.Weight)
		if draw < cumulative {
			return c
		}
	}
	// Unreachable given draw < total.
	return healthy[len(healthy)-1]
}

// RecordSuccess notifies the pool of a clean completion.
func (p *Pool) RecordSuccess(ctx context.Context, id uuid.UUID, tokens int64) error {
	return p.store.RecordSuccess(ctx, id, tokens)
}

// RecordFailure notifies the pool of an attributable failure. It may trip
// the breaker into COOLDOWN.
func (p *Pool) RecordFailure(ctx context.Context, id uuid.UUID, errorType string) error {
	result, err := p.store.RecordFailure(ctx, id, p.failureThreshold, p.cooldownDuration)
	if err != nil {
		return err
	}
	if result.Tripped {
		telemetry.KeypoolBreakerTransitionsTotal.WithLabelValues("COOLDOWN").Inc()
		p.logger.Warn("upstream credential breaker tripped",
			"credential_id", id, "error_type", errorType, "cooldown_until", result.CooldownUntil)
	}
	return nil
}

// Unseal decrypts a credential's sealed key, delegating to the key cipher.
func (p *Pool) Unseal(c Credential) (string, error) {
	plaintext, err := p.cipher.Unseal(c.SealedKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
