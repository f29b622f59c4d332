// Package keypool owns the lifecycle of upstream credentials: weighted
// selection among healthy entries and the per-credential circuit breaker.
package keypool

import (
	"time"

	"github.com/google/uuid"
)

// CredentialType distinguishes the two upstream dialects a credential can
// speak (see pkg/upstreamclient).
type CredentialType string

const (
	TypeNative           CredentialType = "native"
	TypeDeploymentScoped CredentialType = "deployment-scoped"
)

// Status is the circuit-breaker state of an upstream credential.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusCooldown Status = "COOLDOWN"
	StatusDisabled Status = "DISABLED"
)

// Credential is an upstream-vendor secret, sealed at rest, along with its
// circuit-breaker bookkeeping.
type Credential struct {
	ID        uuid.UUID
	Type      CredentialType
	SealedKey string

	// Deployment-scoped fields; empty for Type==TypeNative.
	Endpoint   string
	Deployment string
	APIVersion string

	Weight int
	Status Status
	Notes  string

	FailureCount  int
	LastFailureAt *time.Time
	CooldownUntil *time.Time

	TotalRequests int64
	TotalTokens   int64
	TotalErrors   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
