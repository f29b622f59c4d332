// Package chatproxy implements the request-path pipeline bound to
// POST /v1/chat/completions: admission, authentication, rate limiting,
// quota enforcement, upstream selection, dispatch, relay, and accounting.
package chatproxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/duskrelay/chatproxy/internal/httpserver"
	"github.com/duskrelay/chatproxy/internal/telemetry"
	"github.com/duskrelay/chatproxy/pkg/keypool"
	"github.com/duskrelay/chatproxy/pkg/proxycred"
	"github.com/duskrelay/chatproxy/pkg/ratelimit"
	"github.com/duskrelay/chatproxy/pkg/upstreamclient"
	"github.com/duskrelay/chatproxy/pkg/usage"
	"github.com/duskrelay/chatproxy/pkg/user"
)

// CredentialFinder is the subset of *proxycred.Store the handler depends on,
// kept narrow so tests can supply a fake instead of a live Postgres-backed
// Store, the same way pkg/ratelimit.RedisClient lets tests fake Redis.
type CredentialFinder interface {
	FindActiveByKey(ctx context.Context, key string) (proxycred.Credential, error)
}

// UserGetter is the subset of *user.Store the handler depends on.
type UserGetter interface {
	Get(ctx context.Context, id uuid.UUID) (user.User, error)
}

// Limits carries the global defaults applied when a credential has no
// override.
type Limits struct {
	RPM   int64
	TPM   int64
	IPRPM int64
	IPTPM int64
}

// Handler composes the key pool, rate limiter, upstream client, and usage
// tracker into the request pipeline.
type Handler struct {
	Limiter       *ratelimit.Limiter
	Pool          *keypool.Pool
	Upstream      *upstreamclient.Client
	Tracker       *usage.Tracker
	Credentials   CredentialFinder
	Users         UserGetter
	Limits        Limits
	UpstreamType  keypool.CredentialType
	LogPromptBody bool
	Logger        *slog.Logger
}

// Routes mounts the chat-completions endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/chat/completions", h.handle)
	return r
}

const maxChatBodyBytes = 1 << 20 // 1 MiB

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	clientIP := httpserver.ClientIP(r)

	// 1. IP admission.
	ipRes := h.Limiter.Check(ctx, ratelimit.ScopeIP, orUnknown(clientIP), h.Limits.IPRPM, h.Limits.IPTPM, 0)
	if !ipRes.Allowed {
		respondRateLimited(w, "IP rate limit exceeded", ipRes)
		return
	}

	// 2. Authenticate.
	token, ok := bearerToken(r)
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
		return
	}

	cred, err := h.Credentials.FindActiveByKey(ctx, token)
	if errors.Is(err, proxycred.ErrNotFound) {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid API credential")
		return
	}
	if err != nil {
		h.Logger.Error("looking up proxy credential", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	owner, err := h.Users.Get(ctx, cred.UserID)
	if err != nil {
		h.Logger.Error("loading credential owner", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !owner.IsActive {
		httpserver.RespondError(w, http.StatusForbidden, "user account is inactive")
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	var req ChatCompletionRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		httpserver.RespondError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	estTokens := estimateTokens(req)

	// 3. Per-credential limit.
	rpm, tpm := h.Limits.RPM, h.Limits.TPM
	if cred.RPMOverride != nil {
		rpm = int64(*cred.RPMOverride)
	}
	if cred.TPMOverride != nil {
		tpm = int64(*cred.TPMOverride)
	}
	keyRes := h.Limiter.Check(ctx, ratelimit.ScopeKey, cred.Key, rpm, tpm, estTokens)
	if !keyRes.Allowed {
		respondRateLimited(w, "rate limit exceeded for this API credential", keyRes)
		return
	}

	// 4. Model allow-list.
	if !cred.ModelAllowed(req.Model) {
		httpserver.RespondError(w, http.StatusBadRequest, "model not permitted for this credential")
		return
	}

	// 5. Quota.
	if err := h.Tracker.CheckQuota(ctx, owner.ID, estTokens); err != nil {
		switch {
		case errors.Is(err, usage.ErrQuotaExceeded):
			httpserver.RespondError(w, http.StatusForbidden, "Monthly quota exceeded")
		case errors.Is(err, usage.ErrUserUnavailable):
			httpserver.RespondError(w, http.StatusForbidden, "user account is unavailable")
		default:
			h.Logger.Error("checking quota", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// 6. Select upstream.
	upstreamCred, err := h.Pool.Select(ctx, h.UpstreamType)
	if errors.Is(err, keypool.ErrNoneAvailable) {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "no upstream credential available")
		return
	}
	if err != nil {
		h.Logger.Error("selecting upstream credential", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// 7. Unseal.
	plainKey, err := h.Pool.Unseal(upstreamCred)
	if err != nil {
		h.Logger.Error("unsealing upstream credential", "credential_id", upstreamCred.ID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal error")
		h.account(ctx, cred, owner, upstreamCred, req, clientIP, r.UserAgent(), rawBody, start, outcome{
			StatusCode: http.StatusInternalServerError, ErrorType: "cipher_error", ErrorMessage: err.Error(),
		})
		return
	}

	// 8. Dispatch.
	body := buildUpstreamBody(req)
	events, err := h.Upstream.Send(ctx, plainKey, body, req.Stream)
	if err != nil {
		h.Logger.Error("dispatching upstream request", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream dispatch failed")
		h.account(ctx, cred, owner, upstreamCred, req, clientIP, r.UserAgent(), rawBody, start, outcome{
			StatusCode: http.StatusBadGateway, ErrorType: "upstream_error", ErrorMessage: err.Error(),
		})
		return
	}

	// 9. Relay.
	var out outcome
	if req.Stream {
		out = relayStreaming(ctx, w, events)
	} else {
		out = relayNonStreaming(ctx, w, events)
	}

	// 10. Account.
	h.account(ctx, cred, owner, upstreamCred, req, clientIP, r.UserAgent(), rawBody, start, out)
}

func (h *Handler) account(ctx context.Context, cred proxycred.Credential, owner user.User, upstreamCred keypool.Credential, req ChatCompletionRequest, clientIP, userAgent string, rawBody []byte, start time.Time, out outcome) {
	rec := usage.Record{
		UserID:           owner.ID,
		CredentialID:     cred.ID,
		UpstreamID:       &upstreamCred.ID,
		Model:            req.Model,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		TotalTokens:      out.TotalTokens,
		StatusCode:       out.StatusCode,
		LatencyMS:        time.Since(start).Milliseconds(),
		ClientIP:         clientIP,
		UserAgent:        userAgent,
		ErrorType:        out.ErrorType,
		ErrorMessage:     out.ErrorMessage,
	}
	if h.LogPromptBody {
		s := string(rawBody)
		rec.RequestBody = &s
	}

	if err := h.Tracker.Record(ctx, rec); err != nil {
		h.Logger.Error("recording usage", "error", err)
	}

	if out.ErrorType != "" {
		if err := h.Pool.RecordFailure(ctx, upstreamCred.ID, out.ErrorType); err != nil {
			h.Logger.Error("recording upstream failure", "error", err)
		}
		telemetry.ChatUpstreamFailuresTotal.WithLabelValues(out.ErrorType).Inc()
	} else {
		if err := h.Pool.RecordSuccess(ctx, upstreamCred.ID, out.TotalTokens); err != nil {
			h.Logger.Error("recording upstream success", "error", err)
		}
	}

	telemetry.ChatRequestsTotal.WithLabelValues(strconv.Itoa(out.StatusCode)).Inc()
	telemetry.ChatTokensTotal.WithLabelValues("total").Add(float64(out.TotalTokens))
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func orUnknown(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}
