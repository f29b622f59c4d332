package chatproxy

import (
	"net/http"

	"github.com/duskrelay/chatproxy/internal/httpserver"
	"github.com/duskrelay/chatproxy/pkg/ratelimit"
)

type rateLimitErrorDetail struct {
	Message           string `json:"message"`
	Type              string `json:"type"`
	Code              string `json:"code"`
	RemainingRequests int64  `json:"remaining_requests"`
	RemainingTokens   int64  `json:"remaining_tokens"`
	ResetInSeconds    int64  `json:"reset_in_seconds"`
}

type rateLimitErrorEnvelope struct {
	Error rateLimitErrorDetail `json:"error"`
}

// respondRateLimited writes the spec's special 429 envelope, distinct from
// the generic {"detail": ...} shape every other error status uses.
func respondRateLimited(w http.ResponseWriter, message string, res ratelimit.Result) {
	httpserver.Respond(w, http.StatusTooManyRequests, rateLimitErrorEnvelope{
		Error: rateLimitErrorDetail{
			Message:           message,
			Type:              "rate_limit_error",
			Code:              "rate_limit_exceeded",
			RemainingRequests: res.RemainingRequests,
			RemainingTokens:   res.RemainingTokens,
			ResetInSeconds:    res.ResetInSeconds,
		},
	})
}
