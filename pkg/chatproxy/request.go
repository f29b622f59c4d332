package chatproxy

import "math"

// Message is a single chat turn. Content is assumed to be plain text, the
// same assumption the original service makes when estimating token counts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI-compatible request body. Unknown
// fields are ignored by the decoder (see handler.go), not rejected.
type ChatCompletionRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	N                *int      `json:"n,omitempty"`
	Stop             any       `json:"stop,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	User             string    `json:"user,omitempty"`
}

// estimateTokens implements spec's pre-call estimate:
// Σ(len(message.content) × 0.25) + max_tokens_or_1000, truncated to integer.
// Matching the original's `max_tokens or 1000`, an explicit max_tokens of 0
// is treated as falsy and falls back to 1000, not kept as 0.
func estimateTokens(req ChatCompletionRequest) int64 {
	var contentChars float64
	for _, m := range req.Messages {
		contentChars += float64(len(m.Content))
	}

	maxTokens := 1000
	if req.MaxTokens != nil && *req.MaxTokens != 0 {
		maxTokens = *req.MaxTokens
	}

	return int64(math.Trunc(contentChars*0.25)) + int64(maxTokens)
}

// buildUpstreamBody assembles the whitelisted optional fields plus the
// required model/messages/stream fields. The upstream dialect may further
// strip "model" (deployment-scoped); that happens in upstreamclient, not here.
func buildUpstreamBody(req ChatCompletionRequest) map[string]any {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   req.Stream,
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.N != nil {
		body["n"] = *req.N
	}
	if req.Stop != nil {
		body["stop"] = req.Stop
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.User != "" {
		body["user"] = req.User
	}

	return body
}
