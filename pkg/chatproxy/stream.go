package chatproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duskrelay/chatproxy/pkg/upstreamclient"
)

// outcome summarizes how the relay step resolved, for accounting.
type outcome struct {
	StatusCode       int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	ErrorType        string
	ErrorMessage     string
}

type usagePayload struct {
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func extractUsage(data json.RawMessage) (prompt, completion, total int64, ok bool) {
	var p usagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Usage == nil {
		return 0, 0, 0, false
	}
	return p.Usage.PromptTokens, p.Usage.CompletionTokens, p.Usage.TotalTokens, true
}

// relayStreaming writes SSE headers, then re-emits each data event as
// data: {json}\n\n, stopping on done or error. Per spec, accounting MUST
// occur after the response is fully committed to the wire, so this function
// does not write the usage record itself; it returns what the caller needs
// to do so.
func relayStreaming(ctx context.Context, w http.ResponseWriter, events <-chan upstreamclient.Event) outcome {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	var out outcome
	out.StatusCode = http.StatusOK

	for evt := range events {
		switch evt.Kind {
		case upstreamclient.EventData:
			fmt.Fprintf(w, "data: %s\n\n", evt.Data)
			if flusher != nil {
				flusher.Flush()
			}
			if p, c, t, ok := extractUsage(evt.Data); ok {
				out.PromptTokens, out.CompletionTokens, out.TotalTokens = p, c, t
			}
		case upstreamclient.EventDone:
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return out
		case upstreamclient.EventError:
			out.ErrorType = "upstream_error"
			out.ErrorMessage = string(evt.Data)
			if evt.StatusCode > 0 {
				out.StatusCode = evt.StatusCode
			} else {
				out.StatusCode = http.StatusBadGateway
			}
			fmt.Fprintf(w, "data: %s\n\n", errorEnvelope(evt))
			if flusher != nil {
				flusher.Flush()
			}
			return out
		}
	}

	if ctx.Err() != nil && out.ErrorType == "" {
		out.ErrorType = "client_disconnect"
	}
	return out
}

// relayNonStreaming waits for the single complete or error event and writes
// the HTTP response accordingly.
func relayNonStreaming(ctx context.Context, w http.ResponseWriter, events <-chan upstreamclient.Event) outcome {
	var out outcome

	for evt := range events {
		switch evt.Kind {
		case upstreamclient.EventComplete:
			out.StatusCode = http.StatusOK
			if p, c, t, ok := extractUsage(evt.Data); ok {
				out.PromptTokens, out.CompletionTokens, out.TotalTokens = p, c, t
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(evt.Data)
			return out
		case upstreamclient.EventError:
			out.ErrorType = "upstream_error"
			out.ErrorMessage = string(evt.Data)
			status := evt.StatusCode
			if status == 0 {
				status = http.StatusBadGateway
			}
			out.StatusCode = status
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write(errorEnvelope(evt))
			return out
		}
	}

	if ctx.Err() != nil && out.ErrorType == "" {
		out.ErrorType = "client_disconnect"
	}
	return out
}

func errorEnvelope(evt upstreamclient.Event) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message":     string(evt.Data),
			"type":        "upstream_error",
			"status_code": evt.StatusCode,
		},
	})
	return b
}
