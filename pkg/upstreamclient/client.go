// Package upstreamclient issues chat-completion requests to the upstream
// vendor and exposes a uniform tagged event stream regardless of dialect or
// whether the upstream call was streaming.
package upstreamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duskrelay/chatproxy/internal/telemetry"
)

var tracer = telemetry.Tracer("chatproxy/upstreamclient")

// EventKind tags a uniform stream event.
type EventKind string

const (
	EventData     EventKind = "data"
	EventDone     EventKind = "done"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is one item of the uniform stream the pipeline consumes, regardless
// of upstream dialect or whether the call was streaming.
type Event struct {
	Kind       EventKind
	Data       json.RawMessage
	StatusCode int
}

// dialect builds the HTTP request for one of the two vendor wire shapes and
// decides whether the model field is carried in the body.
type dialect interface {
	buildRequest(ctx context.Context, key string, payload []byte) (*http.Request, error)
	// prepareBody returns a copy of body with any dialect-specific field
	// stripped (the deployment-scoped dialect drops "model").
	prepareBody(body map[string]any) map[string]any
}

// Client issues upstream requests and turns the HTTP response into a
// uniform Event stream.
type Client struct {
	httpClient *http.Client
	dialect    dialect
}

// Config configures dialect selection and timeouts.
type Config struct {
	// Type selects the dialect: "native" or "deployment-scoped".
	Type string

	// Native dialect.
	BaseURL string

	// Deployment-scoped dialect.
	Endpoint   string
	Deployment string
	APIVersion string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// New builds a Client for the dialect named in cfg.Type.
func New(cfg Config) (*Client, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	var d dialect
	switch cfg.Type {
	case "native", "":
		d = &nativeDialect{baseURL: cfg.BaseURL}
	case "deployment-scoped":
		d = &deploymentDialect{endpoint: cfg.Endpoint, deployment: cfg.Deployment, apiVersion: cfg.APIVersion}
	default:
		return nil, fmt.Errorf("upstreamclient: unknown upstream type %q", cfg.Type)
	}

	return &Client{httpClient: httpClient, dialect: d}, nil
}

// Send issues the request and returns a channel of Events. The channel is
// closed once a terminal event (done, complete, or error) has been sent, or
// when ctx is canceled. Callers MUST drain the channel (or cancel ctx) to
// avoid leaking the response body.
func (c *Client) Send(ctx context.Context, key string, body map[string]any, streaming bool) (<-chan Event, error) {
	ctx, span := tracer.Start(ctx, "upstreamclient.send", trace.WithAttributes(
		attribute.Bool("stream", streaming),
	))
	defer span.End()

	payload, err := json.Marshal(c.dialect.prepareBody(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upstreamclient: marshaling request body: %w", err)
	}

	req, err := c.dialect.buildRequest(ctx, key, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upstreamclient: building request: %w", err)
	}

	events := make(chan Event, 1)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		events <- Event{Kind: EventError, Data: mustMarshal(errorBody{Message: err.Error()})}
		close(events)
		return events, nil
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, "upstream returned an error status")
		go func() {
			defer resp.Body.Close()
			defer close(events)
			b, _ := io.ReadAll(resp.Body)
			sendOrDone(ctx, events, Event{Kind: EventError, Data: json.RawMessage(b), StatusCode: resp.StatusCode})
		}()
		return events, nil
	}

	if streaming {
		go streamSSE(ctx, adaptResponse(resp), events)
	} else {
		go readComplete(ctx, adaptResponse(resp), events)
	}

	return events, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newBodyReader(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
