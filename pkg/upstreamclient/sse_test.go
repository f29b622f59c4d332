package upstreamclient

import (
	"context"
	"io"
	"strings"
	"testing"
)

type fakeResponse struct {
	body       io.ReadCloser
	statusCode int
	closed     bool
}

func newFakeResponse(raw string, status int) *fakeResponse {
	return &fakeResponse{body: io.NopCloser(strings.NewReader(raw)), statusCode: status}
}

func (f *fakeResponse) Body() io.ReadCloser { return f.body }
func (f *fakeResponse) Close() error        { f.closed = true; return f.body.Close() }
func (f *fakeResponse) StatusCode() int     { return f.statusCode }

func drain(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestStreamSSEYieldsDataThenDone(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n" +
		"data: [DONE]\n\n"

	resp := newFakeResponse(raw, 200)
	events := make(chan Event)
	go streamSSE(context.Background(), resp, events)

	got := drain(events)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Kind != EventData || got[1].Kind != EventData {
		t.Errorf("expected first two events to be data, got %v, %v", got[0].Kind, got[1].Kind)
	}
	if got[2].Kind != EventDone {
		t.Errorf("expected final event to be done, got %v", got[2].Kind)
	}
	if !resp.closed {
		t.Error("expected response body to be closed")
	}
}

func TestStreamSSESkipsUndecodableFrames(t *testing.T) {
	raw := "data: not json at all\n\n" +
		"data: {\"ok\":true}\n\n" +
		"data: [DONE]\n\n"

	resp := newFakeResponse(raw, 200)
	events := make(chan Event)
	go streamSSE(context.Background(), resp, events)

	got := drain(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 events (skip the bad frame), got %d: %+v", len(got), got)
	}
	if got[0].Kind != EventData || string(got[0].Data) != `{"ok":true}` {
		t.Errorf("unexpected first event: %+v", got[0])
	}
}

func TestStreamSSESkipsBlankLines(t *testing.T) {
	raw := "\n\ndata: {\"a\":1}\n\n\ndata: [DONE]\n\n"

	resp := newFakeResponse(raw, 200)
	events := make(chan Event)
	go streamSSE(context.Background(), resp, events)

	got := drain(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
}

func TestStreamSSEStopsOnContextCancel(t *testing.T) {
	raw := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\n"
	resp := newFakeResponse(raw, 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event, 1)
	streamSSE(ctx, resp, events)

	if !resp.closed {
		t.Error("expected response body to be closed even when canceled")
	}
}

func TestReadCompleteYieldsSingleEvent(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"hi"}}],"usage":{"total_tokens":5}}`
	resp := newFakeResponse(raw, 200)

	events := make(chan Event)
	go readComplete(context.Background(), resp, events)

	got := drain(events)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(got))
	}
	if got[0].Kind != EventComplete {
		t.Errorf("expected complete event, got %v", got[0].Kind)
	}
	if got[0].StatusCode != 200 {
		t.Errorf("expected status 200, got %d", got[0].StatusCode)
	}
}
