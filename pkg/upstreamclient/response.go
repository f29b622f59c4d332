package upstreamclient

import (
	"io"
	"net/http"
)

// httpResponse is the minimal surface streamSSE/readComplete need, narrow
// enough that tests can supply an in-memory fake instead of a live HTTP
// round trip.
type httpResponse interface {
	Body() io.ReadCloser
	Close() error
	StatusCode() int
}

type httpResponseAdapter struct {
	resp *http.Response
}

func adaptResponse(resp *http.Response) httpResponse {
	return &httpResponseAdapter{resp: resp}
}

func (a *httpResponseAdapter) Body() io.ReadCloser { return a.resp.Body }
func (a *httpResponseAdapter) Close() error        { return a.resp.Body.Close() }
func (a *httpResponseAdapter) StatusCode() int     { return a.resp.StatusCode }
