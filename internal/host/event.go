// Package host models the surface the interception agent receives from its
// host: fetch events carrying outgoing requests, lifecycle signals
// (install, activate, client bookkeeping), and the adapter that mounts the
// agent as an http.Handler in front of the normal network path.
package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hostbridge/hostbridge/internal/wire"
)

// FetchEvent is one outgoing request presented to the agent for an
// interception decision. The body accessor is lazy: body bytes are only
// materialized when the agent decides to bridge the request.
type FetchEvent struct {
	Method  string
	URL     *url.URL
	Headers []wire.Header

	// Body materializes the request body as bytes. May be nil when the
	// request cannot carry a body.
	Body func() ([]byte, error)

	// ClientID identifies the host client (page, tab, connection) the
	// request originates from.
	ClientID string

	// IsNavigation marks a top-level navigation request for the currently
	// displayed page, relevant to stale-instance takeover.
	IsNavigation bool

	// Raw is a transport-specific escape hatch (e.g. *http.Request).
	Raw any
}

// Result is the agent's answer to a fetch event: exactly one of a
// substitute response, a pass-through to the normal network path, or a
// failure.
type Result struct {
	// Substitute, when non-nil, replaces the network response.
	Substitute *wire.ResponseFrame

	// PassThrough delegates the request to the normal network path.
	PassThrough bool

	// Err marks the request as failed. It is reported, never thrown to
	// the host.
	Err error
}

// FetchFunc is the agent's decision entry point as seen by host adapters.
type FetchFunc func(ctx context.Context, ev FetchEvent) Result

// NewFetchEvent builds a FetchEvent from an incoming *http.Request. The
// body is captured once on first access and restored so a pass-through can
// still forward it (the same read-and-restore the reverse proxy needs).
func NewFetchEvent(r *http.Request) FetchEvent {
	var headers []wire.Header
	for name, values := range r.Header {
		for _, v := range values {
			headers = append(headers, wire.Header{Name: name, Value: v})
		}
	}

	var captured []byte
	var capErr error
	read := false

	body := func() ([]byte, error) {
		if read {
			return captured, capErr
		}
		read = true
		if r.Body == nil {
			return nil, nil
		}
		captured, capErr = io.ReadAll(r.Body)
		if capErr != nil {
			capErr = fmt.Errorf("failed to read request body: %w", capErr)
			return nil, capErr
		}
		r.Body.Close()
		// Restore so the normal network path can forward it.
		r.Body = io.NopCloser(bytes.NewReader(captured))
		r.ContentLength = int64(len(captured))
		return captured, nil
	}

	return FetchEvent{
		Method:       r.Method,
		URL:          r.URL,
		Headers:      headers,
		Body:         body,
		ClientID:     r.RemoteAddr,
		IsNavigation: isNavigation(r),
		Raw:          r,
	}
}

// isNavigation reports whether the request is a top-level page navigation.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	accept := r.Header.Get("Accept")
	return len(accept) >= 9 && accept[:9] == "text/html"
}
