// Package bridge defines the single call boundary between the interception
// agent and the embedded server. The call looks synchronous to the caller
// but crosses into a different execution context; the transport makes no
// ordering guarantees between concurrent calls and enforces no timeout of
// its own.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotReady indicates the embedded server has not been bootstrapped yet
// (or bootstrap failed terminally). It is surfaced distinctly from remote
// failures so the agent can pass the request through to the normal network
// path rather than hang.
var ErrNotReady = errors.New("bridge: embedded server not available")

// RemoteError indicates the embedded server answered the boundary call with
// an application-level error instead of a response frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: remote error: %s", e.Message)
}

// EntryPoint is the single named function exposed by a started embedded
// server module: one text frame in, one text frame or error out.
type EntryPoint func(frame string) (string, error)

// Transport hands an encoded request frame to the embedded server and
// returns the encoded response frame. Contract: at-most-once delivery per
// call, no retry — the caller decides whether to retry.
type Transport interface {
	Call(ctx context.Context, frame string) (string, error)
}

// ModuleTransport is the production Transport. It holds the entry point
// bound by the bootstrap sequencer once the embedded server has started;
// until then every call fails with ErrNotReady.
type ModuleTransport struct {
	entry atomic.Value // EntryPoint
}

// NewModuleTransport returns a transport with no entry point bound.
func NewModuleTransport() *ModuleTransport {
	return &ModuleTransport{}
}

// Bind installs the embedded server's entry point. Called exactly once by
// the bootstrap sequencer after a successful start.
func (t *ModuleTransport) Bind(fn EntryPoint) {
	t.entry.Store(fn)
}

// Ready reports whether an entry point has been bound.
func (t *ModuleTransport) Ready() bool {
	fn, _ := t.entry.Load().(EntryPoint)
	return fn != nil
}

// Call forwards one frame across the boundary. The frame is delivered at
// most once; a remote failure is reported as *RemoteError and never
// retried here. Cancellation is checked before delivery only — once the
// frame has crossed, the call runs to completion on the embedded side.
func (t *ModuleTransport) Call(ctx context.Context, frame string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fn, _ := t.entry.Load().(EntryPoint)
	if fn == nil {
		return "", ErrNotReady
	}

	reply, err := fn(frame)
	if err != nil {
		return "", &RemoteError{Message: err.Error()}
	}
	return reply, nil
}
