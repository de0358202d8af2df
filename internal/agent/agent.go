// Package agent implements the interception agent: the component that owns
// the install/activate/ready lifecycle, decides which outgoing requests are
// redirected through the bridge, and orchestrates the wire codec and the
// bridge transport for each redirected request. Every error is handled at
// this boundary — the observable effect on the host is a request that
// fails or passes through, never a fault that escapes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hostbridge/hostbridge/internal/bridge"
	"github.com/hostbridge/hostbridge/internal/host"
	"github.com/hostbridge/hostbridge/internal/metrics"
	"github.com/hostbridge/hostbridge/internal/policy"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/wire"
)

// DefaultAPIPrefix is the URL path namespace reserved for the embedded
// server's client API.
const DefaultAPIPrefix = "/_matrix/client"

// Agent is safe for use by concurrent requests. Per-request frames are
// owned by the handling call; the only shared state is the lifecycle
// position and the transport.
type Agent struct {
	prefix    string
	transport bridge.Transport
	lifecycle host.Lifecycle
	logger    *slog.Logger

	rules       *policy.RuleSet
	journal     store.Engine
	metrics     *metrics.Metrics
	onIntercept func(store.Intercept)

	mu    sync.Mutex
	state State
}

// Option configures the Agent.
type Option func(*Agent)

// WithRules installs operator interception rules.
func WithRules(rs *policy.RuleSet) Option {
	return func(a *Agent) { a.rules = rs }
}

// WithJournal records every redirection decision in the storage engine's
// intercept journal.
func WithJournal(eng store.Engine) Option {
	return func(a *Agent) { a.journal = eng }
}

// WithMetrics publishes interception counters and bridge-call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithInterceptEvents registers a callback invoked for every journal entry,
// used by the admin API's live event stream.
func WithInterceptEvents(fn func(store.Intercept)) Option {
	return func(a *Agent) { a.onIntercept = fn }
}

// New creates an agent in the Installing state. prefix is the eligible
// path prefix; an empty prefix selects DefaultAPIPrefix.
func New(prefix string, transport bridge.Transport, lifecycle host.Lifecycle, logger *slog.Logger, opts ...Option) *Agent {
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		prefix:    prefix,
		transport: transport,
		lifecycle: lifecycle,
		state:     StateInstalling,
		logger:    logger.With("component", "agent.Agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.publishState()
	return a
}

// State returns the current lifecycle position.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetRules replaces the active rule set. Used by rule hot-reload; in-flight
// requests keep the set they started with.
func (a *Agent) SetRules(rs *policy.RuleSet) {
	a.mu.Lock()
	a.rules = rs
	a.mu.Unlock()
}

func (a *Agent) ruleSet() *policy.RuleSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rules
}

// SetJournal installs the intercept journal after construction. The daemon
// uses this because the storage engine only exists once bootstrap has run.
func (a *Agent) SetJournal(eng store.Engine) {
	a.mu.Lock()
	a.journal = eng
	a.mu.Unlock()
}

func (a *Agent) interceptJournal() store.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.journal
}

// Install handles the host's install signal: the agent moves to Activating
// and asserts it should supersede any previously-installed instance
// immediately instead of waiting for the host's default handover delay.
func (a *Agent) Install() error {
	a.mu.Lock()
	if a.state != StateInstalling {
		s := a.state
		a.mu.Unlock()
		return fmt.Errorf("agent: install signal in state %s", s)
	}
	a.state = StateActivating
	a.mu.Unlock()

	if a.lifecycle != nil {
		a.lifecycle.SupersedeWaiting()
	}
	a.publishState()
	a.logger.Info("installed, superseding previous instance")
	return nil
}

// Activate runs the bootstrap and, only if it reports success, moves the
// agent to Ready. A bootstrap failure leaves the agent in Activating for
// the rest of its lifetime: forwarding is never accepted and eligible
// requests keep resolving as not ready.
func (a *Agent) Activate(ctx context.Context, boot func(context.Context) error) error {
	a.mu.Lock()
	if a.state != StateActivating {
		s := a.state
		a.mu.Unlock()
		return fmt.Errorf("agent: activate signal in state %s", s)
	}
	a.mu.Unlock()

	if err := boot(ctx); err != nil {
		a.logger.Error("bootstrap failed, agent will not become ready", "error", err)
		return err
	}

	a.mu.Lock()
	a.state = StateReady
	a.mu.Unlock()
	a.publishState()
	a.logger.Info("agent ready")
	return nil
}

// Eligible reports whether a request path falls inside the namespace
// reserved for the embedded server. This is the sole admission-control
// point: total over all inputs and side-effect-free.
func (a *Agent) Eligible(path string) bool {
	return strings.HasPrefix(path, a.prefix)
}

// HandleFetch classifies one outgoing request and, for eligible requests,
// runs the encode → bridge call → decode pipeline. The result substitutes
// the network response, passes the request through, or fails it.
func (a *Agent) HandleFetch(ctx context.Context, ev host.FetchEvent) host.Result {
	if res, handled := a.maybeTakeover(ev); handled {
		return res
	}

	if !a.Eligible(ev.URL.Path) {
		return host.Result{PassThrough: true}
	}

	id := ulid.Make().String()
	start := time.Now()
	log := a.logger.With("intercept_id", id, "method", ev.Method, "url", ev.URL.String())

	if a.State() != StateReady {
		log.Warn("embedded server not ready, passing request to the network")
		a.record(id, ev, start, store.OutcomeNotReady, 0, bridge.ErrNotReady)
		return host.Result{PassThrough: true}
	}

	if rules := a.ruleSet(); rules != nil {
		verdict := rules.Evaluate(policy.RequestAttrs{
			Method: ev.Method,
			Path:   ev.URL.Path,
			Query:  ev.URL.RawQuery,
		})
		switch verdict.Effect {
		case policy.EffectBypass:
			log.Info("rule bypassed interception", "rule", verdict.Rule)
			a.record(id, ev, start, store.OutcomeBypassed, 0, nil)
			return host.Result{PassThrough: true}
		case policy.EffectDeny:
			err := fmt.Errorf("denied by rule %s: %s", verdict.Rule, verdict.Message)
			log.Warn("rule denied request", "rule", verdict.Rule)
			a.record(id, ev, start, store.OutcomeDenied, 0, err)
			return host.Result{Err: err}
		}
	}

	frame, err := a.encodeRequest(ev)
	if err != nil {
		log.Error("failed to encode request frame", "error", err)
		a.record(id, ev, start, store.OutcomeFailed, 0, err)
		return host.Result{Err: err}
	}

	callStart := time.Now()
	reply, err := a.transport.Call(ctx, frame)
	if a.metrics != nil {
		a.metrics.ObserveBridgeCall(time.Since(callStart))
	}
	if err != nil {
		if errors.Is(err, bridge.ErrNotReady) {
			log.Warn("bridge transport unavailable, passing request to the network")
			a.record(id, ev, start, store.OutcomeNotReady, 0, err)
			return host.Result{PassThrough: true}
		}
		// Remote and cancellation failures: the real network cannot serve
		// this namespace, so the request fails rather than falling through.
		log.Error("bridge call failed", "error", err)
		a.record(id, ev, start, store.OutcomeFailed, 0, err)
		return host.Result{Err: err}
	}

	resp, skipped, err := wire.Decode(reply)
	if err != nil {
		var malformed *wire.MalformedFrameError
		if errors.As(err, &malformed) {
			log.Error("malformed response frame", "raw", malformed.Raw)
		} else {
			log.Error("failed to decode response frame", "error", err)
		}
		a.record(id, ev, start, store.OutcomeFailed, 0, err)
		return host.Result{Err: err}
	}
	for _, line := range skipped {
		log.Warn("skipped unparsable header line", "line", line)
	}

	a.record(id, ev, start, store.OutcomeSubstituted, resp.StatusCode, nil)
	return host.Result{Substitute: resp}
}

// maybeTakeover handles the stale-instance case: a navigation request for
// the currently displayed page while a newer instance waits to take over
// and at most one other client is open. The waiting instance is activated
// immediately and the host gets an empty response with a reload directive,
// so the page is not served indefinitely by this stale instance.
func (a *Agent) maybeTakeover(ev host.FetchEvent) (host.Result, bool) {
	if !ev.IsNavigation || a.lifecycle == nil {
		return host.Result{}, false
	}
	if !a.lifecycle.WaitingInstance() || a.lifecycle.OtherClients(ev.ClientID) > 1 {
		return host.Result{}, false
	}

	a.logger.Info("forcing waiting instance to activate",
		"client_id", ev.ClientID,
		"url", ev.URL.String(),
	)
	a.lifecycle.ActivateWaiting()

	return host.Result{Substitute: &wire.ResponseFrame{
		Proto:      "HTTP/1.1",
		StatusCode: 200,
		StatusText: "OK",
		Headers:    []wire.Header{{Name: "Refresh", Value: "0"}},
	}}, true
}

// encodeRequest builds and serializes the request frame. The body is only
// materialized for verbs that permit one.
func (a *Agent) encodeRequest(ev host.FetchEvent) (string, error) {
	f := wire.RequestFrame{
		Method:  ev.Method,
		URL:     ev.URL.RequestURI(),
		Headers: ev.Headers,
	}

	if wire.MethodPermitsBody(ev.Method) && ev.Body != nil {
		body, err := ev.Body()
		if err != nil {
			return "", err
		}
		f.Body = body
	}

	return wire.Encode(f)
}

// record writes one journal entry, bumps metrics, and fires the live event
// callback. Journal failures are logged, never propagated into the request.
func (a *Agent) record(id string, ev host.FetchEvent, start time.Time, outcome string, statusCode int, cause error) {
	rec := store.Intercept{
		ID:         id,
		Timestamp:  start.UTC(),
		Method:     ev.Method,
		URL:        ev.URL.String(),
		Outcome:    outcome,
		StatusCode: statusCode,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	if a.metrics != nil {
		a.metrics.RecordIntercept(outcome)
	}
	if journal := a.interceptJournal(); journal != nil {
		if err := journal.RecordIntercept(&rec); err != nil {
			a.logger.Error("failed to record intercept", "intercept_id", id, "error", err)
		}
	}
	if a.onIntercept != nil {
		a.onIntercept(rec)
	}
}

func (a *Agent) publishState() {
	if a.metrics != nil {
		a.metrics.SetAgentState(int(a.State()))
	}
}
