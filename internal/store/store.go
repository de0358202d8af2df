// Package store implements the local storage engine the bootstrap sequencer
// initializes before the embedded server starts. It owns the fixed-location
// storage image and exposes two surfaces: a key/value blob store handed to
// the embedded module through its environment adapter, and an intercept
// journal feeding the admin API.
package store

import "time"

// Intercept is one journal entry for a request that reached the agent's
// redirection path.
type Intercept struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// Outcome values recorded in the journal.
const (
	OutcomeSubstituted = "substituted"
	OutcomePassThrough = "passed_through"
	OutcomeNotReady    = "not_ready"
	OutcomeFailed      = "failed"
	OutcomeDenied      = "denied"
	OutcomeBypassed    = "bypassed"
)

// InterceptFilter narrows ListIntercepts results.
type InterceptFilter struct {
	Outcome string
	Method  string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Engine is the storage engine interface. The sqlite implementation is the
// production engine; tests substitute fakes.
type Engine interface {
	// Initialize creates tables and indexes. Must be called before any
	// other method, and before the embedded server module starts.
	Initialize() error

	// Close cleanly shuts down the engine.
	Close() error

	// Module state: the embedded server's persistent key/value surface.
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Keys(prefix string) ([]string, error)

	// Intercept journal.
	RecordIntercept(rec *Intercept) error
	ListIntercepts(filter InterceptFilter) ([]*Intercept, int, error)
	PruneBefore(cutoff time.Time) (int64, error)
}
