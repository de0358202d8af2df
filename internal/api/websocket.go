package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hostbridge/hostbridge/internal/store"
)

// feedBacklogLimit is how many recent journal entries a connecting client
// receives before live records start.
const feedBacklogLimit = 25

// feedEnvelope is the message shape on the live feed. A "backlog" envelope
// carries the journal snapshot sent once on connect; an "intercept"
// envelope carries a single live record.
type feedEnvelope struct {
	Type       string             `json:"type"`
	Intercepts []*store.Intercept `json:"intercepts,omitempty"`
	Intercept  *store.Intercept   `json:"intercept,omitempty"`
}

// InterceptFeed streams intercept records to WebSocket clients. Each
// client gets a backlog snapshot from the journal on connect, then every
// record published while the connection stays open. Writes to a shared
// connection are serialized under the feed mutex; a connection that fails
// a write is dropped on the spot.
type InterceptFeed struct {
	journal  store.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewInterceptFeed creates a feed backed by the given journal. The journal
// may be nil (no backlog). When allowAllOrigins is false, browser clients
// must be same-origin.
func NewInterceptFeed(journal store.Engine, logger *slog.Logger, allowAllOrigins bool) *InterceptFeed {
	return &InterceptFeed{
		journal: journal,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowAllOrigins),
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// originChecker accepts non-browser clients (no Origin header) and, unless
// allowAll is set, requires the Origin host to match the request host.
func originChecker(allowAll bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}

// ServeHTTP upgrades the connection, writes the backlog snapshot, then
// registers the client for live records. The backlog is written before
// registration so it can never interleave with a concurrent Publish.
func (f *InterceptFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("feed upgrade failed", "component", "api.InterceptFeed", "error", err)
		return
	}

	if err := f.sendBacklog(conn); err != nil {
		f.logger.Debug("feed backlog write failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug("feed client connected", "remote", conn.RemoteAddr())
	go f.readUntilClose(conn)
}

// sendBacklog writes the journal snapshot envelope. An empty journal still
// yields an envelope so clients can tell the snapshot boundary.
func (f *InterceptFeed) sendBacklog(conn *websocket.Conn) error {
	env := feedEnvelope{Type: "backlog"}
	if f.journal != nil {
		recs, _, err := f.journal.ListIntercepts(store.InterceptFilter{Limit: feedBacklogLimit})
		if err != nil {
			f.logger.Warn("feed backlog query failed", "component", "api.InterceptFeed", "error", err)
		} else {
			env.Intercepts = recs
		}
	}
	return conn.WriteJSON(env)
}

// readUntilClose drains client frames until the peer goes away, then
// unregisters the connection. Clients are not expected to send anything.
func (f *InterceptFeed) readUntilClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
	_ = conn.Close()
	f.logger.Debug("feed client disconnected", "remote", conn.RemoteAddr())
}

// Publish sends one intercept record to every connected client.
func (f *InterceptFeed) Publish(rec *store.Intercept) {
	msg, err := json.Marshal(feedEnvelope{Type: "intercept", Intercept: rec})
	if err != nil {
		f.logger.Error("feed envelope marshal failed", "component", "api.InterceptFeed", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.logger.Debug("feed write failed, dropping client", "remote", conn.RemoteAddr(), "error", err)
			delete(f.conns, conn)
			_ = conn.Close()
		}
	}
}

// Close drops all clients and rejects future connections.
func (f *InterceptFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for conn := range f.conns {
		_ = conn.Close()
		delete(f.conns, conn)
	}
}

// ClientCount returns the number of connected clients.
func (f *InterceptFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}
