package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

func init() {
	Register("diag", func() Module { return &diagModule{} })
}

// diagModule is the built-in diagnostic server. It lets the binary run end
// to end without an external server module linked in: it answers the
// client-API versions endpoint, a health endpoint, and a small state
// echo surface that exercises the storage engine.
type diagModule struct {
	mu      sync.Mutex
	env     Env
	started time.Time
	up      bool
}

func (m *diagModule) Start(ctx context.Context, env Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.Storage == nil {
		return fmt.Errorf("diag: started without a storage engine")
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	m.env = env
	m.started = time.Now()
	m.up = true

	// Record the activation so restarts are visible in the storage image.
	stamp := []byte(m.started.UTC().Format(time.RFC3339))
	if err := env.Storage.Put("diag/last_start", stamp); err != nil {
		return fmt.Errorf("diag: storage write failed: %w", err)
	}

	env.Logger.Info("diag module started", "component", "embedded.diag", "process_id", env.ProcessID)
	return nil
}

func (m *diagModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.up = false
	return nil
}

// HandleFrame decodes the request frame with the counterpart of the bridge
// encoder and routes it. Answers are emitted in the response grammar the
// bridge decoder expects.
func (m *diagModule) HandleFrame(frame string) (string, error) {
	m.mu.Lock()
	up := m.up
	started := m.started
	storage := m.env.Storage
	m.mu.Unlock()

	if !up {
		return "", fmt.Errorf("diag: module not started")
	}

	method, target, body, err := parseRequestFrame(frame)
	if err != nil {
		return "", err
	}
	path, _, _ := strings.Cut(target, "?")

	switch {
	case method == "GET" && path == "/_matrix/client/versions":
		return respond(200, "OK", map[string]any{"versions": []string{"r0.6.1"}}), nil

	case method == "GET" && path == "/_matrix/client/diag/health":
		return respond(200, "OK", map[string]any{
			"status":    "ok",
			"uptime_ms": time.Since(started).Milliseconds(),
		}), nil

	case strings.HasPrefix(path, "/_matrix/client/diag/state/"):
		key := "diag/state/" + strings.TrimPrefix(path, "/_matrix/client/diag/state/")
		switch method {
		case "PUT", "POST":
			if err := storage.Put(key, body); err != nil {
				return "", err
			}
			return respond(200, "OK", map[string]any{"stored": true}), nil
		case "GET":
			value, err := storage.Get(key)
			if err != nil {
				return "", err
			}
			if value == nil {
				return respond(404, "Not Found", map[string]any{
					"errcode": "M_NOT_FOUND", "error": "No such key",
				}), nil
			}
			return "HTTP/1.1 200 OK\r\nContent-Type: application/octet-stream\r\n\r\n" + string(value), nil
		}
	}

	return respond(404, "Not Found", map[string]any{
		"errcode": "M_UNRECOGNIZED", "error": "Unrecognized request",
	}), nil
}

// parseRequestFrame splits an encoded request frame into method, target and
// body. Headers are not needed by the diagnostic routes and are discarded.
func parseRequestFrame(frame string) (method, target string, body []byte, err error) {
	head, rest, found := strings.Cut(frame, "\r\n\r\n")
	if !found {
		return "", "", nil, fmt.Errorf("diag: request frame missing blank-line terminator")
	}

	requestLine, _, _ := strings.Cut(head, "\r\n")
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 || parts[2] != "HTTP/1.0" {
		return "", "", nil, fmt.Errorf("diag: bad request line %q", requestLine)
	}

	if len(rest) > 0 {
		body = []byte(rest)
	}
	return parts[0], parts[1], body, nil
}

// respond renders a response frame with a JSON body.
func respond(code int, phrase string, payload map[string]any) string {
	body, _ := json.Marshal(payload)
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		code, phrase, len(body), body)
}
