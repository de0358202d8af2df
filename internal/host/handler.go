package host

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler mounts the agent's fetch decision in front of the normal network
// path as an http.Handler. Substitute responses are written back directly;
// pass-through requests are delegated to next; failed requests surface as
// 502 without ever panicking the server.
type Handler struct {
	fetch     FetchFunc
	next      http.Handler
	lifecycle *ProcessLifecycle
	logger    *slog.Logger
}

// NewHandler creates the adapter. next is the normal network path (usually
// a reverse proxy); when nil, pass-through requests answer 502 since no
// network path is configured. lifecycle is optional client bookkeeping.
func NewHandler(fetch FetchFunc, next http.Handler, lifecycle *ProcessLifecycle, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		fetch:     fetch,
		next:      next,
		lifecycle: lifecycle,
		logger:    logger.With("component", "host.Handler"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ev := NewFetchEvent(r)

	if h.lifecycle != nil {
		h.lifecycle.ClientOpened(ev.ClientID)
		defer h.lifecycle.ClientClosed(ev.ClientID)
	}

	res := h.fetch(r.Context(), ev)

	switch {
	case res.Substitute != nil:
		f := res.Substitute
		for _, hdr := range f.Headers {
			w.Header().Add(hdr.Name, hdr.Value)
		}
		w.WriteHeader(f.StatusCode)
		if len(f.Body) > 0 {
			if _, err := w.Write(f.Body); err != nil {
				h.logger.Debug("failed to write substitute body", "error", err)
			}
		}

	case res.PassThrough:
		if h.next == nil {
			writeError(w, http.StatusBadGateway, "no network path configured")
			return
		}
		h.next.ServeHTTP(w, r)

	default:
		// Failed request. The agent has already logged the cause.
		writeError(w, http.StatusBadGateway, "bridged request failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
