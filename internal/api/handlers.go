package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hostbridge/hostbridge/internal/embedded"
	"github.com/hostbridge/hostbridge/internal/store"
)

// --- Intercepts ---

func (s *Server) handleListIntercepts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	filter := store.InterceptFilter{
		Outcome: r.URL.Query().Get("outcome"),
		Method:  r.URL.Query().Get("method"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}

	intercepts, total, err := s.journal.ListIntercepts(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"intercepts": intercepts,
		"total":      total,
	})
}

func (s *Server) handlePruneIntercepts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	before := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'before' timestamp")
			return
		}
		before = t
	}

	pruned, err := s.journal.PruneBefore(before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"pruned": pruned})
}

// --- Rules ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfgLoader.Get()
	writeJSON(w, map[string]interface{}{"rules": cfg.Rules})
}

func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	if s.reloadRules != nil {
		if err := s.reloadRules(); err != nil {
			writeError(w, http.StatusBadRequest, "failed to compile rules: "+err.Error())
			return
		}
	}
	writeJSON(w, map[string]string{"status": "reloaded"})
}

// --- Modules ---

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"modules": embedded.Modules()})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := map[string]interface{}{}
	if s.agent != nil {
		state["agent"] = s.agent.State().String()
	}
	if s.lifecycle != nil {
		state["waiting_instance"] = s.lifecycle.WaitingInstance()
	}
	writeJSON(w, state)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
