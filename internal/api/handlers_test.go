package api

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/store"
)

type fakeJournal struct {
	intercepts []*store.Intercept
	pruned     int64
}

func (j *fakeJournal) Initialize() error                        { return nil }
func (j *fakeJournal) Close() error                             { return nil }
func (j *fakeJournal) Put(string, []byte) error                 { return nil }
func (j *fakeJournal) Get(string) ([]byte, error)               { return nil, nil }
func (j *fakeJournal) Delete(string) error                      { return nil }
func (j *fakeJournal) Keys(string) ([]string, error)            { return nil, nil }
func (j *fakeJournal) RecordIntercept(*store.Intercept) error   { return nil }
func (j *fakeJournal) PruneBefore(time.Time) (int64, error)     { return j.pruned, nil }
func (j *fakeJournal) ListIntercepts(f store.InterceptFilter) ([]*store.Intercept, int, error) {
	var out []*store.Intercept
	for _, rec := range j.intercepts {
		if f.Outcome != "" && rec.Outcome != f.Outcome {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func newTestServer(journal store.Engine) *Server {
	return NewServer(
		config.ServerConfig{},
		journal,
		config.NewLoader(),
		nil,
		nil,
		nil,
		slog.Default(),
	)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeJournal{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestHandleListIntercepts(t *testing.T) {
	journal := &fakeJournal{intercepts: []*store.Intercept{
		{ID: "01A", Outcome: store.OutcomeSubstituted},
		{ID: "01B", Outcome: store.OutcomeNotReady},
	}}
	s := newTestServer(journal)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/intercepts?outcome=substituted", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Intercepts []store.Intercept `json:"intercepts"`
		Total      int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Total != 1 || len(body.Intercepts) != 1 || body.Intercepts[0].ID != "01A" {
		t.Errorf("filtered response = %+v", body)
	}
}

func TestHandlePruneIntercepts_BadTimestamp(t *testing.T) {
	s := newTestServer(&fakeJournal{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/intercepts/prune?before=yesterday", nil))

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleState_WithoutAgent(t *testing.T) {
	s := newTestServer(&fakeJournal{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleListModules(t *testing.T) {
	s := newTestServer(&fakeJournal{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/modules", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Modules []string `json:"modules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	// The diag module registers itself in its package init.
	found := false
	for _, m := range body.Modules {
		if m == "diag" {
			found = true
		}
	}
	if !found {
		t.Errorf("modules = %v, want diag present", body.Modules)
	}
}
