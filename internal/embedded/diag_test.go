package embedded

import (
	"context"
	"strings"
	"testing"

	"github.com/hostbridge/hostbridge/internal/wire"
)

// memStorage is an in-memory Storage for module tests.
type memStorage struct {
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: map[string][]byte{}}
}

func (s *memStorage) Put(key string, value []byte) error {
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStorage) Get(key string) ([]byte, error) {
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *memStorage) Delete(key string) error {
	delete(s.data, key)
	return nil
}

func (s *memStorage) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func startDiag(t *testing.T) Module {
	t.Helper()
	mod, err := Open("diag")
	if err != nil {
		t.Fatalf("Open(diag) error: %v", err)
	}
	env := Env{Storage: newMemStorage(), ProcessID: "test"}
	if err := mod.Start(context.Background(), env); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = mod.Close() })
	return mod
}

func TestDiagModule_RequiresStorage(t *testing.T) {
	mod, err := Open("diag")
	if err != nil {
		t.Fatalf("Open(diag) error: %v", err)
	}
	if err := mod.Start(context.Background(), Env{}); err == nil {
		t.Error("Start() without storage should fail")
	}
}

func TestDiagModule_Versions(t *testing.T) {
	mod := startDiag(t)

	req, err := wire.Encode(wire.RequestFrame{Method: "GET", URL: "/_matrix/client/versions"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	reply, err := mod.HandleFrame(req)
	if err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}

	f, _, err := wire.Decode(reply)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if f.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", f.StatusCode)
	}
	if !strings.Contains(string(f.Body), "r0.6.1") {
		t.Errorf("Body = %q", f.Body)
	}
}

func TestDiagModule_StateRoundTrip(t *testing.T) {
	mod := startDiag(t)

	put, _ := wire.Encode(wire.RequestFrame{
		Method: "PUT",
		URL:    "/_matrix/client/diag/state/greeting",
		Body:   []byte("hello"),
	})
	if _, err := mod.HandleFrame(put); err != nil {
		t.Fatalf("HandleFrame(put) error: %v", err)
	}

	get, _ := wire.Encode(wire.RequestFrame{Method: "GET", URL: "/_matrix/client/diag/state/greeting"})
	reply, err := mod.HandleFrame(get)
	if err != nil {
		t.Fatalf("HandleFrame(get) error: %v", err)
	}

	f, _, err := wire.Decode(reply)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if string(f.Body) != "hello" {
		t.Errorf("Body = %q, want hello", f.Body)
	}
}

func TestDiagModule_UnknownRouteIs404(t *testing.T) {
	mod := startDiag(t)

	req, _ := wire.Encode(wire.RequestFrame{Method: "GET", URL: "/_matrix/client/r0/whoami"})
	reply, err := mod.HandleFrame(req)
	if err != nil {
		t.Fatalf("HandleFrame() error: %v", err)
	}

	f, _, err := wire.Decode(reply)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if f.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", f.StatusCode)
	}
}

func TestDiagModule_NotStarted(t *testing.T) {
	mod, err := Open("diag")
	if err != nil {
		t.Fatalf("Open(diag) error: %v", err)
	}
	if _, err := mod.HandleFrame("GET /x HTTP/1.0\r\n\r\n"); err == nil {
		t.Error("HandleFrame() before Start should fail")
	}
}

func TestOpen_UnknownModule(t *testing.T) {
	if _, err := Open("no-such-module"); err == nil {
		t.Error("Open(unknown) should fail")
	}
}
