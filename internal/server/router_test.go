package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/rollout/internal/history"
	"github.com/loykin/rollout/internal/source"
	"github.com/loykin/rollout/internal/supervisor"
	"github.com/loykin/rollout/internal/updater"
	"github.com/loykin/rollout/internal/version"
)

type noopSource struct{}

func (noopSource) Latest(_ context.Context) (*source.Descriptor, error) { return nil, nil }
func (noopSource) Fetch(_ context.Context, _ *source.Descriptor, _ string) ([]string, error) {
	return nil, nil
}

type noopVerifier struct{}

func (noopVerifier) Verify(_ context.Context, _ string, _ time.Duration) bool { return true }

func newTestRouter(t *testing.T, basePath string) *Router {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store, err := version.Open(t.TempDir(), 5, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.SetCurrent("v1.0.0"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := store.SetCurrent("v1.1.0"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	proc := supervisor.New(supervisor.Spec{Name: "app", Command: "sleep 1"}, log)
	ctrl := updater.New(updater.Config{}, store, proc, noopSource{}, noopVerifier{},
		history.NewRecorder(nil, log), log)
	return NewRouter(ctrl, basePath)
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		State   string `json:"state"`
		Current string `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "idle" || body.Current != "v1.1.0" {
		t.Fatalf("body = %+v", body)
	}
}

func TestVersionsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/versions")
	if err != nil {
		t.Fatalf("GET /versions: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Versions []string `json:"versions"`
		Current  string   `json:"current"`
		Previous string   `json:"previous"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Versions) != 2 || body.Versions[0] != "v1.0.0" || body.Versions[1] != "v1.1.0" {
		t.Fatalf("versions = %v", body.Versions)
	}
	if body.Current != "v1.1.0" || body.Previous != "v1.0.0" {
		t.Fatalf("current/previous = %q %q", body.Current, body.Previous)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
}

func TestBasePathPrefixesRoutes(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, "rollout/").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rollout/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prefixed healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("unprefixed route served despite base path")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"  ":        "",
		"rollout":   "/rollout",
		"/rollout/": "/rollout",
		"/a/b/":     "/a/b",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
