package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/Raj9229/VeeCall/internal/config"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, BuildInfo{Version: "test"})
	srv.ready.Store(true)

	ts := httptest.NewServer(srv.mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, config.Config{})

	var body map[string]any
	if status := getJSON(t, ts.URL+"/healthz", &body); status != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["timestamp"] == "" {
		t.Error("timestamp missing")
	}
}

func TestReadyzReflectsServingState(t *testing.T) {
	srv, ts := newTestServer(t, config.Config{})

	if status := getJSON(t, ts.URL+"/readyz", nil); status != http.StatusOK {
		t.Fatalf("ready readyz status = %d, want 200", status)
	}

	srv.ready.Store(false)
	if status := getJSON(t, ts.URL+"/readyz", nil); status != http.StatusServiceUnavailable {
		t.Fatalf("not-ready readyz status = %d, want 503", status)
	}
}

func TestWebRTCConfigPassthrough(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
		ICECandidatePoolSize: 10,
	}
	_, ts := newTestServer(t, cfg)

	var body struct {
		ICEServers []struct {
			URLs     []string `json:"urls"`
			Username string   `json:"username"`
		} `json:"iceServers"`
		ICECandidatePoolSize int `json:"iceCandidatePoolSize"`
	}
	if status := getJSON(t, ts.URL+"/api/webrtc-config", &body); status != http.StatusOK {
		t.Fatalf("webrtc-config status = %d, want 200", status)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("got %d ice servers, want 2", len(body.ICEServers))
	}
	if body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("first server urls = %v", body.ICEServers[0].URLs)
	}
	if body.ICEServers[1].Username != "u" {
		t.Errorf("turn username = %q, want u", body.ICEServers[1].Username)
	}
	if body.ICECandidatePoolSize != 10 {
		t.Errorf("iceCandidatePoolSize = %d, want 10", body.ICECandidatePoolSize)
	}
}

func TestWebRTCConfigOriginPolicy(t *testing.T) {
	cfg := config.Config{AllowedOrigins: []string{"https://app.example.com"}}
	_, ts := newTestServer(t, cfg)

	do := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/webrtc-config", nil)
		if err != nil {
			t.Fatal(err)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := do("https://app.example.com"); resp.StatusCode != http.StatusOK {
		t.Errorf("allowed origin status = %d, want 200", resp.StatusCode)
	} else if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if resp := do("https://evil.example.com"); resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejected origin status = %d, want 403", resp.StatusCode)
	}
	// No Origin header means a non-browser client; always allowed.
	if resp := do(""); resp.StatusCode != http.StatusOK {
		t.Errorf("no-origin status = %d, want 200", resp.StatusCode)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://App.Example.com", "http://localhost:3000"}

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"HTTPS://APP.EXAMPLE.COM", true},
		{"http://localhost:3000", true},
		{"https://localhost:3000", false},
		{"https://other.example.com", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := originAllowed(tc.origin, allowed); got != tc.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}

	if !originAllowed("https://anything.example.com", nil) {
		t.Error("empty allowlist should allow every origin")
	}
}
