package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/acpbridge/acpbridge/internal/bridge"
	"github.com/acpbridge/acpbridge/internal/config"
	"github.com/acpbridge/acpbridge/internal/permission"
)

func newTestServer(t *testing.T, originAllow []string) *httptest.Server {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "policy.db")
	perms, err := permission.Open(dbPath)
	if err != nil {
		t.Fatalf("permission.Open: %v", err)
	}
	t.Cleanup(func() { perms.Close() })

	cfg := &config.Config{
		ProjectRoots:      []string{t.TempDir()},
		OriginAllow:       originAllow,
		WSReadBufferSize:  4096,
		WSWriteBufferSize: 4096,
	}
	br := bridge.New(cfg, perms)
	s := New(cfg, br)

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleHealthReportsBridgeID(t *testing.T) {
	srv := newTestServer(t, []string{"http://localhost:5173"})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status   string `json:"status"`
		BridgeId string `json:"bridgeId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("got status %q", body.Status)
	}
	if body.BridgeId == "" {
		t.Fatalf("expected a non-empty bridgeId")
	}
}

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()
	u, err := url.Parse(httpURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/bridge"
	return u.String()
}

func TestWebSocketRejectsMissingOrigin(t *testing.T) {
	srv := newTestServer(t, []string{"http://localhost:5173"})

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", acpSubprotocol)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), header)
	if err == nil {
		t.Fatalf("expected dial to fail for a missing Origin header")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	srv := newTestServer(t, []string{"http://localhost:5173"})

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	header.Set("Sec-WebSocket-Protocol", acpSubprotocol)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), header)
	if err == nil {
		t.Fatalf("expected dial to fail for a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403")
	}
}

func TestWebSocketAcceptsAllowedOrigin(t *testing.T) {
	srv := newTestServer(t, []string{"http://localhost:5173"})

	header := http.Header{}
	header.Set("Origin", "http://localhost:5173")
	header.Set("Sec-WebSocket-Protocol", acpSubprotocol)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
}

func TestWebSocketAcceptsWildcardOrigin(t *testing.T) {
	srv := newTestServer(t, []string{"https://*.example.com"})

	header := http.Header{}
	header.Set("Origin", "https://app.example.com")
	header.Set("Sec-WebSocket-Protocol", acpSubprotocol)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
}

func TestWebSocketRejectsMissingSubprotocol(t *testing.T) {
	srv := newTestServer(t, []string{"http://localhost:5173"})

	header := http.Header{}
	header.Set("Origin", "http://localhost:5173")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), header)
	if err == nil {
		t.Fatalf("expected dial to fail without the acp subprotocol")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400")
	}
}

func TestMatchWildcardOrigin(t *testing.T) {
	cases := []struct {
		origin, pattern string
		want            bool
	}{
		{"https://app.example.com", "https://*.example.com", true},
		{"https://example.com", "https://*.example.com", false},
		{"https://evil.com/https://app.example.com", "https://*.example.com", false},
	}
	for _, tc := range cases {
		got := matchWildcardOrigin(tc.origin, tc.pattern)
		if got != tc.want {
			t.Errorf("matchWildcardOrigin(%q, %q) = %v, want %v", tc.origin, tc.pattern, got, tc.want)
		}
	}
}

func TestHasSubprotocol(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Sec-WebSocket-Protocol", "foo, "+acpSubprotocol+", bar")
	if !hasSubprotocol(req, acpSubprotocol) {
		t.Fatalf("expected acp subprotocol to be found among multiple values")
	}
	if hasSubprotocol(req, "nonexistent") {
		t.Fatalf("did not expect an unlisted subprotocol to match")
	}
}
