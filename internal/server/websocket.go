package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// acpSubprotocol is the only WebSocket subprotocol this server accepts.
const acpSubprotocol = "acp.jsonrpc.v1"

// checkOrigin enforces this repository's stricter admission rule: unlike
// the teacher's CheckOrigin, a missing Origin header is NOT treated as
// same-origin/trusted and is rejected outright, since a browser controller
// always sends one.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return s.isOriginAllowed(origin)
}

// isOriginAllowed checks the given origin against the configured allow
// list, supporting exact matches and wildcard subdomain patterns like
// "https://*.example.com".
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.config.OriginAllow {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	s.logger.Warn("bridge: websocket origin rejected", "origin", origin, "allowed", s.config.OriginAllow)
	return false
}

// matchWildcardOrigin checks if origin matches a wildcard pattern, e.g.
// "https://*.example.com" matches "https://foo.example.com".
func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]

	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// handleBridgeWS is the bridge's single WebSocket endpoint. It enforces
// origin admission and ACP subprotocol negotiation before handing the
// upgraded connection to the bridge package, which owns everything past
// the handshake.
func (s *Server) handleBridgeWS(w http.ResponseWriter, r *http.Request) {
	if !hasSubprotocol(r, acpSubprotocol) {
		http.Error(w, "missing or unsupported Sec-WebSocket-Protocol", http.StatusBadRequest)
		return
	}

	s.upgrader.Subprotocols = []string{acpSubprotocol}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("bridge: websocket upgrade failed", "error", err)
		return
	}

	s.bridge.Accept(r.Context(), ws)
}

func hasSubprotocol(r *http.Request, want string) bool {
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if strings.TrimSpace(p) == want {
				return true
			}
		}
	}
	return false
}
