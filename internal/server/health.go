package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth reports the bridge's liveness and its stable bridgeId, so an
// operator or launcher script can confirm which process they're talking to.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"bridgeId": s.bridge.ID(),
	})
}
