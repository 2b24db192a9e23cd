// ABOUTME: REST API handlers for the operator dashboard.
// ABOUTME: All routes sit behind the JWT middleware; identity comes from context.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vigilops/vigil-gateway/internal/auth"
)

// handleListComputers returns the online computer ids for the caller's org.
func (g *Gateway) handleListComputers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, g.presence.Snapshot(identity.OrgID))
}

// handleListSessions returns recent session audit records for the caller's org.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	sessions, err := g.store.ListSessions(r.Context(), identity.OrgID, limit)
	if err != nil {
		g.logger.Error("listing sessions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"sessions": sessions})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
