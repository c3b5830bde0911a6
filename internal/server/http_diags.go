package server

import (
	"net/http"
	"strconv"

	"github.com/groblegark/warden/internal/model"
)

const defaultDiagLimit = 50

// handleListDiagnostics handles GET /v1/guilds/{guild_id}/diagnostics.
// Newest first; ?limit= caps the page.
func (s *WardenServer) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	limit := defaultDiagLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	diags, err := s.store.ListDiagnostics(r.Context(), guildID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if diags == nil {
		diags = []*model.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, diags)
}
