package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must
// include a valid Authorization: Bearer <token> header.
func (s *WardenServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/guilds/{guild_id}/gatekeeper/activate", s.handleActivateGatekeeper)
	mux.HandleFunc("POST /v1/guilds/{guild_id}/gatekeeper/deactivate", s.handleDeactivateGatekeeper)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/gatekeeper", s.handleGatekeeperStatus)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/members", s.handleListMembers)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/members/{member_id}", s.handleMemberState)
	mux.HandleFunc("POST /v1/guilds/{guild_id}/members/{member_id}/verify", s.handleVerifyMember)
	mux.HandleFunc("POST /v1/guilds/{guild_id}/lockdowns", s.handleLock)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/lockdowns", s.handleListLockdowns)
	mux.HandleFunc("DELETE /v1/guilds/{guild_id}/lockdowns", s.handleUnlockAll)
	mux.HandleFunc("DELETE /v1/guilds/{guild_id}/lockdowns/{channel_id}", s.handleUnlock)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/automod", s.handleGetAutomod)
	mux.HandleFunc("PUT /v1/guilds/{guild_id}/automod", s.handleSetAutomod)
	mux.HandleFunc("GET /v1/guilds/{guild_id}/diagnostics", s.handleListDiagnostics)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *WardenServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses a numeric path value; ok is false after an error
// response has been written.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
