package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/groblegark/warden/internal/gatekeeper"
	"github.com/groblegark/warden/internal/model"
)

// ActivateRequest configures a quarantine session. Rate uses the
// "N/DUR" form, e.g. "5/10s".
type ActivateRequest struct {
	ChannelID int64  `json:"channel_id"`
	RoleID    int64  `json:"role_id"`
	Message   string `json:"message"`
	Bypass    string `json:"bypass"`
	Rate      string `json:"rate"`
}

// StatusResponse is the gatekeeper status for one guild.
type StatusResponse struct {
	Session *model.GatekeeperSession `json:"session,omitempty"`
	Members int                      `json:"members"`
}

// handleActivateGatekeeper handles POST /v1/guilds/{guild_id}/gatekeeper/activate.
func (s *WardenServer) handleActivateGatekeeper(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ChannelID == 0 || req.RoleID == 0 || req.Message == "" {
		writeError(w, http.StatusBadRequest, "channel_id, role_id, and message are required")
		return
	}
	bypass := model.BypassAction(req.Bypass)
	if !bypass.IsValid() {
		writeError(w, http.StatusBadRequest, "bypass must be \"ban\" or \"kick\"")
		return
	}
	rate, err := model.ParseRatePolicy(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session := &model.GatekeeperSession{
		GuildID:   guildID,
		ChannelID: req.ChannelID,
		RoleID:    req.RoleID,
		Message:   req.Message,
		Bypass:    bypass,
		Rate:      rate,
	}
	switch err := s.gate.Activate(r.Context(), session); {
	case errors.Is(err, gatekeeper.ErrAlreadyActive), errors.Is(err, gatekeeper.ErrMembersDraining):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, session)
	}
}

// handleDeactivateGatekeeper handles POST /v1/guilds/{guild_id}/gatekeeper/deactivate.
func (s *WardenServer) handleDeactivateGatekeeper(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	switch err := s.gate.Deactivate(r.Context(), guildID); {
	case errors.Is(err, gatekeeper.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	}
}

// handleGatekeeperStatus handles GET /v1/guilds/{guild_id}/gatekeeper.
func (s *WardenServer) handleGatekeeperStatus(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	session, err := s.gate.Session(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.store.CountMembers(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Session: session, Members: count})
}

// handleListMembers handles GET /v1/guilds/{guild_id}/members.
func (s *WardenServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	members, err := s.gate.Members(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if members == nil {
		members = []*model.GatekeeperMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

// handleMemberState handles GET /v1/guilds/{guild_id}/members/{member_id}.
func (s *WardenServer) handleMemberState(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "member_id")
	if !ok {
		return
	}
	member, err := s.gate.MemberState(r.Context(), guildID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if member == nil {
		writeError(w, http.StatusNotFound, "member not quarantined")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// handleVerifyMember handles POST /v1/guilds/{guild_id}/members/{member_id}/verify.
func (s *WardenServer) handleVerifyMember(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "member_id")
	if !ok {
		return
	}
	switch err := s.gate.Verify(r.Context(), guildID, memberID); {
	case errors.Is(err, gatekeeper.ErrNotQuarantined):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
	}
}
