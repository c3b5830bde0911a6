package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/groblegark/warden/internal/lockdown"
	"github.com/groblegark/warden/internal/model"
)

// LockRequest locks one or more channels. Duration, when set, ends the
// lockdown automatically ("30m", "2h").
type LockRequest struct {
	ChannelIDs []int64 `json:"channel_ids"`
	Duration   string  `json:"duration,omitempty"`
	Actor      string  `json:"actor,omitempty"`
}

// handleLock handles POST /v1/guilds/{guild_id}/lockdowns.
func (s *WardenServer) handleLock(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.ChannelIDs) == 0 {
		writeError(w, http.StatusBadRequest, "channel_ids is required")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "operator"
	}

	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "duration must be a positive Go duration")
			return
		}
		duration = d
	}

	var locked []int64
	for _, channelID := range req.ChannelIDs {
		var err error
		if duration > 0 {
			err = s.locks.LockFor(r.Context(), guildID, channelID, actor, duration)
		} else {
			err = s.locks.Lock(r.Context(), guildID, channelID, actor)
		}
		switch {
		case errors.Is(err, lockdown.ErrAlreadyLocked):
			// Repeating a lock is not an operator mistake.
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		default:
			locked = append(locked, channelID)
		}
	}
	if locked == nil {
		locked = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": locked})
}

// handleListLockdowns handles GET /v1/guilds/{guild_id}/lockdowns.
func (s *WardenServer) handleListLockdowns(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	entries, err := s.locks.ListLocked(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*model.LockdownEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUnlock handles DELETE /v1/guilds/{guild_id}/lockdowns/{channel_id}.
func (s *WardenServer) handleUnlock(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathID(w, r, "channel_id")
	if !ok {
		return
	}
	switch err := s.locks.Unlock(r.Context(), guildID, channelID); {
	case errors.Is(err, lockdown.ErrNotLocked):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "unlocking"})
	}
}

// handleUnlockAll handles DELETE /v1/guilds/{guild_id}/lockdowns.
func (s *WardenServer) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	unlocked, err := s.locks.UnlockAll(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if unlocked == nil {
		unlocked = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": unlocked})
}
