package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/warden/internal/model"
)

// AutomodConfigBody is the operator-facing form of the automod policy:
// flags by name, rates in "N/DUR" form.
type AutomodConfigBody struct {
	Flags             []string `json:"flags"`
	BroadcastChannel  int64    `json:"broadcast_channel,omitempty"`
	MentionCount      int      `json:"mention_count,omitempty"`
	SafeEntities      []int64  `json:"safe_entities,omitempty"`
	QuarantineChannel int64    `json:"quarantine_channel,omitempty"`
	QuarantineRole    int64    `json:"quarantine_role,omitempty"`
	QuarantineMessage string   `json:"quarantine_message,omitempty"`
	Bypass            string   `json:"bypass,omitempty"`
	JoinRate          string   `json:"join_rate,omitempty"`
	LockdownChannels  []int64  `json:"lockdown_channels,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func automodToBody(cfg *model.AutomodConfig) AutomodConfigBody {
	body := AutomodConfigBody{
		Flags:             []string{},
		BroadcastChannel:  cfg.BroadcastChannel,
		MentionCount:      cfg.MentionCount,
		SafeEntities:      cfg.SafeEntities,
		QuarantineChannel: cfg.QuarantineChannel,
		QuarantineRole:    cfg.QuarantineRole,
		QuarantineMessage: cfg.QuarantineMessage,
		Bypass:            string(cfg.Bypass),
		LockdownChannels:  cfg.LockdownChannels,
		UpdatedAt:         cfg.UpdatedAt,
	}
	if cfg.Flags != 0 {
		body.Flags = strings.Split(cfg.Flags.String(), ",")
	}
	if cfg.JoinRate.Joins > 0 {
		body.JoinRate = cfg.JoinRate.String()
	}
	return body
}

func (b AutomodConfigBody) toConfig(guildID int64) (*model.AutomodConfig, error) {
	cfg := &model.AutomodConfig{
		GuildID:           guildID,
		BroadcastChannel:  b.BroadcastChannel,
		MentionCount:      b.MentionCount,
		SafeEntities:      b.SafeEntities,
		QuarantineChannel: b.QuarantineChannel,
		QuarantineRole:    b.QuarantineRole,
		QuarantineMessage: b.QuarantineMessage,
		LockdownChannels:  b.LockdownChannels,
	}
	for _, name := range b.Flags {
		bit := model.FlagByName(name)
		if bit == 0 {
			return nil, fmt.Errorf("unknown flag %q (known: %s)", name, strings.Join(model.FlagNames(), ", "))
		}
		cfg.Flags = cfg.Flags.With(bit)
	}
	if b.MentionCount < 0 {
		return nil, fmt.Errorf("mention_count must not be negative")
	}
	if b.Bypass != "" {
		cfg.Bypass = model.BypassAction(b.Bypass)
		if !cfg.Bypass.IsValid() {
			return nil, fmt.Errorf("bypass must be \"ban\" or \"kick\"")
		}
	}
	if b.JoinRate != "" {
		rate, err := model.ParseRatePolicy(b.JoinRate)
		if err != nil {
			return nil, err
		}
		cfg.JoinRate = rate
	}
	return cfg, nil
}

// handleGetAutomod handles GET /v1/guilds/{guild_id}/automod.
func (s *WardenServer) handleGetAutomod(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	cfg, err := s.store.GetAutomodConfig(r.Context(), guildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "no automod config for guild")
		return
	}
	writeJSON(w, http.StatusOK, automodToBody(cfg))
}

// handleSetAutomod handles PUT /v1/guilds/{guild_id}/automod. The body
// replaces the guild's config wholesale.
func (s *WardenServer) handleSetAutomod(w http.ResponseWriter, r *http.Request) {
	guildID, ok := pathID(w, r, "guild_id")
	if !ok {
		return
	}
	var body AutomodConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cfg, err := body.toConfig(guildID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertAutomodConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("automod config updated", "guild_id", guildID, "flags", cfg.Flags.String())
	writeJSON(w, http.StatusOK, automodToBody(cfg))
}
