package model

import "time"

// AutomodConfig is the per-guild automod policy row. It is mutated only
// by operator commands; evaluators receive it as an immutable snapshot
// loaded fresh from the store after each config change.
type AutomodConfig struct {
	GuildID          int64        `json:"guild_id"`
	Flags            AutomodFlags `json:"flags"`
	BroadcastChannel int64        `json:"broadcast_channel,omitempty"`
	MentionCount     int          `json:"mention_count,omitempty"`
	// SafeEntities holds channel, member, and role IDs exempt from automod.
	SafeEntities []int64 `json:"safe_entities,omitempty"`

	// Raid response template. When a join burst trips the detector and
	// the joins flag is on, a gatekeeper session is auto-activated from
	// these settings; with the lockdown flag on, LockdownChannels are
	// locked as well. An incomplete template downgrades the response to
	// an alert.
	QuarantineChannel int64        `json:"quarantine_channel,omitempty"`
	QuarantineRole    int64        `json:"quarantine_role,omitempty"`
	QuarantineMessage string       `json:"quarantine_message,omitempty"`
	Bypass            BypassAction `json:"bypass,omitempty"`
	JoinRate          RatePolicy   `json:"join_rate,omitzero"`
	LockdownChannels  []int64      `json:"lockdown_channels,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SessionTemplate builds the gatekeeper session the raid response would
// activate. Callers must check completeness before activating.
func (c *AutomodConfig) SessionTemplate() *GatekeeperSession {
	return &GatekeeperSession{
		GuildID:   c.GuildID,
		ChannelID: c.QuarantineChannel,
		RoleID:    c.QuarantineRole,
		Message:   c.QuarantineMessage,
		Bypass:    c.Bypass,
		Rate:      c.JoinRate,
	}
}

// TemplateComplete reports whether the raid response template can
// activate a session.
func (c *AutomodConfig) TemplateComplete() bool {
	return c.QuarantineChannel != 0 && c.QuarantineRole != 0 && c.QuarantineMessage != "" &&
		c.Bypass.IsValid() && c.JoinRate.Joins > 0 && c.JoinRate.Per > 0
}

// IsSafe reports whether any of the given entity IDs (author, channel,
// roles) is on the guild's exemption list.
func (c *AutomodConfig) IsSafe(ids ...int64) bool {
	for _, id := range ids {
		for _, safe := range c.SafeEntities {
			if id == safe {
				return true
			}
		}
	}
	return false
}
