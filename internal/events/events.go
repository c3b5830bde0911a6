// Package events carries the inbound guild event feed and the outbound
// operator alert stream over the message bus.
package events

import (
	"context"
	"time"
)

// Inbound feed topics, published by the platform gateway.
const (
	TopicMemberJoined   = "guild.member.joined"
	TopicMessageCreated = "guild.message.created"
	TopicMemberVerified = "guild.member.verified"
)

// Outbound alert topics.
const (
	TopicAlertRaid        = "warden.alert.raid"
	TopicAlertLockdown    = "warden.alert.lockdown"
	TopicAlertAutoBan     = "warden.alert.auto_ban"
	TopicAlertApplyFailed = "warden.alert.apply_failed"
)

// Feed payloads.

type MemberJoined struct {
	GuildID  int64     `json:"guild_id"`
	MemberID int64     `json:"member_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type MessageCreated struct {
	GuildID      int64     `json:"guild_id"`
	ChannelID    int64     `json:"channel_id"`
	AuthorID     int64     `json:"author_id"`
	AuthorRoles  []int64   `json:"author_roles,omitempty"`
	Content      string    `json:"content"`
	MentionCount int       `json:"mention_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type MemberVerified struct {
	GuildID  int64 `json:"guild_id"`
	MemberID int64 `json:"member_id"`
}

// Alert payloads.

type RaidAlert struct {
	GuildID    int64     `json:"guild_id"`
	JoinCount  int       `json:"join_count"`
	Window     string    `json:"window"`
	DetectedAt time.Time `json:"detected_at"`
	// Responses lists the defensive actions taken: "gatekeeper",
	// "lockdown", or "alert_only" when the response template was
	// incomplete.
	Responses []string `json:"responses"`
}

type LockdownAlert struct {
	GuildID    int64   `json:"guild_id"`
	ChannelIDs []int64 `json:"channel_ids"`
	Actor      string  `json:"actor"`
}

// EngineAlert mirrors a persisted diagnostic: something the engine did
// on its own or could not do at all.
type EngineAlert struct {
	GuildID int64  `json:"guild_id"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Detail  string `json:"detail,omitempty"`
}

// Publisher emits events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives raw event payloads from the bus.
type Subscriber interface {
	// Subscribe delivers payloads for the topic on the returned
	// channel. Call the cancel function to unsubscribe and close it.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
