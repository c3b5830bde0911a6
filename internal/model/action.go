package model

import "time"

// ActionKind is a one-shot external mutation queued independently of the
// gatekeeper and lockdown state machines.
type ActionKind string

const (
	ActionBan  ActionKind = "ban"
	ActionKick ActionKind = "kick"
)

// PendingAction is a queued ban or kick. The row is deleted once the
// directory confirms it; a permanent failure flags it instead.
type PendingAction struct {
	ID          string     `json:"id"`
	GuildID     int64      `json:"guild_id"`
	MemberID    int64      `json:"member_id"`
	Kind        ActionKind `json:"kind"`
	Reason      string     `json:"reason,omitempty"`
	ApplyFailed bool       `json:"apply_failed,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DiagKind classifies an operator-visible diagnostic.
type DiagKind string

const (
	DiagApplyFailed  DiagKind = "apply_failed"
	DiagRaidDetected DiagKind = "raid_detected"
	DiagAutoBan      DiagKind = "auto_ban"
)

// Diagnostic is an operator-visible record of a reconciliation problem
// or a defensive action the engine took on its own.
type Diagnostic struct {
	ID        string    `json:"id"`
	GuildID   int64     `json:"guild_id"`
	Kind      DiagKind  `json:"kind"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
