package model

import (
	"fmt"
	"time"
)

// MutationKind identifies which external directory call a pending row
// needs. The reconciler is the only component that issues these calls.
type MutationKind string

const (
	MutationGrantRole  MutationKind = "grant_role"
	MutationRevokeRole MutationKind = "revoke_role"
	MutationLock       MutationKind = "lock"
	MutationUnlock     MutationKind = "unlock"
	MutationBan        MutationKind = "ban"
	MutationKick       MutationKind = "kick"
)

// Mutation is the unified view of one pending external call, assembled
// by the store from the gatekeeper, lockdown, and action tables. The
// reconciler drains these oldest-first per guild.
type Mutation struct {
	Kind    MutationKind
	GuildID int64

	// Role mutations.
	MemberID int64
	RoleID   int64

	// Channel overwrite mutations.
	ChannelID int64
	Overwrite Overwrite

	// One-shot actions.
	ActionID string
	Reason   string

	CreatedAt time.Time
}

// Key uniquely identifies the row behind a mutation, used for per-row
// retry backoff bookkeeping.
func (m Mutation) Key() string {
	if m.ActionID != "" {
		return "action:" + m.ActionID
	}
	return fmt.Sprintf("%s:%d:%d:%d", m.Kind, m.GuildID, m.MemberID, m.ChannelID)
}
