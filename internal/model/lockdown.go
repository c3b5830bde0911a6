package model

import "time"

// LockState tracks a lockdown entry through its external mutations.
type LockState string

const (
	// LockPending: lockdown decided, deny overwrite not yet confirmed.
	LockPending LockState = "pending_lock"
	// Locked: the directory confirmed the deny overwrite.
	Locked LockState = "locked"
	// LockPendingRevert: unlock decided, restore not yet confirmed.
	LockPendingRevert LockState = "pending_unlock"
)

// IsValid checks whether the lock state is a known value.
func (s LockState) IsValid() bool {
	switch s {
	case LockPending, Locked, LockPendingRevert:
		return true
	}
	return false
}

// LockdownEntry is a per-(guild, channel) lockdown row. Original holds
// the everyone-role overwrite captured before locking so that lifting
// the lockdown restores the exact pair.
type LockdownEntry struct {
	GuildID     int64     `json:"guild_id"`
	ChannelID   int64     `json:"channel_id"`
	Original    Overwrite `json:"original"`
	State       LockState `json:"state"`
	ApplyFailed bool      `json:"apply_failed,omitempty"`
	// ExpiresAt, when set, ends the lockdown automatically.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
