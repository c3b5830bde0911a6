package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BypassAction is what happens to a quarantined member who fails to
// verify before the deadline.
type BypassAction string

const (
	BypassBan  BypassAction = "ban"
	BypassKick BypassAction = "kick"
)

// IsValid checks whether the bypass action is a known value.
func (a BypassAction) IsValid() bool {
	return a == BypassBan || a == BypassKick
}

// RatePolicy is a join-rate threshold: Joins arrivals within Per trigger
// raid activation. The persisted form is "N/Ts", e.g. "5/10s".
type RatePolicy struct {
	Joins int
	Per   time.Duration
}

// String renders the policy in its persisted "N/Ts" form.
func (r RatePolicy) String() string {
	return fmt.Sprintf("%d/%s", r.Joins, r.Per)
}

// MarshalJSON renders the policy as its "N/Ts" string form.
func (r RatePolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RatePolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRatePolicy(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRatePolicy parses "N/DUR" (e.g. "5/10s", "12/1m").
func ParseRatePolicy(s string) (RatePolicy, error) {
	joins, per, ok := strings.Cut(s, "/")
	if !ok {
		return RatePolicy{}, fmt.Errorf("rate policy %q: want N/DURATION", s)
	}
	n, err := strconv.Atoi(joins)
	if err != nil || n < 1 {
		return RatePolicy{}, fmt.Errorf("rate policy %q: join count must be a positive integer", s)
	}
	d, err := time.ParseDuration(per)
	if err != nil || d <= 0 {
		return RatePolicy{}, fmt.Errorf("rate policy %q: bad window duration", s)
	}
	return RatePolicy{Joins: n, Per: d}, nil
}

// GatekeeperSession is the per-guild quarantine session row. A session
// is either fully configured (channel, role, and message all set) or it
// does not exist; StartedAt is nil while the session is configured but
// not currently active.
type GatekeeperSession struct {
	GuildID   int64        `json:"guild_id"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	ChannelID int64        `json:"channel_id"`
	RoleID    int64        `json:"role_id"`
	Message   string       `json:"message"`
	Bypass    BypassAction `json:"bypass"`
	Rate      RatePolicy   `json:"rate"`
}

// Active reports whether the session is currently quarantining joiners.
func (s *GatekeeperSession) Active() bool {
	return s != nil && s.StartedAt != nil
}

// MemberState is the quarantine state of one (guild, member) pair.
//
// The row is written before the external role mutation is attempted and
// advanced only after the directory confirms it, so the persisted state
// is the single source of truth for "should have the quarantine role".
type MemberState string

const (
	// StatePendingAdd: quarantine decided, role grant not yet confirmed.
	StatePendingAdd MemberState = "pending_add"
	// StateAdded: the directory confirmed the role grant.
	StateAdded MemberState = "added"
	// StatePendingRemove: removal decided, role revoke not yet confirmed.
	StatePendingRemove MemberState = "pending_remove"
)

// IsValid checks whether the member state is a known value.
func (s MemberState) IsValid() bool {
	switch s {
	case StatePendingAdd, StateAdded, StatePendingRemove:
		return true
	}
	return false
}

// GatekeeperMember is a per-member quarantine row. The row exists only
// while quarantine is pending or active; confirmed removal deletes it.
type GatekeeperMember struct {
	GuildID  int64       `json:"guild_id"`
	MemberID int64       `json:"member_id"`
	State    MemberState `json:"state"`
	// ApplyFailed marks a row whose external mutation hit a permanent
	// error; the reconciler stops retrying it and operators must act.
	ApplyFailed bool `json:"apply_failed,omitempty"`
	// VerifyBy is the verification deadline; a member still unverified
	// past it is removed and the session's bypass action is enqueued.
	VerifyBy  *time.Time `json:"verify_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
