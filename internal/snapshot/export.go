package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/groblegark/warden/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	ConfigCount   int       `json:"config_count"`
	SessionCount  int       `json:"session_count"`
	MemberCount   int       `json:"member_count"`
	LockdownCount int       `json:"lockdown_count"`
	ActionCount   int       `json:"action_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the engine's desired-state tables as JSONL to w:
// automod configs, gatekeeper sessions, member rows, lockdown rows, and
// the one-shot action queue, each sorted for stable diffs.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	configs, err := s.AllAutomodConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list automod configs: %w", err)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].GuildID < configs[j].GuildID })

	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].GuildID < sessions[j].GuildID })

	members, err := s.AllMembers(ctx)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].GuildID != members[j].GuildID {
			return members[i].GuildID < members[j].GuildID
		}
		return members[i].MemberID < members[j].MemberID
	})

	lockdowns, err := s.AllLockdowns(ctx)
	if err != nil {
		return fmt.Errorf("list lockdowns: %w", err)
	}
	sort.Slice(lockdowns, func(i, j int) bool {
		if lockdowns[i].GuildID != lockdowns[j].GuildID {
			return lockdowns[i].GuildID < lockdowns[j].GuildID
		}
		return lockdowns[i].ChannelID < lockdowns[j].ChannelID
	})

	actions, err := s.AllActions(ctx)
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].ID < actions[j].ID })

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       "1",
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		ConfigCount:   len(configs),
		SessionCount:  len(sessions),
		MemberCount:   len(members),
		LockdownCount: len(lockdowns),
		ActionCount:   len(actions),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, c := range configs {
		if err := enc.Encode(record{Type: "automod_config", Data: c}); err != nil {
			return fmt.Errorf("encode config for guild %d: %w", c.GuildID, err)
		}
	}
	for _, s := range sessions {
		if err := enc.Encode(record{Type: "session", Data: s}); err != nil {
			return fmt.Errorf("encode session for guild %d: %w", s.GuildID, err)
		}
	}
	for _, m := range members {
		if err := enc.Encode(record{Type: "member", Data: m}); err != nil {
			return fmt.Errorf("encode member %d/%d: %w", m.GuildID, m.MemberID, err)
		}
	}
	for _, l := range lockdowns {
		if err := enc.Encode(record{Type: "lockdown", Data: l}); err != nil {
			return fmt.Errorf("encode lockdown %d/%d: %w", l.GuildID, l.ChannelID, err)
		}
	}
	for _, a := range actions {
		if err := enc.Encode(record{Type: "action", Data: a}); err != nil {
			return fmt.Errorf("encode action %s: %w", a.ID, err)
		}
	}

	return nil
}
