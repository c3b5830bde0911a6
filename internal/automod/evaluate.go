// Package automod evaluates guild automod policy against observed
// events. Evaluation is pure: the caller passes an immutable config
// snapshot and receives the set of defensive actions to apply; applying
// them exactly once is the caller's job.
package automod

import (
	"strings"

	"github.com/groblegark/warden/internal/model"
)

// EventKind classifies an observed event for flag evaluation.
type EventKind int

const (
	// EventJoinBurst: member joins crossed the configured rate.
	EventJoinBurst EventKind = iota
	// EventMentionSpam: a message crossed the mention threshold.
	EventMentionSpam
	// EventMessageSpam: a member tripped the spam checker.
	EventMessageSpam
)

// ActionSet is the set of defensive actions an event triggers.
type ActionSet uint8

const (
	ActionAlert ActionSet = 1 << iota
	ActionLockdown
	ActionGatekeeper
	ActionBan
)

func (a ActionSet) Alert() bool      { return a&ActionAlert != 0 }
func (a ActionSet) Lockdown() bool   { return a&ActionLockdown != 0 }
func (a ActionSet) Gatekeeper() bool { return a&ActionGatekeeper != 0 }
func (a ActionSet) Ban() bool        { return a&ActionBan != 0 }

// String renders the actions for logging.
func (a ActionSet) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	if a.Alert() {
		parts = append(parts, "alert")
	}
	if a.Lockdown() {
		parts = append(parts, "lockdown")
	}
	if a.Gatekeeper() {
		parts = append(parts, "gatekeeper")
	}
	if a.Ban() {
		parts = append(parts, "ban")
	}
	return strings.Join(parts, ",")
}

// Evaluate maps an event to the actions the guild's flags enable for
// it. Multiple actions may fire from one event; none fire when the
// relevant flags are disabled.
func Evaluate(flags model.AutomodFlags, event EventKind) ActionSet {
	var actions ActionSet
	switch event {
	case EventJoinBurst:
		if flags.Joins() {
			actions |= ActionGatekeeper | ActionAlert
		}
		if flags.Lockdown() {
			actions |= ActionLockdown
		}
	case EventMentionSpam:
		if flags.Mentions() {
			actions |= ActionBan | ActionAlert
		}
	case EventMessageSpam:
		if flags.Raid() {
			actions |= ActionBan | ActionAlert
		}
	}
	return actions
}
