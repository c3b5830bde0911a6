package model

import "strings"

// AutomodFlags is the bitflag set of defensive behaviors enabled for a
// guild. The raw integer exists only at the persistence and API
// boundaries; callers use the named accessors.
type AutomodFlags uint16

const (
	// FlagJoins enables join tracking and the gatekeeper quarantine.
	FlagJoins AutomodFlags = 1 << 0
	// FlagRaid enables auto-banning of members caught spamming.
	FlagRaid AutomodFlags = 1 << 1
	// FlagMentions enables auto-banning for mention spam.
	FlagMentions AutomodFlags = 1 << 2
	// FlagLockdown enables automatic channel lockdown on raid activation.
	FlagLockdown AutomodFlags = 1 << 3
)

var flagNames = []struct {
	bit  AutomodFlags
	name string
}{
	{FlagJoins, "joins"},
	{FlagRaid, "raid"},
	{FlagMentions, "mentions"},
	{FlagLockdown, "lockdown"},
}

func (f AutomodFlags) Joins() bool    { return f&FlagJoins != 0 }
func (f AutomodFlags) Raid() bool     { return f&FlagRaid != 0 }
func (f AutomodFlags) Mentions() bool { return f&FlagMentions != 0 }
func (f AutomodFlags) Lockdown() bool { return f&FlagLockdown != 0 }

// With returns the flag set with the given bits enabled.
func (f AutomodFlags) With(bits AutomodFlags) AutomodFlags {
	return f | bits
}

// Without returns the flag set with the given bits cleared.
func (f AutomodFlags) Without(bits AutomodFlags) AutomodFlags {
	return f &^ bits
}

// String renders the enabled flags as a comma-separated list.
func (f AutomodFlags) String() string {
	var enabled []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			enabled = append(enabled, fn.name)
		}
	}
	if len(enabled) == 0 {
		return "none"
	}
	return strings.Join(enabled, ",")
}

// FlagByName maps an operator-facing flag name to its bit.
// Returns 0 for unknown names.
func FlagByName(name string) AutomodFlags {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.bit
		}
	}
	return 0
}

// FlagNames lists the operator-facing names of all known flags.
func FlagNames() []string {
	names := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		names = append(names, fn.name)
	}
	return names
}
