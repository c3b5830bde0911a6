package model

// Permissions is a bitmask of channel capabilities. Only the bits the
// engine manipulates are named; unknown bits round-trip untouched so an
// overwrite written by another tool is never clobbered.
type Permissions uint64

const (
	PermAddReactions          Permissions = 1 << 6
	PermSendMessages          Permissions = 1 << 11
	PermConnect               Permissions = 1 << 20
	PermUseApplicationCmds    Permissions = 1 << 31
	PermCreatePublicThreads   Permissions = 1 << 35
	PermCreatePrivateThreads  Permissions = 1 << 36
	PermSendMessagesInThreads Permissions = 1 << 38
)

// communicationBits are the capabilities denied while a channel is locked.
const communicationBits = PermSendMessages |
	PermConnect |
	PermAddReactions |
	PermUseApplicationCmds |
	PermCreatePublicThreads |
	PermCreatePrivateThreads |
	PermSendMessagesInThreads

// Has reports whether every bit in p2 is set in p.
func (p Permissions) Has(p2 Permissions) bool {
	return p&p2 == p2
}

// Overwrite is a per-channel allow/deny bitmask pair for a role or member.
// A zero Overwrite means "no overwrite": every capability inherited.
type Overwrite struct {
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

// Pair returns the raw allow and deny masks.
func (o Overwrite) Pair() (allow, deny Permissions) {
	return o.Allow, o.Deny
}

// OverwriteFromPair builds an Overwrite from raw persisted masks.
func OverwriteFromPair(allow, deny uint64) Overwrite {
	return Overwrite{Allow: Permissions(allow), Deny: Permissions(deny)}
}

// Lockdown returns the overwrite with all communication capabilities
// denied. Bits outside the communication set are preserved as-is, so
// lifting the lockdown with the original pair is an exact restore.
func (o Overwrite) Lockdown() Overwrite {
	return Overwrite{
		Allow: o.Allow &^ communicationBits,
		Deny:  o.Deny | communicationBits,
	}
}

// IsZero reports whether the overwrite carries no allow and no deny bits.
func (o Overwrite) IsZero() bool {
	return o.Allow == 0 && o.Deny == 0
}
