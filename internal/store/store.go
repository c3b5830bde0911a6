// Package store defines the persistence interface for the defense engine.
//
// Ownership rules: gatekeeper session and member rows belong to the
// gatekeeper package, lockdown rows to the lockdown package, and only
// the reconciler advances a row out of a pending state. Transitions are
// compare-and-swap: they apply only if the row is still in the expected
// prior state, so a stale confirmation can never corrupt a row that has
// already moved on.
package store

import (
	"context"
	"time"

	"github.com/groblegark/warden/internal/model"
)

// Store is the persistence interface backing the engine. All reads of
// "is this member quarantined" / "is this channel locked" go through
// the store, never through the external directory.
type Store interface {
	// Automod config
	GetAutomodConfig(ctx context.Context, guildID int64) (*model.AutomodConfig, error)
	UpsertAutomodConfig(ctx context.Context, cfg *model.AutomodConfig) error
	AllAutomodConfigs(ctx context.Context) ([]*model.AutomodConfig, error)

	// Gatekeeper sessions
	GetSession(ctx context.Context, guildID int64) (*model.GatekeeperSession, error)
	CreateSession(ctx context.Context, session *model.GatekeeperSession) error
	StartSession(ctx context.Context, guildID int64, at time.Time) (bool, error)
	StopSession(ctx context.Context, guildID int64) error
	DeleteSession(ctx context.Context, guildID int64) error
	AllSessions(ctx context.Context) ([]*model.GatekeeperSession, error)

	// Gatekeeper members. InsertMember reports false when a row for the
	// member already exists (idempotent quarantine).
	InsertMember(ctx context.Context, m *model.GatekeeperMember) (bool, error)
	GetMember(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error)
	ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error)
	CountMembers(ctx context.Context, guildID int64) (int, error)
	TransitionMember(ctx context.Context, guildID, memberID int64, from, to model.MemberState) (bool, error)
	TransitionAllMembers(ctx context.Context, guildID int64, from, to model.MemberState) (int, error)
	DeleteMemberIfState(ctx context.Context, guildID, memberID int64, state model.MemberState) (bool, error)
	MarkMemberFailed(ctx context.Context, guildID, memberID int64) error
	ExpiredMembers(ctx context.Context, now time.Time, limit int) ([]*model.GatekeeperMember, error)
	AllMembers(ctx context.Context) ([]*model.GatekeeperMember, error)

	// Lockdowns. InsertLockdown reports false when the channel already
	// has an entry.
	InsertLockdown(ctx context.Context, e *model.LockdownEntry) (bool, error)
	GetLockdown(ctx context.Context, guildID, channelID int64) (*model.LockdownEntry, error)
	ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error)
	TransitionLockdown(ctx context.Context, guildID, channelID int64, from, to model.LockState) (bool, error)
	DeleteLockdownIfState(ctx context.Context, guildID, channelID int64, state model.LockState) (bool, error)
	MarkLockdownFailed(ctx context.Context, guildID, channelID int64) error
	ExpiredLockdowns(ctx context.Context, now time.Time, limit int) ([]*model.LockdownEntry, error)
	AllLockdowns(ctx context.Context) ([]*model.LockdownEntry, error)

	// One-shot actions
	EnqueueAction(ctx context.Context, a *model.PendingAction) error
	DeleteAction(ctx context.Context, id string) (bool, error)
	MarkActionFailed(ctx context.Context, id string) error
	AllActions(ctx context.Context) ([]*model.PendingAction, error)

	// Reconciler work selection. PendingGuilds lists guilds with at
	// least one unfailed pending row; PendingMutations returns that
	// guild's pending work oldest-first, bounded by limit.
	PendingGuilds(ctx context.Context) ([]int64, error)
	PendingMutations(ctx context.Context, guildID int64, limit int) ([]model.Mutation, error)

	// Diagnostics
	RecordDiagnostic(ctx context.Context, d *model.Diagnostic) error
	ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
