// Package client provides a transport-agnostic interface for the warden
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/server"
)

// WardenClient is the interface all warden CLI commands use to talk to
// the engine. Implemented by HTTPClient.
type WardenClient interface {
	// Gatekeeper
	ActivateGatekeeper(ctx context.Context, guildID int64, req *server.ActivateRequest) (*model.GatekeeperSession, error)
	DeactivateGatekeeper(ctx context.Context, guildID int64) error
	GatekeeperStatus(ctx context.Context, guildID int64) (*server.StatusResponse, error)
	ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error)
	MemberState(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error)
	VerifyMember(ctx context.Context, guildID, memberID int64) error

	// Lockdown
	Lock(ctx context.Context, guildID int64, channelIDs []int64, duration time.Duration, actor string) ([]int64, error)
	Unlock(ctx context.Context, guildID, channelID int64) error
	UnlockAll(ctx context.Context, guildID int64) ([]int64, error)
	ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error)

	// Automod
	GetAutomod(ctx context.Context, guildID int64) (*server.AutomodConfigBody, error)
	SetAutomod(ctx context.Context, guildID int64, body *server.AutomodConfigBody) (*server.AutomodConfigBody, error)

	// Diagnostics
	ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}
