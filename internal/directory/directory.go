// Package directory defines the boundary to the external directory
// service that actually grants roles, revokes roles, and writes channel
// permission overwrites. Every call can fail in one of two ways the
// reconciler cares about: retryable (rate limit, transient network) or
// permanent (target gone, permission denied).
//
// Only the reconciler may call these mutation methods; everything else
// reads persisted state.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/groblegark/warden/internal/model"
)

// Directory is the external mutation API.
type Directory interface {
	GrantRole(ctx context.Context, guildID, memberID, roleID int64) error
	RevokeRole(ctx context.Context, guildID, memberID, roleID int64) error
	// ChannelOverwrite reads the current allow/deny pair for a role or
	// member on a channel. A missing overwrite is the zero pair, not an
	// error. This is the one read on the interface: lockdown captures
	// the pre-lock pair so unlock can restore it exactly.
	ChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64) (model.Overwrite, error)
	// SetChannelOverwrite writes the allow/deny pair for a role or
	// member on a channel. A zero overwrite clears it.
	SetChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64, overwrite model.Overwrite) error
	Ban(ctx context.Context, guildID, memberID int64, reason string) error
	Kick(ctx context.Context, guildID, memberID int64, reason string) error
}

// FailureKind classifies a directory error for retry policy.
type FailureKind int

const (
	// FailureRetryable covers rate limiting and transient transport
	// problems; the reconciler retries with backoff.
	FailureRetryable FailureKind = iota
	// FailurePermanent covers missing targets and revoked permissions;
	// the row is flagged apply-failed and never retried.
	FailurePermanent
)

// Error is a classified directory failure.
type Error struct {
	Kind   FailureKind
	Status int // HTTP status when the failure came from a response
	Msg    string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory: %s (status %d)", e.Msg, e.Status)
	}
	return "directory: " + e.Msg
}

// Retryable reports whether the reconciler should retry the call.
func (e *Error) Retryable() bool {
	return e.Kind == FailureRetryable
}

// IsRetryable reports whether err is a directory failure worth
// retrying. Unclassified errors (context cancellation, programming
// bugs) are not retried here; the caller decides.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable()
}

// IsPermanent reports whether err is a directory failure that will
// never succeed on retry.
func IsPermanent(err error) bool {
	var de *Error
	return errors.As(err, &de) && !de.Retryable()
}

// Retryable wraps a transient failure.
func Retryable(format string, args ...any) *Error {
	return &Error{Kind: FailureRetryable, Msg: fmt.Sprintf(format, args...)}
}

// Permanent wraps a failure that retrying cannot fix.
func Permanent(format string, args ...any) *Error {
	return &Error{Kind: FailurePermanent, Msg: fmt.Sprintf(format, args...)}
}

// classifyStatus maps an HTTP response status to a failure kind.
// 429 and server errors are worth retrying; everything else in the
// error range means the request itself can never succeed.
func classifyStatus(status int) FailureKind {
	if status == 429 || status >= 500 {
		return FailureRetryable
	}
	return FailurePermanent
}
