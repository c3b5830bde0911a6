// Package gatekeeper owns the per-member quarantine state machine.
//
// Rows move pending_add -> added -> pending_remove and are deleted on
// confirmed removal. This package writes rows and requests transitions;
// only the reconciler advances a row out of a pending state, after the
// external directory confirms the mutation.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store"
)

var (
	// ErrAlreadyActive is returned by Activate when the guild already
	// has a running session.
	ErrAlreadyActive = errors.New("gatekeeper: session already active")
	// ErrNotActive is returned by Deactivate when no session is running.
	ErrNotActive = errors.New("gatekeeper: no active session")
	// ErrSessionInactive is returned by Quarantine when the guild has no
	// running session to quarantine into.
	ErrSessionInactive = errors.New("gatekeeper: session not active")
	// ErrNotQuarantined is returned by Verify for members with no row.
	ErrNotQuarantined = errors.New("gatekeeper: member not quarantined")
	// ErrMembersDraining is returned by Activate while a previous
	// session's member rows are still being released.
	ErrMembersDraining = errors.New("gatekeeper: previous session still releasing members")
)

// DefaultVerifyWindow is how long a quarantined member has to verify
// before the session's bypass action applies.
const DefaultVerifyWindow = 24 * time.Hour

// Waker nudges the reconciler after new pending rows are written.
type Waker interface {
	Wake()
}

// NoopWaker satisfies Waker for tests and for running without a
// reconciler.
type NoopWaker struct{}

func (NoopWaker) Wake() {}

// Service implements the quarantine operations on top of the store.
type Service struct {
	store        store.Store
	waker        Waker
	logger       *slog.Logger
	verifyWindow time.Duration
	now          func() time.Time
}

// New creates the gatekeeper service. A zero verifyWindow selects
// DefaultVerifyWindow.
func New(st store.Store, waker Waker, logger *slog.Logger, verifyWindow time.Duration) *Service {
	if verifyWindow <= 0 {
		verifyWindow = DefaultVerifyWindow
	}
	return &Service{
		store:        st,
		waker:        waker,
		logger:       logger,
		verifyWindow: verifyWindow,
		now:          time.Now,
	}
}

// Activate configures and starts a quarantine session for the guild.
// The configuration must be complete: channel, role, message, bypass
// action, and join-rate policy all set.
func (s *Service) Activate(ctx context.Context, session *model.GatekeeperSession) error {
	switch {
	case session.ChannelID == 0 || session.RoleID == 0 || session.Message == "":
		return fmt.Errorf("gatekeeper: session for guild %d not fully configured", session.GuildID)
	case !session.Bypass.IsValid():
		return fmt.Errorf("gatekeeper: invalid bypass action %q", session.Bypass)
	case session.Rate.Joins < 1 || session.Rate.Per <= 0:
		return fmt.Errorf("gatekeeper: invalid join-rate policy %q", session.Rate)
	}

	now := s.now().UTC()
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		existing, err := tx.GetSession(ctx, session.GuildID)
		if err != nil {
			return err
		}
		if existing.Active() {
			return ErrAlreadyActive
		}
		if existing != nil {
			// A stopped session's row lingers until its members drain.
			// Reusing it would repoint the role the pending removals
			// join against, so refuse until the drain finishes.
			n, err := tx.CountMembers(ctx, session.GuildID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrMembersDraining
			}
			if err := tx.DeleteSession(ctx, session.GuildID); err != nil {
				return err
			}
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		started, err := tx.StartSession(ctx, session.GuildID, now)
		if err != nil {
			return err
		}
		if !started {
			return ErrAlreadyActive
		}
		return nil
	})
	if err != nil {
		return err
	}
	session.StartedAt = &now
	s.logger.Info("gatekeeper session activated",
		"guild_id", session.GuildID, "channel_id", session.ChannelID, "role_id", session.RoleID,
		"bypass", session.Bypass, "rate", session.Rate.String())
	return nil
}

// Deactivate stops the guild's session and queues role removal for
// every quarantined member. The session row itself is deleted by the
// reconciler once the last member row drains.
func (s *Service) Deactivate(ctx context.Context, guildID int64) error {
	session, err := s.store.GetSession(ctx, guildID)
	if err != nil {
		return err
	}
	if !session.Active() {
		return ErrNotActive
	}

	pending, err := s.store.TransitionAllMembers(ctx, guildID, model.StatePendingAdd, model.StatePendingRemove)
	if err != nil {
		return err
	}
	added, err := s.store.TransitionAllMembers(ctx, guildID, model.StateAdded, model.StatePendingRemove)
	if err != nil {
		return err
	}
	if err := s.store.StopSession(ctx, guildID); err != nil {
		return err
	}
	s.logger.Info("gatekeeper session deactivated", "guild_id", guildID, "members_queued", pending+added)
	s.waker.Wake()
	return nil
}

// Quarantine records that the member should hold the quarantine role.
// Idempotent: a member with an existing row keeps it unchanged.
func (s *Service) Quarantine(ctx context.Context, guildID, memberID int64) error {
	session, err := s.store.GetSession(ctx, guildID)
	if err != nil {
		return err
	}
	if !session.Active() {
		return ErrSessionInactive
	}

	now := s.now().UTC()
	deadline := now.Add(s.verifyWindow)
	inserted, err := s.store.InsertMember(ctx, &model.GatekeeperMember{
		GuildID:   guildID,
		MemberID:  memberID,
		State:     model.StatePendingAdd,
		VerifyBy:  &deadline,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	s.logger.Info("member quarantined", "guild_id", guildID, "member_id", memberID, "verify_by", deadline)
	s.waker.Wake()
	return nil
}

// Verify releases a quarantined member: their row moves from added to
// pending_remove and the reconciler revokes the role. Only a confirmed
// grant can be verified; a member still in pending_add holds no role
// yet, so releasing them would queue a revoke for a role never granted.
// Verifying a member already on the way out is a no-op.
func (s *Service) Verify(ctx context.Context, guildID, memberID int64) error {
	m, err := s.store.GetMember(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotQuarantined
	}
	switch m.State {
	case model.StatePendingRemove:
		return nil
	case model.StateAdded:
	default:
		return ErrNotQuarantined
	}

	moved, err := s.store.TransitionMember(ctx, guildID, memberID, model.StateAdded, model.StatePendingRemove)
	if err != nil {
		return err
	}
	if !moved {
		// Lost a race with the reconciler or a concurrent verify; the
		// row is already past the state we read.
		return nil
	}
	s.logger.Info("member verified", "guild_id", guildID, "member_id", memberID)
	s.waker.Wake()
	return nil
}

// MemberState reads the member's quarantine row. Nil means the member
// is not quarantined.
func (s *Service) MemberState(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error) {
	return s.store.GetMember(ctx, guildID, memberID)
}

// Session reads the guild's session row, nil when none exists.
func (s *Service) Session(ctx context.Context, guildID int64) (*model.GatekeeperSession, error) {
	return s.store.GetSession(ctx, guildID)
}

// Members lists the guild's quarantine rows.
func (s *Service) Members(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error) {
	return s.store.ListMembers(ctx, guildID)
}
