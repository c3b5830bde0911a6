// Package lockdown owns the channel lockdown ledger.
//
// Locking a channel captures the everyone-role overwrite as it stood,
// persists it, and queues a deny overwrite; unlocking queues an exact
// restore of the captured pair. Rows move pending_lock -> locked ->
// pending_unlock and are deleted on confirmed restore. Only the
// reconciler advances rows out of pending states.
package lockdown

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/groblegark/warden/internal/directory"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store"
)

var (
	// ErrAlreadyLocked is returned by Lock when the channel already has
	// a lockdown row.
	ErrAlreadyLocked = errors.New("lockdown: channel already locked")
	// ErrNotLocked is returned by Unlock when the channel has no row.
	ErrNotLocked = errors.New("lockdown: channel not locked")
)

// Waker nudges the reconciler after new pending rows are written.
type Waker interface {
	Wake()
}

// Manager implements lockdown operations on top of the store and the
// directory's overwrite read.
type Manager struct {
	store  store.Store
	dir    directory.Directory
	waker  Waker
	logger *slog.Logger
	now    func() time.Time
}

// New creates the lockdown manager.
func New(st store.Store, dir directory.Directory, waker Waker, logger *slog.Logger) *Manager {
	return &Manager{store: st, dir: dir, waker: waker, logger: logger, now: time.Now}
}

// Lock captures the channel's current everyone-role overwrite and
// writes a pending_lock row. The deny overwrite itself is applied by
// the reconciler.
func (m *Manager) Lock(ctx context.Context, guildID, channelID int64, actor string) error {
	return m.lock(ctx, guildID, channelID, actor, nil)
}

// LockFor is Lock with an expiry; the reconciler lifts the lockdown
// once the deadline passes.
func (m *Manager) LockFor(ctx context.Context, guildID, channelID int64, actor string, d time.Duration) error {
	if d <= 0 {
		return errors.New("lockdown: duration must be positive")
	}
	expiry := m.now().UTC().Add(d)
	return m.lock(ctx, guildID, channelID, actor, &expiry)
}

func (m *Manager) lock(ctx context.Context, guildID, channelID int64, actor string, expiresAt *time.Time) error {
	// Fail fast before the directory read when a row already exists.
	existing, err := m.store.GetLockdown(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyLocked
	}

	// The everyone role shares the guild's ID.
	original, err := m.dir.ChannelOverwrite(ctx, guildID, channelID, guildID)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	inserted, err := m.store.InsertLockdown(ctx, &model.LockdownEntry{
		GuildID:   guildID,
		ChannelID: channelID,
		Original:  original,
		State:     model.LockPending,
		ExpiresAt: expiresAt,
		Actor:     actor,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyLocked
	}
	m.logger.Info("channel lockdown queued",
		"guild_id", guildID, "channel_id", channelID, "actor", actor, "expires_at", expiresAt)
	m.waker.Wake()
	return nil
}

// LockAll locks every listed channel, skipping ones already locked.
// It returns the channels whose lockdown was newly queued.
func (m *Manager) LockAll(ctx context.Context, guildID int64, channelIDs []int64, actor string) ([]int64, error) {
	locked := make([]int64, 0, len(channelIDs))
	for _, ch := range channelIDs {
		switch err := m.Lock(ctx, guildID, ch, actor); {
		case errors.Is(err, ErrAlreadyLocked):
		case err != nil:
			return locked, err
		default:
			locked = append(locked, ch)
		}
	}
	return locked, nil
}

// Unlock queues restoration of the channel's original overwrite. A
// channel whose lock was never confirmed is unlocked the same way: the
// restore write is idempotent.
func (m *Manager) Unlock(ctx context.Context, guildID, channelID int64) error {
	e, err := m.store.GetLockdown(ctx, guildID, channelID)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrNotLocked
	}
	if e.State == model.LockPendingRevert {
		return nil
	}

	moved, err := m.store.TransitionLockdown(ctx, guildID, channelID, e.State, model.LockPendingRevert)
	if err != nil {
		return err
	}
	if !moved {
		// Raced with the reconciler; re-read and retry once from the
		// advanced state.
		e, err = m.store.GetLockdown(ctx, guildID, channelID)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrNotLocked
		}
		if e.State != model.LockPendingRevert {
			if _, err := m.store.TransitionLockdown(ctx, guildID, channelID, e.State, model.LockPendingRevert); err != nil {
				return err
			}
		}
	}
	m.logger.Info("channel unlock queued", "guild_id", guildID, "channel_id", channelID)
	m.waker.Wake()
	return nil
}

// UnlockAll queues restoration for every lockdown row in the guild and
// returns the affected channels.
func (m *Manager) UnlockAll(ctx context.Context, guildID int64) ([]int64, error) {
	entries, err := m.store.ListLockdowns(ctx, guildID)
	if err != nil {
		return nil, err
	}
	unlocked := make([]int64, 0, len(entries))
	for _, e := range entries {
		switch err := m.Unlock(ctx, guildID, e.ChannelID); {
		case errors.Is(err, ErrNotLocked):
		case err != nil:
			return unlocked, err
		default:
			unlocked = append(unlocked, e.ChannelID)
		}
	}
	return unlocked, nil
}

// ListLocked returns the guild's lockdown rows, including pending and
// apply-failed ones.
func (m *Manager) ListLocked(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error) {
	return m.store.ListLockdowns(ctx, guildID)
}
