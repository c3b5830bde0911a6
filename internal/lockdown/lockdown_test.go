package lockdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store/memory"
)

// fakeDirectory serves canned channel overwrites and rejects mutations;
// the manager must only read.
type fakeDirectory struct {
	overwrites map[int64]model.Overwrite // by channel ID
	readErr    error
}

func (f *fakeDirectory) ChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64) (model.Overwrite, error) {
	if f.readErr != nil {
		return model.Overwrite{}, f.readErr
	}
	return f.overwrites[channelID], nil
}

func (f *fakeDirectory) GrantRole(ctx context.Context, guildID, memberID, roleID int64) error {
	return errors.New("unexpected mutation")
}

func (f *fakeDirectory) RevokeRole(ctx context.Context, guildID, memberID, roleID int64) error {
	return errors.New("unexpected mutation")
}

func (f *fakeDirectory) SetChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64, overwrite model.Overwrite) error {
	return errors.New("unexpected mutation")
}

func (f *fakeDirectory) Ban(ctx context.Context, guildID, memberID int64, reason string) error {
	return errors.New("unexpected mutation")
}

func (f *fakeDirectory) Kick(ctx context.Context, guildID, memberID int64, reason string) error {
	return errors.New("unexpected mutation")
}

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func newManager(t *testing.T, dir *fakeDirectory) (*Manager, *memory.MemoryStore, *countingWaker) {
	t.Helper()
	st := memory.New()
	w := &countingWaker{}
	m := New(st, dir, w, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, st, w
}

func TestLockCapturesOriginal(t *testing.T) {
	orig := model.Overwrite{Allow: model.PermConnect, Deny: 1 << 3}
	dir := &fakeDirectory{overwrites: map[int64]model.Overwrite{42: orig}}
	m, st, w := newManager(t, dir)
	ctx := context.Background()

	if err := m.Lock(ctx, 1, 42, "ops"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	e, err := st.GetLockdown(ctx, 1, 42)
	if err != nil || e == nil {
		t.Fatalf("lockdown row missing: %v", err)
	}
	if e.State != model.LockPending {
		t.Fatalf("state = %q, want pending_lock", e.State)
	}
	if e.Original != orig {
		t.Fatalf("original = %+v, want %+v", e.Original, orig)
	}
	if e.Actor != "ops" || e.ExpiresAt != nil {
		t.Fatalf("row = %+v", e)
	}
	if w.n != 1 {
		t.Fatalf("waker called %d times, want 1", w.n)
	}
}

func TestLockAlreadyLocked(t *testing.T) {
	m, _, _ := newManager(t, &fakeDirectory{})
	ctx := context.Background()

	if err := m.Lock(ctx, 1, 42, "ops"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Lock(ctx, 1, 42, "ops"); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second Lock = %v, want ErrAlreadyLocked", err)
	}
}

func TestLockDirectoryReadFailure(t *testing.T) {
	readErr := errors.New("directory down")
	m, st, _ := newManager(t, &fakeDirectory{readErr: readErr})
	ctx := context.Background()

	if err := m.Lock(ctx, 1, 42, "ops"); !errors.Is(err, readErr) {
		t.Fatalf("Lock = %v, want read error", err)
	}
	// No row is written when the original could not be captured.
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e != nil {
		t.Fatalf("row written despite failed capture: %+v", e)
	}
}

func TestLockFor(t *testing.T) {
	m, st, _ := newManager(t, &fakeDirectory{})
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }

	if err := m.LockFor(ctx, 1, 42, "ops", time.Hour); err != nil {
		t.Fatalf("LockFor: %v", err)
	}
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v, want %v", e.ExpiresAt, start.Add(time.Hour))
	}

	if err := m.LockFor(ctx, 1, 43, "ops", -time.Minute); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestUnlock(t *testing.T) {
	m, st, _ := newManager(t, &fakeDirectory{})
	ctx := context.Background()

	if err := m.Unlock(ctx, 1, 42); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("Unlock with no row = %v, want ErrNotLocked", err)
	}

	if err := m.Lock(ctx, 1, 42, "ops"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	st.TransitionLockdown(ctx, 1, 42, model.LockPending, model.Locked)

	if err := m.Unlock(ctx, 1, 42); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e.State != model.LockPendingRevert {
		t.Fatalf("state = %q, want pending_unlock", e.State)
	}

	// Repeated unlock is a no-op.
	if err := m.Unlock(ctx, 1, 42); err != nil {
		t.Fatalf("repeat Unlock: %v", err)
	}
}

func TestUnlockBeforeLockConfirmed(t *testing.T) {
	m, st, _ := newManager(t, &fakeDirectory{})
	ctx := context.Background()

	if err := m.Lock(ctx, 1, 42, "ops"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// Channel still pending_lock; unlock queues the restore anyway.
	if err := m.Unlock(ctx, 1, 42); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e.State != model.LockPendingRevert {
		t.Fatalf("state = %q, want pending_unlock", e.State)
	}
}

func TestLockAllAndUnlockAll(t *testing.T) {
	m, _, _ := newManager(t, &fakeDirectory{})
	ctx := context.Background()

	if err := m.Lock(ctx, 1, 11, "ops"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	locked, err := m.LockAll(ctx, 1, []int64{10, 11, 12}, "ops")
	if err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	if len(locked) != 2 || locked[0] != 10 || locked[1] != 12 {
		t.Fatalf("locked = %v, want [10 12]", locked)
	}

	entries, err := m.ListLocked(ctx, 1)
	if err != nil || len(entries) != 3 {
		t.Fatalf("ListLocked: %d entries, err %v", len(entries), err)
	}

	unlocked, err := m.UnlockAll(ctx, 1)
	if err != nil {
		t.Fatalf("UnlockAll: %v", err)
	}
	if len(unlocked) != 3 {
		t.Fatalf("unlocked = %v, want all three", unlocked)
	}
	for _, e := range mustList(t, m, 1) {
		if e.State != model.LockPendingRevert {
			t.Fatalf("channel %d state = %q, want pending_unlock", e.ChannelID, e.State)
		}
	}
}

func mustList(t *testing.T, m *Manager, guildID int64) []*model.LockdownEntry {
	t.Helper()
	entries, err := m.ListLocked(context.Background(), guildID)
	if err != nil {
		t.Fatalf("ListLocked: %v", err)
	}
	return entries
}
