package gatekeeper

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

func newService(t *testing.T) (*Service, *memory.MemoryStore) {
	t.Helper()
	st := memory.New()
	svc := New(st, NoopWaker{}, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	return svc, st
}

func testSession(guildID int64) *model.GatekeeperSession {
	return &model.GatekeeperSession{
		GuildID:   guildID,
		ChannelID: 100,
		RoleID:    200,
		Message:   "react to verify",
		Bypass:    model.BypassBan,
		Rate:      model.RatePolicy{Joins: 5, Per: 10 * time.Second},
	}
}

func TestActivateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.GatekeeperSession)
	}{
		{"missing channel", func(s *model.GatekeeperSession) { s.ChannelID = 0 }},
		{"missing role", func(s *model.GatekeeperSession) { s.RoleID = 0 }},
		{"missing message", func(s *model.GatekeeperSession) { s.Message = "" }},
		{"bad bypass", func(s *model.GatekeeperSession) { s.Bypass = "mute" }},
		{"bad rate", func(s *model.GatekeeperSession) { s.Rate = model.RatePolicy{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := testSession(1)
			tt.mutate(session)
			if err := svc.Activate(ctx, session); err == nil {
				t.Fatal("incomplete session accepted")
			}
		})
	}
}

func TestActivateAndDeactivate(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	activated := testSession(1)
	if err := svc.Activate(ctx, activated); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// The caller's session carries the activation time, so the API can
	// echo it without a second read.
	if !activated.Active() {
		t.Fatal("activated session not marked started for the caller")
	}
	sess, err := st.GetSession(ctx, 1)
	if err != nil || !sess.Active() {
		t.Fatalf("session not active after Activate: %+v, %v", sess, err)
	}

	if err := svc.Activate(ctx, testSession(1)); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Activate = %v, want ErrAlreadyActive", err)
	}

	if err := svc.Deactivate(ctx, 1); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	sess, _ = st.GetSession(ctx, 1)
	if sess.Active() {
		t.Fatal("session still active after Deactivate")
	}
	if err := svc.Deactivate(ctx, 1); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second Deactivate = %v, want ErrNotActive", err)
	}
}

func TestActivateWhileMembersDraining(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if err := svc.Deactivate(ctx, 1); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// The member row is still pending_remove; a new session row would
	// repoint the role that removal joins against.
	if err := svc.Activate(ctx, testSession(1)); !errors.Is(err, ErrMembersDraining) {
		t.Fatalf("Activate during drain = %v, want ErrMembersDraining", err)
	}

	// Once the last row drains, activation succeeds again.
	if _, err := st.DeleteMemberIfState(ctx, 1, 42, model.StatePendingRemove); err != nil {
		t.Fatalf("DeleteMemberIfState: %v", err)
	}
	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate after drain: %v", err)
	}
	sess, _ := st.GetSession(ctx, 1)
	if !sess.Active() {
		t.Fatal("session not active after reactivation")
	}
}

func TestQuarantineRequiresActiveSession(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Quarantine(ctx, 1, 42); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("Quarantine with no session = %v, want ErrSessionInactive", err)
	}
}

func TestQuarantineWritesPendingAdd(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	m, err := st.GetMember(ctx, 1, 42)
	if err != nil || m == nil {
		t.Fatalf("member row missing: %v", err)
	}
	if m.State != model.StatePendingAdd {
		t.Fatalf("state = %q, want pending_add", m.State)
	}
	want := start.Add(DefaultVerifyWindow)
	if m.VerifyBy == nil || !m.VerifyBy.Equal(want) {
		t.Fatalf("VerifyBy = %v, want %v", m.VerifyBy, want)
	}

	// Second quarantine of the same member leaves the row alone.
	st.TransitionMember(ctx, 1, 42, model.StatePendingAdd, model.StateAdded)
	if err := svc.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("repeat Quarantine: %v", err)
	}
	m, _ = st.GetMember(ctx, 1, 42)
	if m.State != model.StateAdded {
		t.Fatalf("repeat quarantine rewrote state to %q", m.State)
	}
}

func TestVerify(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Verify(ctx, 1, 42); !errors.Is(err, ErrNotQuarantined) {
		t.Fatalf("Verify with no row = %v, want ErrNotQuarantined", err)
	}

	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	st.TransitionMember(ctx, 1, 42, model.StatePendingAdd, model.StateAdded)

	if err := svc.Verify(ctx, 1, 42); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	m, _ := st.GetMember(ctx, 1, 42)
	if m.State != model.StatePendingRemove {
		t.Fatalf("state after Verify = %q, want pending_remove", m.State)
	}

	// A second verify while removal is pending is a no-op.
	if err := svc.Verify(ctx, 1, 42); err != nil {
		t.Fatalf("repeat Verify: %v", err)
	}
}

func TestVerifyBeforeGrantConfirmed(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	// Member tries to verify before the role grant was confirmed. The
	// row holds no role yet, so the release must be refused instead of
	// queueing a revoke for a role never granted.
	if err := svc.Verify(ctx, 1, 42); !errors.Is(err, ErrNotQuarantined) {
		t.Fatalf("Verify in pending_add = %v, want ErrNotQuarantined", err)
	}
	m, _ := st.GetMember(ctx, 1, 42)
	if m.State != model.StatePendingAdd {
		t.Fatalf("state = %q, want pending_add", m.State)
	}

	// After the grant is confirmed the same verify succeeds.
	st.TransitionMember(ctx, 1, 42, model.StatePendingAdd, model.StateAdded)
	if err := svc.Verify(ctx, 1, 42); err != nil {
		t.Fatalf("Verify after grant: %v", err)
	}
	m, _ = st.GetMember(ctx, 1, 42)
	if m.State != model.StatePendingRemove {
		t.Fatalf("state = %q, want pending_remove", m.State)
	}
}

func TestDeactivateQueuesRemovals(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if err := svc.Activate(ctx, testSession(1)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	for _, id := range []int64{10, 11, 12} {
		if err := svc.Quarantine(ctx, 1, id); err != nil {
			t.Fatalf("Quarantine %d: %v", id, err)
		}
	}
	st.TransitionMember(ctx, 1, 10, model.StatePendingAdd, model.StateAdded)

	if err := svc.Deactivate(ctx, 1); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	for _, id := range []int64{10, 11, 12} {
		m, _ := st.GetMember(ctx, 1, id)
		if m.State != model.StatePendingRemove {
			t.Fatalf("member %d state = %q, want pending_remove", id, m.State)
		}
	}
}
