package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/warden/internal/directory"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store/memory"
)

// fakeDirectory records calls and injects failures per call signature.
// With strictGrants set it rejects a repeated grant for a pair it has
// already granted, the way a directory that already holds the change
// would.
type fakeDirectory struct {
	mu           sync.Mutex
	calls        []string
	times        []time.Time
	fail         map[string]error
	granted      map[string]bool
	strictGrants bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{fail: make(map[string]error), granted: make(map[string]bool)}
}

func (f *fakeDirectory) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.times = append(f.times, time.Now())
	return f.fail[call]
}

func (f *fakeDirectory) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeDirectory) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.times))
	copy(out, f.times)
	return out
}

func (f *fakeDirectory) GrantRole(ctx context.Context, guildID, memberID, roleID int64) error {
	call := fmt.Sprintf("grant:%d:%d:%d", guildID, memberID, roleID)
	f.mu.Lock()
	dup := f.strictGrants && f.granted[call]
	f.granted[call] = true
	f.mu.Unlock()
	if dup {
		return directory.Permanent("role already granted")
	}
	return f.record(call)
}

func (f *fakeDirectory) RevokeRole(ctx context.Context, guildID, memberID, roleID int64) error {
	return f.record(fmt.Sprintf("revoke:%d:%d:%d", guildID, memberID, roleID))
}

func (f *fakeDirectory) ChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64) (model.Overwrite, error) {
	return model.Overwrite{}, nil
}

func (f *fakeDirectory) SetChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64, overwrite model.Overwrite) error {
	return f.record(fmt.Sprintf("overwrite:%d:%d:%d:%d", guildID, channelID, overwrite.Allow, overwrite.Deny))
}

func (f *fakeDirectory) Ban(ctx context.Context, guildID, memberID int64, reason string) error {
	return f.record(fmt.Sprintf("ban:%d:%d", guildID, memberID))
}

func (f *fakeDirectory) Kick(ctx context.Context, guildID, memberID int64, reason string) error {
	return f.record(fmt.Sprintf("kick:%d:%d", guildID, memberID))
}

type capturingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *capturingAlerter) Alert(ctx context.Context, alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func newReconciler(t *testing.T, dir *fakeDirectory) (*Reconciler, *memory.MemoryStore, *capturingAlerter) {
	t.Helper()
	st := memory.New()
	alerter := &capturingAlerter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// High rate so tests never block on the budget.
	r := New(st, dir, alerter, logger, Config{Rate: 10000, Burst: 100})
	return r, st, alerter
}

func seedSession(t *testing.T, st *memory.MemoryStore, guildID, roleID int64, start bool) {
	t.Helper()
	ctx := context.Background()
	err := st.CreateSession(ctx, &model.GatekeeperSession{
		GuildID:   guildID,
		ChannelID: 100,
		RoleID:    roleID,
		Message:   "verify",
		Bypass:    model.BypassBan,
		Rate:      model.RatePolicy{Joins: 5, Per: 10 * time.Second},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if start {
		if _, err := st.StartSession(ctx, guildID, time.Now()); err != nil {
			t.Fatalf("StartSession: %v", err)
		}
	}
}

func seedMember(t *testing.T, st *memory.MemoryStore, guildID, memberID int64, state model.MemberState, at time.Time) {
	t.Helper()
	inserted, err := st.InsertMember(context.Background(), &model.GatekeeperMember{
		GuildID: guildID, MemberID: memberID, State: state, CreatedAt: at, UpdatedAt: at,
	})
	if err != nil || !inserted {
		t.Fatalf("InsertMember: inserted=%v err=%v", inserted, err)
	}
}

func TestGrantRoleAdvancesRow(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	seedSession(t, st, 1, 200, true)
	seedMember(t, st, 1, 42, model.StatePendingAdd, time.Now())

	r.Pass(ctx)

	if n := dir.callCount("grant:1:42:200"); n != 1 {
		t.Fatalf("grant called %d times, want 1", n)
	}
	m, _ := st.GetMember(ctx, 1, 42)
	if m.State != model.StateAdded {
		t.Fatalf("state = %q, want added", m.State)
	}

	// A second pass finds nothing pending: the confirmed grant is not
	// reissued after a restart.
	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 1 {
		t.Fatalf("grant reissued after confirmation: %d calls", n)
	}
}

func TestRevokeDeletesRowAndDrainsSession(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	seedSession(t, st, 1, 200, false) // stopped session, members draining
	seedMember(t, st, 1, 42, model.StatePendingRemove, time.Now())

	r.Pass(ctx)

	if n := dir.callCount("revoke:1:42:200"); n != 1 {
		t.Fatalf("revoke called %d times, want 1", n)
	}
	m, _ := st.GetMember(ctx, 1, 42)
	if m != nil {
		t.Fatalf("member row survived confirmed revoke: %+v", m)
	}

	// Session row goes away once the last member drains.
	r.Pass(ctx)
	sess, _ := st.GetSession(ctx, 1)
	if sess != nil {
		t.Fatalf("stopped session not cleaned up: %+v", sess)
	}
}

func TestLockAndUnlockOverwrites(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	orig := model.Overwrite{Allow: model.PermSendMessages | 1<<3}
	st.InsertLockdown(ctx, &model.LockdownEntry{
		GuildID: 1, ChannelID: 42, Original: orig, State: model.LockPending, CreatedAt: time.Now(),
	})

	r.Pass(ctx)

	locked := orig.Lockdown()
	want := fmt.Sprintf("overwrite:1:42:%d:%d", locked.Allow, locked.Deny)
	if n := dir.callCount(want); n != 1 {
		t.Fatalf("lock overwrite %q called %d times, want 1 (calls %v)", want, n, dir.calls)
	}
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e.State != model.Locked {
		t.Fatalf("state = %q, want locked", e.State)
	}

	// Queue the unlock; the restore carries the original pair and the
	// row is deleted on confirmation.
	st.TransitionLockdown(ctx, 1, 42, model.Locked, model.LockPendingRevert)
	r.Pass(ctx)

	restore := fmt.Sprintf("overwrite:1:42:%d:%d", orig.Allow, orig.Deny)
	if n := dir.callCount(restore); n != 1 {
		t.Fatalf("restore overwrite called %d times, want 1", n)
	}
	e, _ = st.GetLockdown(ctx, 1, 42)
	if e != nil {
		t.Fatalf("lockdown row survived confirmed restore: %+v", e)
	}
}

func TestBanActionDrains(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	st.EnqueueAction(ctx, &model.PendingAction{
		ID: "act-1", GuildID: 1, MemberID: 42, Kind: model.ActionBan, Reason: "spam", CreatedAt: time.Now(),
	})

	r.Pass(ctx)

	if n := dir.callCount("ban:1:42"); n != 1 {
		t.Fatalf("ban called %d times, want 1", n)
	}
	actions, _ := st.AllActions(ctx)
	if len(actions) != 0 {
		t.Fatalf("action row survived confirmed ban: %+v", actions)
	}
}

func TestPermanentFailureFlagsRow(t *testing.T) {
	dir := newFakeDirectory()
	dir.fail["grant:1:42:200"] = directory.Permanent("role gone")
	r, st, alerter := newReconciler(t, dir)
	ctx := context.Background()

	seedSession(t, st, 1, 200, true)
	seedMember(t, st, 1, 42, model.StatePendingAdd, time.Now())

	r.Pass(ctx)

	m, _ := st.GetMember(ctx, 1, 42)
	if !m.ApplyFailed || m.State != model.StatePendingAdd {
		t.Fatalf("row = %+v, want apply-failed pending_add", m)
	}
	diags, _ := st.ListDiagnostics(ctx, 1, 10)
	if len(diags) != 1 || diags[0].Kind != model.DiagApplyFailed {
		t.Fatalf("diagnostics = %+v", diags)
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0].Kind != model.DiagApplyFailed {
		t.Fatalf("alerts = %+v", alerter.alerts)
	}

	// The flagged row left the work queue: no further attempts.
	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 1 {
		t.Fatalf("flagged row retried: %d calls", n)
	}
}

func TestRetryableFailureBacksOff(t *testing.T) {
	dir := newFakeDirectory()
	dir.fail["grant:1:42:200"] = directory.Retryable("rate limited")
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	seedSession(t, st, 1, 200, true)
	seedMember(t, st, 1, 42, model.StatePendingAdd, now)

	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 1 {
		t.Fatalf("grant attempts = %d, want 1", n)
	}
	m, _ := st.GetMember(ctx, 1, 42)
	if m.State != model.StatePendingAdd || m.ApplyFailed {
		t.Fatalf("retryable failure must not move or flag the row: %+v", m)
	}

	// Within the backoff window the row is skipped.
	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 1 {
		t.Fatalf("retried inside backoff window: %d calls", n)
	}

	// Past the window it retries, and the delay doubles each failure.
	now = now.Add(2 * time.Second)
	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 2 {
		t.Fatalf("not retried after backoff: %d calls", n)
	}
	now = now.Add(time.Second) // 1s < 2s doubled delay
	r.Pass(ctx)
	if n := dir.callCount("grant:1:42:200"); n != 2 {
		t.Fatalf("doubled backoff not honored: %d calls", n)
	}

	// Once the directory recovers, the row advances and backoff state
	// is cleared.
	dir.mu.Lock()
	delete(dir.fail, "grant:1:42:200")
	dir.mu.Unlock()
	now = now.Add(5 * time.Second)
	r.Pass(ctx)
	m, _ = st.GetMember(ctx, 1, 42)
	if m.State != model.StateAdded {
		t.Fatalf("state = %q after recovery, want added", m.State)
	}
	if len(r.backoff) != 0 {
		t.Fatalf("backoff state leaked: %v", r.backoff)
	}
}

func TestRoundRobinAcrossGuilds(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSession(t, st, 1, 200, true)
	seedSession(t, st, 2, 300, true)
	// Guild 1 has a deep queue, guild 2 one row.
	for i := int64(0); i < 3; i++ {
		seedMember(t, st, 1, 10+i, model.StatePendingAdd, base.Add(time.Duration(i)*time.Second))
	}
	seedMember(t, st, 2, 50, model.StatePendingAdd, base.Add(10*time.Second))

	r.Pass(ctx)

	// Guild 2's single mutation lands within the first round, not after
	// guild 1's whole queue.
	var posG2 int
	for i, c := range dir.calls {
		if c == "grant:2:50:300" {
			posG2 = i
		}
	}
	if posG2 > 1 {
		t.Fatalf("guild 2 starved until position %d: %v", posG2, dir.calls)
	}
	// Guild 1 drains oldest-first.
	if dir.callCount("grant:1:10:200") != 1 || dir.callCount("grant:1:11:200") != 1 || dir.callCount("grant:1:12:200") != 1 {
		t.Fatalf("guild 1 queue not fully drained: %v", dir.calls)
	}
}

func TestDrainHonorsRateBudget(t *testing.T) {
	dir := newFakeDirectory()
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// 20 calls/s with a burst of 2: any one-second window may admit at
	// most burst + rate calls.
	r := New(st, dir, &capturingAlerter{}, logger, Config{Rate: 20, Burst: 2, BatchSize: 50})
	ctx := context.Background()

	seedSession(t, st, 1, 200, true)
	base := time.Now()
	for i := int64(0); i < 30; i++ {
		seedMember(t, st, 1, 100+i, model.StatePendingAdd, base.Add(time.Duration(i)*time.Millisecond))
	}

	r.Pass(ctx)

	times := dir.callTimes()
	if len(times) != 30 {
		t.Fatalf("%d directory calls, want 30", len(times))
	}
	const maxPerWindow = 2 + 20
	for i := range times {
		n := 1
		for j := i + 1; j < len(times); j++ {
			if times[j].Sub(times[i]) < time.Second {
				n++
			}
		}
		if n > maxPerWindow {
			t.Fatalf("%d directory calls inside one second, budget allows %d", n, maxPerWindow)
		}
	}
}

func TestRestartMidDrainRepeatsNoGrant(t *testing.T) {
	dir := newFakeDirectory()
	dir.strictGrants = true
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	seedSession(t, st, 1, 200, true)
	base := time.Now()
	for i := int64(0); i < 5; i++ {
		seedMember(t, st, 1, 10+i, model.StatePendingAdd, base.Add(time.Duration(i)*time.Second))
	}

	// Small batch so the first pass leaves rows behind, like a crash
	// mid-drain would.
	first := New(st, dir, &capturingAlerter{}, logger, Config{Rate: 10000, Burst: 100, BatchSize: 2})
	first.Pass(ctx)

	// A fresh reconciler over the same store resumes from the next
	// unconfirmed row; the directory rejects duplicate grants, so any
	// re-issue would flag a row as failed.
	second := New(st, dir, &capturingAlerter{}, logger, Config{Rate: 10000, Burst: 100, BatchSize: 50})
	second.Pass(ctx)

	for i := int64(0); i < 5; i++ {
		key := fmt.Sprintf("grant:1:%d:200", 10+i)
		if n := dir.callCount(key); n != 1 {
			t.Fatalf("%s issued %d times across restart, want 1", key, n)
		}
	}
	members, _ := st.ListMembers(ctx, 1)
	if len(members) != 5 {
		t.Fatalf("%d member rows, want 5", len(members))
	}
	for _, m := range members {
		if m.State != model.StateAdded || m.ApplyFailed {
			t.Fatalf("member %d after restart drain = %+v", m.MemberID, m)
		}
	}
}

func TestSweepExpiredLockdown(t *testing.T) {
	dir := newFakeDirectory()
	r, st, _ := newReconciler(t, dir)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	expiry := now.Add(-time.Minute)
	st.InsertLockdown(ctx, &model.LockdownEntry{
		GuildID: 1, ChannelID: 42, State: model.Locked, ExpiresAt: &expiry, CreatedAt: now.Add(-time.Hour),
	})

	r.Pass(ctx)

	// Sweep queued the unlock and the same pass drained it.
	e, _ := st.GetLockdown(ctx, 1, 42)
	if e != nil {
		t.Fatalf("expired lockdown not lifted: %+v", e)
	}
	if n := dir.callCount("overwrite:1:42:0:0"); n != 1 {
		t.Fatalf("restore not issued: %v", dir.calls)
	}
}

func TestSweepVerificationDeadline(t *testing.T) {
	dir := newFakeDirectory()
	r, st, alerter := newReconciler(t, dir)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	seedSession(t, st, 1, 200, true)
	deadline := now.Add(-time.Minute)
	st.InsertMember(ctx, &model.GatekeeperMember{
		GuildID: 1, MemberID: 42, State: model.StateAdded, VerifyBy: &deadline,
		CreatedAt: now.Add(-25 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour),
	})

	r.Pass(ctx)

	// Role revoke and the bypass ban both went out.
	if n := dir.callCount("revoke:1:42:200"); n != 1 {
		t.Fatalf("revoke not issued: %v", dir.calls)
	}
	if n := dir.callCount("ban:1:42"); n != 1 {
		t.Fatalf("bypass ban not issued: %v", dir.calls)
	}
	diags, _ := st.ListDiagnostics(ctx, 1, 10)
	if len(diags) != 1 || diags[0].Kind != model.DiagAutoBan {
		t.Fatalf("diagnostics = %+v", diags)
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0].Kind != model.DiagAutoBan {
		t.Fatalf("alerts = %+v", alerter.alerts)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := newFakeDirectory()
	r, _, _ := newReconciler(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Wake()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
