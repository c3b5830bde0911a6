package reconcile

import (
	"context"

	"github.com/groblegark/warden/internal/idgen"
	"github.com/groblegark/warden/internal/model"
)

// sweepLimit bounds how many expired rows one pass picks up.
const sweepLimit = 64

// sweep handles deadline-driven transitions: timed lockdowns that have
// expired, quarantined members past their verification deadline, and
// stopped sessions whose member rows have fully drained.
func (r *Reconciler) sweep(ctx context.Context) {
	now := r.now().UTC()

	expired, err := r.store.ExpiredLockdowns(ctx, now, sweepLimit)
	if err != nil {
		r.logger.Error("list expired lockdowns", "error", err)
	}
	for _, e := range expired {
		moved, err := r.store.TransitionLockdown(ctx, e.GuildID, e.ChannelID, model.Locked, model.LockPendingRevert)
		if err != nil {
			r.logger.Error("expire lockdown", "guild_id", e.GuildID, "channel_id", e.ChannelID, "error", err)
			continue
		}
		if moved {
			r.logger.Info("timed lockdown expired", "guild_id", e.GuildID, "channel_id", e.ChannelID)
		}
	}

	overdue, err := r.store.ExpiredMembers(ctx, now, sweepLimit)
	if err != nil {
		r.logger.Error("list overdue members", "error", err)
	}
	for _, m := range overdue {
		r.bypassMember(ctx, m)
	}

	r.cleanupSessions(ctx)
}

// bypassMember handles a member who never verified: their quarantine
// row moves to pending_remove and the session's bypass action is
// queued as a one-shot.
func (r *Reconciler) bypassMember(ctx context.Context, m *model.GatekeeperMember) {
	session, err := r.store.GetSession(ctx, m.GuildID)
	if err != nil {
		r.logger.Error("load session for bypass", "guild_id", m.GuildID, "error", err)
		return
	}
	if session == nil {
		// Session row already gone; just drain the member.
		if _, err := r.store.TransitionMember(ctx, m.GuildID, m.MemberID, model.StateAdded, model.StatePendingRemove); err != nil {
			r.logger.Error("drain orphaned member", "guild_id", m.GuildID, "member_id", m.MemberID, "error", err)
		}
		return
	}

	moved, err := r.store.TransitionMember(ctx, m.GuildID, m.MemberID, model.StateAdded, model.StatePendingRemove)
	if err != nil {
		r.logger.Error("transition overdue member", "guild_id", m.GuildID, "member_id", m.MemberID, "error", err)
		return
	}
	if !moved {
		// Verified or drained since selection.
		return
	}

	kind := model.ActionBan
	if session.Bypass == model.BypassKick {
		kind = model.ActionKick
	}
	action := &model.PendingAction{
		ID:        idgen.New("act"),
		GuildID:   m.GuildID,
		MemberID:  m.MemberID,
		Kind:      kind,
		Reason:    "verification deadline passed",
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.EnqueueAction(ctx, action); err != nil {
		r.logger.Error("enqueue bypass action", "guild_id", m.GuildID, "member_id", m.MemberID, "error", err)
		return
	}

	diag := &model.Diagnostic{
		ID:        idgen.New("diag"),
		GuildID:   m.GuildID,
		Kind:      model.DiagAutoBan,
		Subject:   action.ID,
		Detail:    "member missed verification deadline",
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.RecordDiagnostic(ctx, diag); err != nil {
		r.logger.Error("record diagnostic", "error", err)
	}
	r.alerter.Alert(ctx, Alert{GuildID: m.GuildID, Kind: model.DiagAutoBan, Subject: action.ID, Detail: diag.Detail})
	r.logger.Info("verification deadline passed",
		"guild_id", m.GuildID, "member_id", m.MemberID, "bypass", session.Bypass)
}

// cleanupSessions deletes stopped session rows once no member rows
// remain. The session row outlives deactivation exactly as long as its
// members are still draining.
func (r *Reconciler) cleanupSessions(ctx context.Context) {
	sessions, err := r.store.AllSessions(ctx)
	if err != nil {
		r.logger.Error("list sessions", "error", err)
		return
	}
	for _, s := range sessions {
		if s.Active() {
			continue
		}
		n, err := r.store.CountMembers(ctx, s.GuildID)
		if err != nil {
			r.logger.Error("count members", "guild_id", s.GuildID, "error", err)
			continue
		}
		if n > 0 {
			continue
		}
		if err := r.store.DeleteSession(ctx, s.GuildID); err != nil {
			r.logger.Error("delete drained session", "guild_id", s.GuildID, "error", err)
			continue
		}
		r.logger.Info("gatekeeper session removed", "guild_id", s.GuildID)
	}
}
