// Package reconcile drains pending rows against the external directory.
//
// The reconciler is the only component that calls the directory's
// mutation methods. Each loop iteration sweeps for expired deadlines,
// selects pending mutations round-robin across guilds, applies them
// under a shared rate budget, and advances rows by compare-and-swap
// only after the directory confirms the call.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/groblegark/warden/internal/directory"
	"github.com/groblegark/warden/internal/idgen"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store"
)

// Backoff policy for retryable failures. Per row, doubling from the
// base on each consecutive failure, capped. Permanent failures never
// enter backoff: the row is flagged and dropped from selection.
const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// Defaults for the loop parameters.
const (
	DefaultTick      = 5 * time.Second
	DefaultBatchSize = 16
	DefaultRate      = 5 // directory calls per second, shared across guilds
	DefaultBurst     = 5
)

// Alert is an operator-facing notification emitted alongside the
// persisted diagnostic.
type Alert struct {
	GuildID int64
	Kind    model.DiagKind
	Subject string
	Detail  string
}

// Alerter publishes alerts to the operator feed.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// NoopAlerter drops alerts, for tests and alertless deployments.
type NoopAlerter struct{}

func (NoopAlerter) Alert(context.Context, Alert) {}

// Config tunes the reconciler loop. Zero values select the defaults.
type Config struct {
	Tick      time.Duration
	BatchSize int
	// Rate and Burst bound directory mutation calls per second.
	Rate  float64
	Burst int
}

type backoffEntry struct {
	delay   time.Duration
	retryAt time.Time
}

// Reconciler drives persisted desired state to the external directory.
type Reconciler struct {
	store   store.Store
	dir     directory.Directory
	alerter Alerter
	logger  *slog.Logger
	limiter *rate.Limiter
	tick    time.Duration
	batch   int
	wake    chan struct{}

	// backoff is touched only from Run's goroutine.
	backoff map[string]backoffEntry
	now     func() time.Time
}

// New creates a reconciler. Run must be called to start draining.
func New(st store.Store, dir directory.Directory, alerter Alerter, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &Reconciler{
		store:   st,
		dir:     dir,
		alerter: alerter,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		tick:    cfg.Tick,
		batch:   cfg.BatchSize,
		wake:    make(chan struct{}, 1),
		backoff: make(map[string]backoffEntry),
		now:     time.Now,
	}
}

// Wake nudges the loop to run a pass before the next tick. Safe to call
// from any goroutine; wakes coalesce.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is canceled. A mutation already in flight when
// cancellation arrives is finished and its row advanced, so a confirmed
// external change is never left unrecorded.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		r.drain(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Pass runs one sweep-and-drain pass synchronously. Used at startup to
// resume interrupted work before serving traffic, and by tests.
func (r *Reconciler) Pass(ctx context.Context) {
	r.sweep(ctx)
	r.drain(ctx)
}

// drain selects pending mutations and applies them. Selection is
// round-robin across guilds so one raided guild's queue cannot starve
// the others, oldest-first within each guild.
func (r *Reconciler) drain(ctx context.Context) {
	guilds, err := r.store.PendingGuilds(ctx)
	if err != nil {
		r.logger.Error("list pending guilds", "error", err)
		return
	}
	if len(guilds) == 0 {
		return
	}

	queues := make([][]model.Mutation, 0, len(guilds))
	for _, guildID := range guilds {
		muts, err := r.store.PendingMutations(ctx, guildID, r.batch)
		if err != nil {
			r.logger.Error("list pending mutations", "guild_id", guildID, "error", err)
			continue
		}
		queues = append(queues, muts)
	}

	remaining := true
	for remaining {
		if ctx.Err() != nil {
			return
		}
		remaining = false
		for i := range queues {
			if len(queues[i]) == 0 {
				continue
			}
			mut := queues[i][0]
			queues[i] = queues[i][1:]
			if len(queues[i]) > 0 {
				remaining = true
			}

			if entry, ok := r.backoff[mut.Key()]; ok && r.now().Before(entry.retryAt) {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.apply(ctx, mut)
		}
	}
}

// apply issues one directory call and advances or flags the row.
func (r *Reconciler) apply(ctx context.Context, mut model.Mutation) {
	// Detach from cancellation: once the rate budget admitted the call,
	// it runs to completion so the row advancement cannot be lost. The
	// HTTP client's own timeout still bounds it.
	callCtx := context.WithoutCancel(ctx)

	var err error
	switch mut.Kind {
	case model.MutationGrantRole:
		err = r.dir.GrantRole(callCtx, mut.GuildID, mut.MemberID, mut.RoleID)
	case model.MutationRevokeRole:
		err = r.dir.RevokeRole(callCtx, mut.GuildID, mut.MemberID, mut.RoleID)
	case model.MutationLock, model.MutationUnlock:
		err = r.dir.SetChannelOverwrite(callCtx, mut.GuildID, mut.ChannelID, mut.GuildID, mut.Overwrite)
	case model.MutationBan:
		err = r.dir.Ban(callCtx, mut.GuildID, mut.MemberID, mut.Reason)
	case model.MutationKick:
		err = r.dir.Kick(callCtx, mut.GuildID, mut.MemberID, mut.Reason)
	default:
		r.logger.Error("unknown mutation kind", "kind", mut.Kind)
		return
	}

	switch {
	case err == nil:
		delete(r.backoff, mut.Key())
		r.advance(callCtx, mut)
	case directory.IsPermanent(err):
		delete(r.backoff, mut.Key())
		r.fail(callCtx, mut, err)
	default:
		// Retryable directory errors and anything unclassified.
		entry := r.backoff[mut.Key()]
		if entry.delay == 0 {
			entry.delay = backoffBase
		} else {
			entry.delay *= 2
			if entry.delay > backoffCap {
				entry.delay = backoffCap
			}
		}
		entry.retryAt = r.now().Add(entry.delay)
		r.backoff[mut.Key()] = entry
		r.logger.Warn("directory call failed, will retry",
			"kind", mut.Kind, "guild_id", mut.GuildID, "retry_in", entry.delay, "error", err)
	}
}

// advance moves the row behind the confirmed mutation to its next
// state. Every update is a compare-and-swap, so a row an operator moved
// concurrently is left alone.
func (r *Reconciler) advance(ctx context.Context, mut model.Mutation) {
	var err error
	switch mut.Kind {
	case model.MutationGrantRole:
		_, err = r.store.TransitionMember(ctx, mut.GuildID, mut.MemberID, model.StatePendingAdd, model.StateAdded)
	case model.MutationRevokeRole:
		_, err = r.store.DeleteMemberIfState(ctx, mut.GuildID, mut.MemberID, model.StatePendingRemove)
	case model.MutationLock:
		_, err = r.store.TransitionLockdown(ctx, mut.GuildID, mut.ChannelID, model.LockPending, model.Locked)
	case model.MutationUnlock:
		_, err = r.store.DeleteLockdownIfState(ctx, mut.GuildID, mut.ChannelID, model.LockPendingRevert)
	case model.MutationBan, model.MutationKick:
		_, err = r.store.DeleteAction(ctx, mut.ActionID)
	}
	if err != nil {
		// The external change is applied but the row did not advance;
		// the next pass retries the idempotent call and lands here
		// again.
		r.logger.Error("advance row", "kind", mut.Kind, "guild_id", mut.GuildID, "error", err)
		return
	}
	r.logger.Debug("mutation applied", "kind", mut.Kind, "guild_id", mut.GuildID,
		"member_id", mut.MemberID, "channel_id", mut.ChannelID)
}

// fail flags the row apply-failed, records a diagnostic, and alerts.
// The row stays visible to operators but leaves the work queue.
func (r *Reconciler) fail(ctx context.Context, mut model.Mutation, cause error) {
	var err error
	switch mut.Kind {
	case model.MutationGrantRole, model.MutationRevokeRole:
		err = r.store.MarkMemberFailed(ctx, mut.GuildID, mut.MemberID)
	case model.MutationLock, model.MutationUnlock:
		err = r.store.MarkLockdownFailed(ctx, mut.GuildID, mut.ChannelID)
	case model.MutationBan, model.MutationKick:
		err = r.store.MarkActionFailed(ctx, mut.ActionID)
	}
	if err != nil {
		r.logger.Error("mark row failed", "kind", mut.Kind, "guild_id", mut.GuildID, "error", err)
		return
	}

	diag := &model.Diagnostic{
		ID:        idgen.New("diag"),
		GuildID:   mut.GuildID,
		Kind:      model.DiagApplyFailed,
		Subject:   mut.Key(),
		Detail:    cause.Error(),
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.RecordDiagnostic(ctx, diag); err != nil {
		r.logger.Error("record diagnostic", "error", err)
	}
	r.alerter.Alert(ctx, Alert{GuildID: mut.GuildID, Kind: model.DiagApplyFailed, Subject: mut.Key(), Detail: cause.Error()})
	r.logger.Error("mutation permanently failed",
		"kind", mut.Kind, "guild_id", mut.GuildID, "member_id", mut.MemberID,
		"channel_id", mut.ChannelID, "error", cause)
}
