package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/groblegark/warden/internal/automod"
	"github.com/groblegark/warden/internal/gatekeeper"
	"github.com/groblegark/warden/internal/idgen"
	"github.com/groblegark/warden/internal/lockdown"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/raid"
	"github.com/groblegark/warden/internal/store"
)

// banSuppression is how long after queueing an auto-ban further spam
// from the same member is ignored instead of queued again.
const banSuppression = 5 * time.Minute

// Waker nudges the reconciler after the dispatcher writes pending rows.
type Waker interface {
	Wake()
}

// Dispatcher consumes the guild event feed and drives the defensive
// components: joins feed the raid detector and quarantine, messages
// feed the spam and mention checkers, verifications release members.
type Dispatcher struct {
	sub      Subscriber
	pub      Publisher
	store    store.Store
	detector *raid.Detector
	checkers *automod.Checkers
	gate     *gatekeeper.Service
	locks    *lockdown.Manager
	waker    Waker
	logger   *slog.Logger

	mu         sync.Mutex
	recentBans map[int64]map[int64]time.Time

	now func() time.Time
}

func NewDispatcher(
	sub Subscriber,
	pub Publisher,
	st store.Store,
	detector *raid.Detector,
	checkers *automod.Checkers,
	gate *gatekeeper.Service,
	locks *lockdown.Manager,
	waker Waker,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sub:        sub,
		pub:        pub,
		store:      st,
		detector:   detector,
		checkers:   checkers,
		gate:       gate,
		locks:      locks,
		waker:      waker,
		logger:     logger,
		recentBans: make(map[int64]map[int64]time.Time),
		now:        time.Now,
	}
}

// Run consumes the feed until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	joins, cancelJoins, err := d.sub.Subscribe(TopicMemberJoined)
	if err != nil {
		return err
	}
	defer cancelJoins()

	messages, cancelMessages, err := d.sub.Subscribe(TopicMessageCreated)
	if err != nil {
		return err
	}
	defer cancelMessages()

	verified, cancelVerified, err := d.sub.Subscribe(TopicMemberVerified)
	if err != nil {
		return err
	}
	defer cancelVerified()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-joins:
			var ev MemberJoined
			if err := json.Unmarshal(data, &ev); err != nil {
				d.logger.Warn("bad join payload", "error", err)
				continue
			}
			d.HandleJoin(ctx, ev)
		case data := <-messages:
			var ev MessageCreated
			if err := json.Unmarshal(data, &ev); err != nil {
				d.logger.Warn("bad message payload", "error", err)
				continue
			}
			d.HandleMessage(ctx, ev)
		case data := <-verified:
			var ev MemberVerified
			if err := json.Unmarshal(data, &ev); err != nil {
				d.logger.Warn("bad verification payload", "error", err)
				continue
			}
			d.HandleVerified(ctx, ev)
		}
	}
}

// HandleJoin quarantines the joiner while a session is active and feeds
// the raid detector.
func (d *Dispatcher) HandleJoin(ctx context.Context, ev MemberJoined) {
	session, err := d.gate.Session(ctx, ev.GuildID)
	if err != nil {
		d.logger.Error("load session", "guild_id", ev.GuildID, "error", err)
		return
	}
	cfg, err := d.store.GetAutomodConfig(ctx, ev.GuildID)
	if err != nil {
		d.logger.Error("load automod config", "guild_id", ev.GuildID, "error", err)
		return
	}
	safe := cfg != nil && cfg.IsSafe(ev.MemberID)

	if session.Active() {
		if !safe {
			if err := d.gate.Quarantine(ctx, ev.GuildID, ev.MemberID); err != nil && !errors.Is(err, gatekeeper.ErrSessionInactive) {
				d.logger.Error("quarantine joiner", "guild_id", ev.GuildID, "member_id", ev.MemberID, "error", err)
			}
		}
	} else if d.detector.Active(ev.GuildID) {
		// The trigger latch outlived its session: the response never
		// activated one, or the session has since been deactivated.
		// Clear it so this burst counts from a fresh window.
		d.detector.Reset(ev.GuildID)
	}

	if cfg == nil || !cfg.Flags.Joins() || safe {
		return
	}

	d.checkers.Guild(ev.GuildID).ObserveJoin(ev.MemberID, ev.JoinedAt)

	j := d.detector.Observe(ev.GuildID, ev.MemberID, ev.JoinedAt, cfg.JoinRate)
	if j.Triggered != nil && !session.Active() {
		d.respondToRaid(ctx, cfg, j.Triggered)
	}
}

// respondToRaid applies the configured defensive actions for a join
// burst. An incomplete response template degrades to an alert.
func (d *Dispatcher) respondToRaid(ctx context.Context, cfg *model.AutomodConfig, act *raid.Activation) {
	actions := automod.Evaluate(cfg.Flags, automod.EventJoinBurst)
	var responses []string

	if actions.Gatekeeper() {
		if cfg.TemplateComplete() {
			err := d.gate.Activate(ctx, cfg.SessionTemplate())
			switch {
			case errors.Is(err, gatekeeper.ErrAlreadyActive):
			case err != nil:
				d.logger.Error("auto-activate gatekeeper", "guild_id", cfg.GuildID, "error", err)
			default:
				responses = append(responses, "gatekeeper")
				// Pull the burst's members into quarantine, not just
				// whoever joins after activation.
				for _, memberID := range act.MemberIDs {
					if cfg.IsSafe(memberID) {
						continue
					}
					if err := d.gate.Quarantine(ctx, cfg.GuildID, memberID); err != nil {
						d.logger.Error("quarantine burst member", "guild_id", cfg.GuildID, "member_id", memberID, "error", err)
					}
				}
			}
		} else {
			d.logger.Warn("raid detected but response template incomplete", "guild_id", cfg.GuildID)
		}
	}

	if actions.Lockdown() && len(cfg.LockdownChannels) > 0 {
		locked, err := d.locks.LockAll(ctx, cfg.GuildID, cfg.LockdownChannels, "automod")
		if err != nil {
			d.logger.Error("auto-lockdown", "guild_id", cfg.GuildID, "error", err)
		}
		if len(locked) > 0 {
			responses = append(responses, "lockdown")
			d.publish(ctx, TopicAlertLockdown, LockdownAlert{
				GuildID: cfg.GuildID, ChannelIDs: locked, Actor: "automod",
			})
		}
	}

	if len(responses) == 0 {
		responses = append(responses, "alert_only")
	}

	diag := &model.Diagnostic{
		ID:        idgen.New("diag"),
		GuildID:   cfg.GuildID,
		Kind:      model.DiagRaidDetected,
		Subject:   act.Window.String(),
		Detail:    "join burst: " + strings.Join(responses, ","),
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.RecordDiagnostic(ctx, diag); err != nil {
		d.logger.Error("record diagnostic", "error", err)
	}
	if actions.Alert() {
		d.publish(ctx, TopicAlertRaid, RaidAlert{
			GuildID:    cfg.GuildID,
			JoinCount:  len(act.MemberIDs),
			Window:     act.Window.String(),
			DetectedAt: act.DetectedAt,
			Responses:  responses,
		})
	}
	d.logger.Warn("raid detected",
		"guild_id", cfg.GuildID, "joins", len(act.MemberIDs), "window", act.Window, "responses", responses)
}

// HandleMessage runs the spam and mention checks for one message.
func (d *Dispatcher) HandleMessage(ctx context.Context, ev MessageCreated) {
	cfg, err := d.store.GetAutomodConfig(ctx, ev.GuildID)
	if err != nil {
		d.logger.Error("load automod config", "guild_id", ev.GuildID, "error", err)
		return
	}
	if cfg == nil {
		return
	}
	safeIDs := append([]int64{ev.AuthorID, ev.ChannelID}, ev.AuthorRoles...)
	if cfg.IsSafe(safeIDs...) {
		return
	}

	checker := d.checkers.Guild(ev.GuildID)
	msg := automod.Message{
		GuildID:      ev.GuildID,
		ChannelID:    ev.ChannelID,
		AuthorID:     ev.AuthorID,
		Content:      ev.Content,
		MentionCount: ev.MentionCount,
		CreatedAt:    ev.CreatedAt,
	}

	if cfg.Flags.Mentions() && cfg.MentionCount > 0 {
		spamming := ev.MentionCount >= cfg.MentionCount || checker.IsMentionSpam(msg, cfg)
		if spamming && automod.Evaluate(cfg.Flags, automod.EventMentionSpam).Ban() {
			d.autoBan(ctx, ev.GuildID, ev.AuthorID, "mention spam")
			return
		}
	}

	if cfg.Flags.Raid() && checker.IsSpamming(msg) {
		if automod.Evaluate(cfg.Flags, automod.EventMessageSpam).Ban() {
			d.autoBan(ctx, ev.GuildID, ev.AuthorID, "message spam")
		}
	}
}

// HandleVerified releases the member from quarantine.
func (d *Dispatcher) HandleVerified(ctx context.Context, ev MemberVerified) {
	err := d.gate.Verify(ctx, ev.GuildID, ev.MemberID)
	if err != nil && !errors.Is(err, gatekeeper.ErrNotQuarantined) {
		d.logger.Error("verify member", "guild_id", ev.GuildID, "member_id", ev.MemberID, "error", err)
	}
}

// autoBan queues a one-shot ban unless one was queued for this member
// moments ago; a spam burst is many messages but one offender.
func (d *Dispatcher) autoBan(ctx context.Context, guildID, memberID int64, reason string) {
	now := d.now()

	d.mu.Lock()
	guild := d.recentBans[guildID]
	if guild == nil {
		guild = make(map[int64]time.Time)
		d.recentBans[guildID] = guild
	}
	if until, ok := guild[memberID]; ok && now.Before(until) {
		d.mu.Unlock()
		return
	}
	guild[memberID] = now.Add(banSuppression)
	d.mu.Unlock()

	action := &model.PendingAction{
		ID:        idgen.New("act"),
		GuildID:   guildID,
		MemberID:  memberID,
		Kind:      model.ActionBan,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}
	if err := d.store.EnqueueAction(ctx, action); err != nil {
		d.logger.Error("enqueue auto-ban", "guild_id", guildID, "member_id", memberID, "error", err)
		return
	}
	diag := &model.Diagnostic{
		ID:        idgen.New("diag"),
		GuildID:   guildID,
		Kind:      model.DiagAutoBan,
		Subject:   action.ID,
		Detail:    reason,
		CreatedAt: now.UTC(),
	}
	if err := d.store.RecordDiagnostic(ctx, diag); err != nil {
		d.logger.Error("record diagnostic", "error", err)
	}
	d.publish(ctx, TopicAlertAutoBan, EngineAlert{
		GuildID: guildID, Kind: string(model.DiagAutoBan), Subject: action.ID, Detail: reason,
	})
	d.logger.Warn("auto-ban queued", "guild_id", guildID, "member_id", memberID, "reason", reason)
	d.waker.Wake()
}

func (d *Dispatcher) publish(ctx context.Context, topic string, event any) {
	if err := d.pub.Publish(ctx, topic, event); err != nil {
		d.logger.Error("publish event", "topic", topic, "error", err)
	}
}
