package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/warden/internal/model"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column lists for SELECT statements.
const (
	automodColumns  = `guild_id, flags, broadcast_channel, mention_count, safe_entities, quarantine_channel, quarantine_role, quarantine_message, bypass_action, join_rate, lockdown_channels, updated_at`
	sessionColumns  = `guild_id, started_at, channel_id, role_id, message, bypass_action, rate`
	memberColumns   = `guild_id, member_id, state, apply_failed, verify_by, created_at, updated_at`
	lockdownColumns = `guild_id, channel_id, allow, deny, state, apply_failed, expires_at, actor, created_at, updated_at`
	actionColumns   = `id, guild_id, member_id, kind, reason, apply_failed, created_at`
)

// --- Automod config ---

func queryGetAutomodConfig(ctx context.Context, db executor, guildID int64) (*model.AutomodConfig, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+automodColumns+` FROM guild_automod_config WHERE guild_id = $1`, guildID)
	cfg, err := scanAutomodConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

func queryUpsertAutomodConfig(ctx context.Context, db executor, cfg *model.AutomodConfig) error {
	var joinRate any
	if cfg.JoinRate.Joins > 0 {
		joinRate = cfg.JoinRate.String()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO guild_automod_config (guild_id, flags, broadcast_channel, mention_count, safe_entities,
			quarantine_channel, quarantine_role, quarantine_message, bypass_action, join_rate, lockdown_channels, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (guild_id) DO UPDATE SET
			flags = EXCLUDED.flags,
			broadcast_channel = EXCLUDED.broadcast_channel,
			mention_count = EXCLUDED.mention_count,
			safe_entities = EXCLUDED.safe_entities,
			quarantine_channel = EXCLUDED.quarantine_channel,
			quarantine_role = EXCLUDED.quarantine_role,
			quarantine_message = EXCLUDED.quarantine_message,
			bypass_action = EXCLUDED.bypass_action,
			join_rate = EXCLUDED.join_rate,
			lockdown_channels = EXCLUDED.lockdown_channels,
			updated_at = EXCLUDED.updated_at`,
		cfg.GuildID,
		int64(cfg.Flags),
		nullInt64(cfg.BroadcastChannel),
		nullInt(cfg.MentionCount),
		pq.Array(cfg.SafeEntities),
		nullInt64(cfg.QuarantineChannel),
		nullInt64(cfg.QuarantineRole),
		nullString(cfg.QuarantineMessage),
		nullString(string(cfg.Bypass)),
		joinRate,
		pq.Array(cfg.LockdownChannels),
		cfg.UpdatedAt,
	)
	return err
}

func queryAllAutomodConfigs(ctx context.Context, db executor) ([]*model.AutomodConfig, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+automodColumns+` FROM guild_automod_config ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutomodConfigs(rows)
}

// --- Gatekeeper sessions ---

func queryGetSession(ctx context.Context, db executor, guildID int64) (*model.GatekeeperSession, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM guild_gatekeeper_sessions WHERE guild_id = $1`, guildID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func queryCreateSession(ctx context.Context, db executor, s *model.GatekeeperSession) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO guild_gatekeeper_sessions (guild_id, started_at, channel_id, role_id, message, bypass_action, rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.GuildID,
		nullTimePtr(s.StartedAt),
		s.ChannelID,
		s.RoleID,
		s.Message,
		string(s.Bypass),
		s.Rate.String(),
	)
	return err
}

func queryStartSession(ctx context.Context, db executor, guildID int64, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE guild_gatekeeper_sessions SET started_at = $2
		WHERE guild_id = $1 AND started_at IS NULL`,
		guildID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryStopSession(ctx context.Context, db executor, guildID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE guild_gatekeeper_sessions SET started_at = NULL WHERE guild_id = $1`, guildID)
	return err
}

func queryDeleteSession(ctx context.Context, db executor, guildID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM guild_gatekeeper_sessions WHERE guild_id = $1`, guildID)
	return err
}

func queryAllSessions(ctx context.Context, db executor) ([]*model.GatekeeperSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM guild_gatekeeper_sessions ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// --- Gatekeeper members ---

func queryInsertMember(ctx context.Context, db executor, m *model.GatekeeperMember) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO gatekeeper_members (guild_id, member_id, state, apply_failed, verify_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id, member_id) DO NOTHING`,
		m.GuildID,
		m.MemberID,
		string(m.State),
		m.ApplyFailed,
		nullTimePtr(m.VerifyBy),
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryGetMember(ctx context.Context, db executor, guildID, memberID int64) (*model.GatekeeperMember, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM gatekeeper_members WHERE guild_id = $1 AND member_id = $2`,
		guildID, memberID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func queryListMembers(ctx context.Context, db executor, guildID int64) ([]*model.GatekeeperMember, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM gatekeeper_members WHERE guild_id = $1 ORDER BY created_at`,
		guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func queryCountMembers(ctx context.Context, db executor, guildID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gatekeeper_members WHERE guild_id = $1`, guildID).Scan(&n)
	return n, err
}

func queryTransitionMember(ctx context.Context, db executor, guildID, memberID int64, from, to model.MemberState) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE gatekeeper_members SET state = $4, updated_at = now()
		WHERE guild_id = $1 AND member_id = $2 AND state = $3`,
		guildID, memberID, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryTransitionAllMembers(ctx context.Context, db executor, guildID int64, from, to model.MemberState) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE gatekeeper_members SET state = $3, updated_at = now()
		WHERE guild_id = $1 AND state = $2`,
		guildID, string(from), string(to))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func queryDeleteMemberIfState(ctx context.Context, db executor, guildID, memberID int64, state model.MemberState) (bool, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM gatekeeper_members
		WHERE guild_id = $1 AND member_id = $2 AND state = $3`,
		guildID, memberID, string(state))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryMarkMemberFailed(ctx context.Context, db executor, guildID, memberID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE gatekeeper_members SET apply_failed = TRUE, updated_at = now()
		WHERE guild_id = $1 AND member_id = $2`,
		guildID, memberID)
	return err
}

func queryExpiredMembers(ctx context.Context, db executor, now time.Time, limit int) ([]*model.GatekeeperMember, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM gatekeeper_members
		WHERE state = 'added' AND verify_by IS NOT NULL AND verify_by < $1
		ORDER BY verify_by
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func queryAllMembers(ctx context.Context, db executor) ([]*model.GatekeeperMember, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM gatekeeper_members ORDER BY guild_id, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

// --- Lockdowns ---

func queryInsertLockdown(ctx context.Context, db executor, e *model.LockdownEntry) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO guild_lockdowns (guild_id, channel_id, allow, deny, state, apply_failed, expires_at, actor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (guild_id, channel_id) DO NOTHING`,
		e.GuildID,
		e.ChannelID,
		int64(e.Original.Allow),
		int64(e.Original.Deny),
		string(e.State),
		e.ApplyFailed,
		nullTimePtr(e.ExpiresAt),
		nullString(e.Actor),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryGetLockdown(ctx context.Context, db executor, guildID, channelID int64) (*model.LockdownEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+lockdownColumns+` FROM guild_lockdowns WHERE guild_id = $1 AND channel_id = $2`,
		guildID, channelID)
	e, err := scanLockdown(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func queryListLockdowns(ctx context.Context, db executor, guildID int64) ([]*model.LockdownEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+lockdownColumns+` FROM guild_lockdowns WHERE guild_id = $1 ORDER BY created_at`,
		guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLockdowns(rows)
}

func queryTransitionLockdown(ctx context.Context, db executor, guildID, channelID int64, from, to model.LockState) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE guild_lockdowns SET state = $4, updated_at = now()
		WHERE guild_id = $1 AND channel_id = $2 AND state = $3`,
		guildID, channelID, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryDeleteLockdownIfState(ctx context.Context, db executor, guildID, channelID int64, state model.LockState) (bool, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM guild_lockdowns
		WHERE guild_id = $1 AND channel_id = $2 AND state = $3`,
		guildID, channelID, string(state))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryMarkLockdownFailed(ctx context.Context, db executor, guildID, channelID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE guild_lockdowns SET apply_failed = TRUE, updated_at = now()
		WHERE guild_id = $1 AND channel_id = $2`,
		guildID, channelID)
	return err
}

func queryExpiredLockdowns(ctx context.Context, db executor, now time.Time, limit int) ([]*model.LockdownEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+lockdownColumns+` FROM guild_lockdowns
		WHERE state = 'locked' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLockdowns(rows)
}

func queryAllLockdowns(ctx context.Context, db executor) ([]*model.LockdownEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+lockdownColumns+` FROM guild_lockdowns ORDER BY guild_id, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLockdowns(rows)
}

// --- One-shot actions ---

func queryEnqueueAction(ctx context.Context, db executor, a *model.PendingAction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO guild_actions (id, guild_id, member_id, kind, reason, apply_failed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID,
		a.GuildID,
		a.MemberID,
		string(a.Kind),
		nullString(a.Reason),
		a.ApplyFailed,
		a.CreatedAt,
	)
	return err
}

func queryDeleteAction(ctx context.Context, db executor, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM guild_actions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func queryMarkActionFailed(ctx context.Context, db executor, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE guild_actions SET apply_failed = TRUE WHERE id = $1`, id)
	return err
}

func queryAllActions(ctx context.Context, db executor) ([]*model.PendingAction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM guild_actions ORDER BY guild_id, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// --- Reconciler work selection ---

func queryPendingGuilds(ctx context.Context, db executor) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT guild_id FROM (
			SELECT guild_id FROM gatekeeper_members
			WHERE state IN ('pending_add', 'pending_remove') AND NOT apply_failed
			UNION ALL
			SELECT guild_id FROM guild_lockdowns
			WHERE state IN ('pending_lock', 'pending_unlock') AND NOT apply_failed
			UNION ALL
			SELECT guild_id FROM guild_actions WHERE NOT apply_failed
		) pending
		ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guilds []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		guilds = append(guilds, id)
	}
	return guilds, rows.Err()
}

// queryPendingMutations assembles the guild's pending external calls
// from the member, lockdown, and action tables, oldest row first. The
// role grant/revoke rows join the session table for the quarantine
// role; rows whose session has been deleted out from under them are
// skipped rather than failed.
func queryPendingMutations(ctx context.Context, db executor, guildID int64, limit int) ([]model.Mutation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kind, guild_id, member_id, role_id, channel_id, allow, deny, action_id, reason, created_at FROM (
			SELECT
				CASE m.state WHEN 'pending_add' THEN 'grant_role' ELSE 'revoke_role' END AS kind,
				m.guild_id, m.member_id, s.role_id,
				0::bigint AS channel_id, 0::bigint AS allow, 0::bigint AS deny,
				'' AS action_id, '' AS reason, m.created_at
			FROM gatekeeper_members m
			JOIN guild_gatekeeper_sessions s ON s.guild_id = m.guild_id
			WHERE m.guild_id = $1 AND m.state IN ('pending_add', 'pending_remove') AND NOT m.apply_failed
			UNION ALL
			SELECT
				CASE l.state WHEN 'pending_lock' THEN 'lock' ELSE 'unlock' END,
				l.guild_id, 0, 0, l.channel_id, l.allow, l.deny, '', '', l.created_at
			FROM guild_lockdowns l
			WHERE l.guild_id = $1 AND l.state IN ('pending_lock', 'pending_unlock') AND NOT l.apply_failed
			UNION ALL
			SELECT a.kind, a.guild_id, a.member_id, 0, 0, 0, 0, a.id, COALESCE(a.reason, ''), a.created_at
			FROM guild_actions a
			WHERE a.guild_id = $1 AND NOT a.apply_failed
		) pending
		ORDER BY created_at
		LIMIT $2`,
		guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var muts []model.Mutation
	for rows.Next() {
		var (
			m           model.Mutation
			kind        string
			allow, deny int64
		)
		if err := rows.Scan(&kind, &m.GuildID, &m.MemberID, &m.RoleID, &m.ChannelID,
			&allow, &deny, &m.ActionID, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = model.MutationKind(kind)
		original := model.OverwriteFromPair(uint64(allow), uint64(deny))
		switch m.Kind {
		case model.MutationLock:
			m.Overwrite = original.Lockdown()
		case model.MutationUnlock:
			m.Overwrite = original
		}
		muts = append(muts, m)
	}
	return muts, rows.Err()
}

// --- Diagnostics ---

func queryRecordDiagnostic(ctx context.Context, db executor, d *model.Diagnostic) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO diagnostics (id, guild_id, kind, subject, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID,
		d.GuildID,
		string(d.Kind),
		d.Subject,
		nullString(d.Detail),
		d.CreatedAt,
	)
	return err
}

func queryListDiagnostics(ctx context.Context, db executor, guildID int64, limit int) ([]*model.Diagnostic, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, guild_id, kind, subject, detail, created_at
		FROM diagnostics
		WHERE guild_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDiagnostics(rows)
}
