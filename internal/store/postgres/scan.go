package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/warden/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanAutomodConfig scans a single row into a model.AutomodConfig.
// The row must contain columns in the order defined by automodColumns.
func scanAutomodConfig(row scannable) (*model.AutomodConfig, error) {
	var c model.AutomodConfig
	var (
		flags             int64
		broadcastChannel  sql.NullInt64
		mentionCount      sql.NullInt64
		safeEntities      pq.Int64Array
		quarantineChannel sql.NullInt64
		quarantineRole    sql.NullInt64
		quarantineMessage sql.NullString
		bypass            sql.NullString
		joinRate          sql.NullString
		lockdownChannels  pq.Int64Array
	)

	err := row.Scan(
		&c.GuildID,
		&flags,
		&broadcastChannel,
		&mentionCount,
		&safeEntities,
		&quarantineChannel,
		&quarantineRole,
		&quarantineMessage,
		&bypass,
		&joinRate,
		&lockdownChannels,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Flags = model.AutomodFlags(flags)
	c.BroadcastChannel = broadcastChannel.Int64
	c.MentionCount = int(mentionCount.Int64)
	c.SafeEntities = []int64(safeEntities)
	c.QuarantineChannel = quarantineChannel.Int64
	c.QuarantineRole = quarantineRole.Int64
	c.QuarantineMessage = quarantineMessage.String
	c.Bypass = model.BypassAction(bypass.String)
	if joinRate.Valid {
		c.JoinRate, err = model.ParseRatePolicy(joinRate.String)
		if err != nil {
			return nil, err
		}
	}
	c.LockdownChannels = []int64(lockdownChannels)
	return &c, nil
}

func scanAutomodConfigs(rows *sql.Rows) ([]*model.AutomodConfig, error) {
	var configs []*model.AutomodConfig
	for rows.Next() {
		c, err := scanAutomodConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// scanSession scans a single row into a model.GatekeeperSession.
func scanSession(row scannable) (*model.GatekeeperSession, error) {
	var s model.GatekeeperSession
	var (
		startedAt sql.NullTime
		bypass    string
		rate      string
	)

	err := row.Scan(
		&s.GuildID,
		&startedAt,
		&s.ChannelID,
		&s.RoleID,
		&s.Message,
		&bypass,
		&rate,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	s.Bypass = model.BypassAction(bypass)
	s.Rate, err = model.ParseRatePolicy(rate)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*model.GatekeeperSession, error) {
	var sessions []*model.GatekeeperSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// scanMember scans a single row into a model.GatekeeperMember.
func scanMember(row scannable) (*model.GatekeeperMember, error) {
	var m model.GatekeeperMember
	var (
		state    string
		verifyBy sql.NullTime
	)

	err := row.Scan(
		&m.GuildID,
		&m.MemberID,
		&state,
		&m.ApplyFailed,
		&verifyBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.State = model.MemberState(state)
	if verifyBy.Valid {
		t := verifyBy.Time
		m.VerifyBy = &t
	}
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]*model.GatekeeperMember, error) {
	var members []*model.GatekeeperMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// scanLockdown scans a single row into a model.LockdownEntry.
func scanLockdown(row scannable) (*model.LockdownEntry, error) {
	var e model.LockdownEntry
	var (
		allow, deny int64
		state       string
		expiresAt   sql.NullTime
		actor       sql.NullString
	)

	err := row.Scan(
		&e.GuildID,
		&e.ChannelID,
		&allow,
		&deny,
		&state,
		&e.ApplyFailed,
		&expiresAt,
		&actor,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Original = model.OverwriteFromPair(uint64(allow), uint64(deny))
	e.State = model.LockState(state)
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	e.Actor = actor.String
	return &e, nil
}

func scanLockdowns(rows *sql.Rows) ([]*model.LockdownEntry, error) {
	var entries []*model.LockdownEntry
	for rows.Next() {
		e, err := scanLockdown(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanAction scans a single row into a model.PendingAction.
func scanAction(row scannable) (*model.PendingAction, error) {
	var a model.PendingAction
	var (
		kind   string
		reason sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&a.GuildID,
		&a.MemberID,
		&kind,
		&reason,
		&a.ApplyFailed,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = model.ActionKind(kind)
	a.Reason = reason.String
	return &a, nil
}

func scanActions(rows *sql.Rows) ([]*model.PendingAction, error) {
	var actions []*model.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// scanDiagnostic scans a single row into a model.Diagnostic.
func scanDiagnostic(row scannable) (*model.Diagnostic, error) {
	var d model.Diagnostic
	var (
		kind   string
		detail sql.NullString
	)
	err := row.Scan(&d.ID, &d.GuildID, &kind, &d.Subject, &detail, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Kind = model.DiagKind(kind)
	d.Detail = detail.String
	return &d, nil
}

func scanDiagnostics(rows *sql.Rows) ([]*model.Diagnostic, error) {
	var diags []*model.Diagnostic
	for rows.Next() {
		d, err := scanDiagnostic(rows)
		if err != nil {
			return nil, err
		}
		diags = append(diags, d)
	}
	return diags, rows.Err()
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt64 converts an int64 to sql.NullInt64; zero is null.
func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// nullInt converts an int to sql.NullInt64; zero is null.
func nullInt(v int) sql.NullInt64 {
	return nullInt64(int64(v))
}
