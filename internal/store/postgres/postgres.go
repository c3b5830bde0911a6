// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetAutomodConfig(ctx context.Context, guildID int64) (*model.AutomodConfig, error) {
	return queryGetAutomodConfig(ctx, s.db, guildID)
}

func (s *PostgresStore) UpsertAutomodConfig(ctx context.Context, cfg *model.AutomodConfig) error {
	return queryUpsertAutomodConfig(ctx, s.db, cfg)
}

func (s *PostgresStore) AllAutomodConfigs(ctx context.Context) ([]*model.AutomodConfig, error) {
	return queryAllAutomodConfigs(ctx, s.db)
}

func (s *PostgresStore) GetSession(ctx context.Context, guildID int64) (*model.GatekeeperSession, error) {
	return queryGetSession(ctx, s.db, guildID)
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.GatekeeperSession) error {
	return queryCreateSession(ctx, s.db, session)
}

func (s *PostgresStore) StartSession(ctx context.Context, guildID int64, at time.Time) (bool, error) {
	return queryStartSession(ctx, s.db, guildID, at)
}

func (s *PostgresStore) StopSession(ctx context.Context, guildID int64) error {
	return queryStopSession(ctx, s.db, guildID)
}

func (s *PostgresStore) DeleteSession(ctx context.Context, guildID int64) error {
	return queryDeleteSession(ctx, s.db, guildID)
}

func (s *PostgresStore) AllSessions(ctx context.Context) ([]*model.GatekeeperSession, error) {
	return queryAllSessions(ctx, s.db)
}

func (s *PostgresStore) InsertMember(ctx context.Context, m *model.GatekeeperMember) (bool, error) {
	return queryInsertMember(ctx, s.db, m)
}

func (s *PostgresStore) GetMember(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error) {
	return queryGetMember(ctx, s.db, guildID, memberID)
}

func (s *PostgresStore) ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error) {
	return queryListMembers(ctx, s.db, guildID)
}

func (s *PostgresStore) CountMembers(ctx context.Context, guildID int64) (int, error) {
	return queryCountMembers(ctx, s.db, guildID)
}

func (s *PostgresStore) TransitionMember(ctx context.Context, guildID, memberID int64, from, to model.MemberState) (bool, error) {
	return queryTransitionMember(ctx, s.db, guildID, memberID, from, to)
}

func (s *PostgresStore) TransitionAllMembers(ctx context.Context, guildID int64, from, to model.MemberState) (int, error) {
	return queryTransitionAllMembers(ctx, s.db, guildID, from, to)
}

func (s *PostgresStore) DeleteMemberIfState(ctx context.Context, guildID, memberID int64, state model.MemberState) (bool, error) {
	return queryDeleteMemberIfState(ctx, s.db, guildID, memberID, state)
}

func (s *PostgresStore) MarkMemberFailed(ctx context.Context, guildID, memberID int64) error {
	return queryMarkMemberFailed(ctx, s.db, guildID, memberID)
}

func (s *PostgresStore) ExpiredMembers(ctx context.Context, now time.Time, limit int) ([]*model.GatekeeperMember, error) {
	return queryExpiredMembers(ctx, s.db, now, limit)
}

func (s *PostgresStore) AllMembers(ctx context.Context) ([]*model.GatekeeperMember, error) {
	return queryAllMembers(ctx, s.db)
}

func (s *PostgresStore) InsertLockdown(ctx context.Context, e *model.LockdownEntry) (bool, error) {
	return queryInsertLockdown(ctx, s.db, e)
}

func (s *PostgresStore) GetLockdown(ctx context.Context, guildID, channelID int64) (*model.LockdownEntry, error) {
	return queryGetLockdown(ctx, s.db, guildID, channelID)
}

func (s *PostgresStore) ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error) {
	return queryListLockdowns(ctx, s.db, guildID)
}

func (s *PostgresStore) TransitionLockdown(ctx context.Context, guildID, channelID int64, from, to model.LockState) (bool, error) {
	return queryTransitionLockdown(ctx, s.db, guildID, channelID, from, to)
}

func (s *PostgresStore) DeleteLockdownIfState(ctx context.Context, guildID, channelID int64, state model.LockState) (bool, error) {
	return queryDeleteLockdownIfState(ctx, s.db, guildID, channelID, state)
}

func (s *PostgresStore) MarkLockdownFailed(ctx context.Context, guildID, channelID int64) error {
	return queryMarkLockdownFailed(ctx, s.db, guildID, channelID)
}

func (s *PostgresStore) ExpiredLockdowns(ctx context.Context, now time.Time, limit int) ([]*model.LockdownEntry, error) {
	return queryExpiredLockdowns(ctx, s.db, now, limit)
}

func (s *PostgresStore) AllLockdowns(ctx context.Context) ([]*model.LockdownEntry, error) {
	return queryAllLockdowns(ctx, s.db)
}

func (s *PostgresStore) EnqueueAction(ctx context.Context, a *model.PendingAction) error {
	return queryEnqueueAction(ctx, s.db, a)
}

func (s *PostgresStore) DeleteAction(ctx context.Context, id string) (bool, error) {
	return queryDeleteAction(ctx, s.db, id)
}

func (s *PostgresStore) MarkActionFailed(ctx context.Context, id string) error {
	return queryMarkActionFailed(ctx, s.db, id)
}

func (s *PostgresStore) AllActions(ctx context.Context) ([]*model.PendingAction, error) {
	return queryAllActions(ctx, s.db)
}

func (s *PostgresStore) PendingGuilds(ctx context.Context) ([]int64, error) {
	return queryPendingGuilds(ctx, s.db)
}

func (s *PostgresStore) PendingMutations(ctx context.Context, guildID int64, limit int) ([]model.Mutation, error) {
	return queryPendingMutations(ctx, s.db, guildID, limit)
}

func (s *PostgresStore) RecordDiagnostic(ctx context.Context, d *model.Diagnostic) error {
	return queryRecordDiagnostic(ctx, s.db, d)
}

func (s *PostgresStore) ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error) {
	return queryListDiagnostics(ctx, s.db, guildID, limit)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) GetAutomodConfig(ctx context.Context, guildID int64) (*model.AutomodConfig, error) {
	return queryGetAutomodConfig(ctx, s.tx, guildID)
}

func (s *txStore) UpsertAutomodConfig(ctx context.Context, cfg *model.AutomodConfig) error {
	return queryUpsertAutomodConfig(ctx, s.tx, cfg)
}

func (s *txStore) AllAutomodConfigs(ctx context.Context) ([]*model.AutomodConfig, error) {
	return queryAllAutomodConfigs(ctx, s.tx)
}

func (s *txStore) GetSession(ctx context.Context, guildID int64) (*model.GatekeeperSession, error) {
	return queryGetSession(ctx, s.tx, guildID)
}

func (s *txStore) CreateSession(ctx context.Context, session *model.GatekeeperSession) error {
	return queryCreateSession(ctx, s.tx, session)
}

func (s *txStore) StartSession(ctx context.Context, guildID int64, at time.Time) (bool, error) {
	return queryStartSession(ctx, s.tx, guildID, at)
}

func (s *txStore) StopSession(ctx context.Context, guildID int64) error {
	return queryStopSession(ctx, s.tx, guildID)
}

func (s *txStore) DeleteSession(ctx context.Context, guildID int64) error {
	return queryDeleteSession(ctx, s.tx, guildID)
}

func (s *txStore) AllSessions(ctx context.Context) ([]*model.GatekeeperSession, error) {
	return queryAllSessions(ctx, s.tx)
}

func (s *txStore) InsertMember(ctx context.Context, m *model.GatekeeperMember) (bool, error) {
	return queryInsertMember(ctx, s.tx, m)
}

func (s *txStore) GetMember(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error) {
	return queryGetMember(ctx, s.tx, guildID, memberID)
}

func (s *txStore) ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error) {
	return queryListMembers(ctx, s.tx, guildID)
}

func (s *txStore) CountMembers(ctx context.Context, guildID int64) (int, error) {
	return queryCountMembers(ctx, s.tx, guildID)
}

func (s *txStore) TransitionMember(ctx context.Context, guildID, memberID int64, from, to model.MemberState) (bool, error) {
	return queryTransitionMember(ctx, s.tx, guildID, memberID, from, to)
}

func (s *txStore) TransitionAllMembers(ctx context.Context, guildID int64, from, to model.MemberState) (int, error) {
	return queryTransitionAllMembers(ctx, s.tx, guildID, from, to)
}

func (s *txStore) DeleteMemberIfState(ctx context.Context, guildID, memberID int64, state model.MemberState) (bool, error) {
	return queryDeleteMemberIfState(ctx, s.tx, guildID, memberID, state)
}

func (s *txStore) MarkMemberFailed(ctx context.Context, guildID, memberID int64) error {
	return queryMarkMemberFailed(ctx, s.tx, guildID, memberID)
}

func (s *txStore) ExpiredMembers(ctx context.Context, now time.Time, limit int) ([]*model.GatekeeperMember, error) {
	return queryExpiredMembers(ctx, s.tx, now, limit)
}

func (s *txStore) AllMembers(ctx context.Context) ([]*model.GatekeeperMember, error) {
	return queryAllMembers(ctx, s.tx)
}

func (s *txStore) InsertLockdown(ctx context.Context, e *model.LockdownEntry) (bool, error) {
	return queryInsertLockdown(ctx, s.tx, e)
}

func (s *txStore) GetLockdown(ctx context.Context, guildID, channelID int64) (*model.LockdownEntry, error) {
	return queryGetLockdown(ctx, s.tx, guildID, channelID)
}

func (s *txStore) ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error) {
	return queryListLockdowns(ctx, s.tx, guildID)
}

func (s *txStore) TransitionLockdown(ctx context.Context, guildID, channelID int64, from, to model.LockState) (bool, error) {
	return queryTransitionLockdown(ctx, s.tx, guildID, channelID, from, to)
}

func (s *txStore) DeleteLockdownIfState(ctx context.Context, guildID, channelID int64, state model.LockState) (bool, error) {
	return queryDeleteLockdownIfState(ctx, s.tx, guildID, channelID, state)
}

func (s *txStore) MarkLockdownFailed(ctx context.Context, guildID, channelID int64) error {
	return queryMarkLockdownFailed(ctx, s.tx, guildID, channelID)
}

func (s *txStore) ExpiredLockdowns(ctx context.Context, now time.Time, limit int) ([]*model.LockdownEntry, error) {
	return queryExpiredLockdowns(ctx, s.tx, now, limit)
}

func (s *txStore) AllLockdowns(ctx context.Context) ([]*model.LockdownEntry, error) {
	return queryAllLockdowns(ctx, s.tx)
}

func (s *txStore) EnqueueAction(ctx context.Context, a *model.PendingAction) error {
	return queryEnqueueAction(ctx, s.tx, a)
}

func (s *txStore) DeleteAction(ctx context.Context, id string) (bool, error) {
	return queryDeleteAction(ctx, s.tx, id)
}

func (s *txStore) MarkActionFailed(ctx context.Context, id string) error {
	return queryMarkActionFailed(ctx, s.tx, id)
}

func (s *txStore) AllActions(ctx context.Context) ([]*model.PendingAction, error) {
	return queryAllActions(ctx, s.tx)
}

func (s *txStore) PendingGuilds(ctx context.Context) ([]int64, error) {
	return queryPendingGuilds(ctx, s.tx)
}

func (s *txStore) PendingMutations(ctx context.Context, guildID int64, limit int) ([]model.Mutation, error) {
	return queryPendingMutations(ctx, s.tx, guildID, limit)
}

func (s *txStore) RecordDiagnostic(ctx context.Context, d *model.Diagnostic) error {
	return queryRecordDiagnostic(ctx, s.tx, d)
}

func (s *txStore) ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error) {
	return queryListDiagnostics(ctx, s.tx, guildID, limit)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
