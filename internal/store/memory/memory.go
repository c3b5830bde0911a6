// Package memory implements store.Store with in-process maps. It backs
// the engine's unit tests; it honors the same compare-and-swap
// transition semantics as the postgres store but keeps nothing across
// restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store"
)

// MemoryStore implements store.Store with mutex-guarded maps.
type MemoryStore struct {
	mu        sync.RWMutex
	configs   map[int64]model.AutomodConfig
	sessions  map[int64]model.GatekeeperSession
	members   map[int64]map[int64]model.GatekeeperMember
	lockdowns map[int64]map[int64]model.LockdownEntry
	actions   map[string]model.PendingAction
	diags     []model.Diagnostic
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[int64]model.AutomodConfig),
		sessions:  make(map[int64]model.GatekeeperSession),
		members:   make(map[int64]map[int64]model.GatekeeperMember),
		lockdowns: make(map[int64]map[int64]model.LockdownEntry),
		actions:   make(map[string]model.PendingAction),
	}
}

func (s *MemoryStore) Close() error { return nil }

// RunInTransaction runs fn against the store directly. The memory store
// has no rollback; engine code must not rely on partial-failure undo
// beyond what the CAS transitions already give it.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// --- Automod config ---

func (s *MemoryStore) GetAutomodConfig(ctx context.Context, guildID int64) (*model.AutomodConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[guildID]
	if !ok {
		return nil, nil
	}
	out := cfg
	out.SafeEntities = append([]int64(nil), cfg.SafeEntities...)
	return &out, nil
}

func (s *MemoryStore) UpsertAutomodConfig(ctx context.Context, cfg *model.AutomodConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cfg
	stored.SafeEntities = append([]int64(nil), cfg.SafeEntities...)
	s.configs[cfg.GuildID] = stored
	return nil
}

func (s *MemoryStore) AllAutomodConfigs(ctx context.Context) ([]*model.AutomodConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AutomodConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		c := cfg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

// --- Gatekeeper sessions ---

func (s *MemoryStore) GetSession(ctx context.Context, guildID int64) (*model.GatekeeperSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[guildID]
	if !ok {
		return nil, nil
	}
	out := sess
	if sess.StartedAt != nil {
		t := *sess.StartedAt
		out.StartedAt = &t
	}
	return &out, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *model.GatekeeperSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Insert, not upsert, to match the unique constraint the SQL store
	// enforces.
	if _, ok := s.sessions[session.GuildID]; ok {
		return fmt.Errorf("memory: session for guild %d already exists", session.GuildID)
	}
	s.sessions[session.GuildID] = *session
	return nil
}

func (s *MemoryStore) StartSession(ctx context.Context, guildID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[guildID]
	if !ok || sess.StartedAt != nil {
		return false, nil
	}
	sess.StartedAt = &at
	s.sessions[guildID] = sess
	return true, nil
}

func (s *MemoryStore) StopSession(ctx context.Context, guildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[guildID]; ok {
		sess.StartedAt = nil
		s.sessions[guildID] = sess
	}
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, guildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, guildID)
	return nil
}

func (s *MemoryStore) AllSessions(ctx context.Context) ([]*model.GatekeeperSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.GatekeeperSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		c := sess
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

// --- Gatekeeper members ---

func (s *MemoryStore) InsertMember(ctx context.Context, m *model.GatekeeperMember) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.members[m.GuildID]
	if guild == nil {
		guild = make(map[int64]model.GatekeeperMember)
		s.members[m.GuildID] = guild
	}
	if _, exists := guild[m.MemberID]; exists {
		return false, nil
	}
	guild[m.MemberID] = *m
	return true, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[guildID][memberID]
	if !ok {
		return nil, nil
	}
	out := m
	return &out, nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guild := s.members[guildID]
	out := make([]*model.GatekeeperMember, 0, len(guild))
	for _, m := range guild {
		c := m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountMembers(ctx context.Context, guildID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[guildID]), nil
}

func (s *MemoryStore) TransitionMember(ctx context.Context, guildID, memberID int64, from, to model.MemberState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[guildID][memberID]
	if !ok || m.State != from {
		return false, nil
	}
	m.State = to
	m.UpdatedAt = time.Now()
	s.members[guildID][memberID] = m
	return true, nil
}

func (s *MemoryStore) TransitionAllMembers(ctx context.Context, guildID int64, from, to model.MemberState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, m := range s.members[guildID] {
		if m.State == from {
			m.State = to
			m.UpdatedAt = time.Now()
			s.members[guildID][id] = m
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteMemberIfState(ctx context.Context, guildID, memberID int64, state model.MemberState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[guildID][memberID]
	if !ok || m.State != state {
		return false, nil
	}
	delete(s.members[guildID], memberID)
	return true, nil
}

func (s *MemoryStore) MarkMemberFailed(ctx context.Context, guildID, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[guildID][memberID]; ok {
		m.ApplyFailed = true
		m.UpdatedAt = time.Now()
		s.members[guildID][memberID] = m
	}
	return nil
}

func (s *MemoryStore) ExpiredMembers(ctx context.Context, now time.Time, limit int) ([]*model.GatekeeperMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GatekeeperMember
	for _, guild := range s.members {
		for _, m := range guild {
			if m.State == model.StateAdded && m.VerifyBy != nil && m.VerifyBy.Before(now) {
				c := m
				out = append(out, &c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerifyBy.Before(*out[j].VerifyBy) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AllMembers(ctx context.Context) ([]*model.GatekeeperMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GatekeeperMember
	for _, guild := range s.members {
		for _, m := range guild {
			c := m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Lockdowns ---

func (s *MemoryStore) InsertLockdown(ctx context.Context, e *model.LockdownEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.lockdowns[e.GuildID]
	if guild == nil {
		guild = make(map[int64]model.LockdownEntry)
		s.lockdowns[e.GuildID] = guild
	}
	if _, exists := guild[e.ChannelID]; exists {
		return false, nil
	}
	guild[e.ChannelID] = *e
	return true, nil
}

func (s *MemoryStore) GetLockdown(ctx context.Context, guildID, channelID int64) (*model.LockdownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lockdowns[guildID][channelID]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (s *MemoryStore) ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guild := s.lockdowns[guildID]
	out := make([]*model.LockdownEntry, 0, len(guild))
	for _, e := range guild {
		c := e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionLockdown(ctx context.Context, guildID, channelID int64, from, to model.LockState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockdowns[guildID][channelID]
	if !ok || e.State != from {
		return false, nil
	}
	e.State = to
	e.UpdatedAt = time.Now()
	s.lockdowns[guildID][channelID] = e
	return true, nil
}

func (s *MemoryStore) DeleteLockdownIfState(ctx context.Context, guildID, channelID int64, state model.LockState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lockdowns[guildID][channelID]
	if !ok || e.State != state {
		return false, nil
	}
	delete(s.lockdowns[guildID], channelID)
	return true, nil
}

func (s *MemoryStore) MarkLockdownFailed(ctx context.Context, guildID, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.lockdowns[guildID][channelID]; ok {
		e.ApplyFailed = true
		e.UpdatedAt = time.Now()
		s.lockdowns[guildID][channelID] = e
	}
	return nil
}

func (s *MemoryStore) ExpiredLockdowns(ctx context.Context, now time.Time, limit int) ([]*model.LockdownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LockdownEntry
	for _, guild := range s.lockdowns {
		for _, e := range guild {
			if e.State == model.Locked && e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
				c := e
				out = append(out, &c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AllLockdowns(ctx context.Context) ([]*model.LockdownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LockdownEntry
	for _, guild := range s.lockdowns {
		for _, e := range guild {
			c := e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- One-shot actions ---

func (s *MemoryStore) EnqueueAction(ctx context.Context, a *model.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = *a
	return nil
}

func (s *MemoryStore) DeleteAction(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return false, nil
	}
	delete(s.actions, id)
	return true, nil
}

func (s *MemoryStore) MarkActionFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actions[id]; ok {
		a.ApplyFailed = true
		s.actions[id] = a
	}
	return nil
}

func (s *MemoryStore) AllActions(ctx context.Context) ([]*model.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.PendingAction, 0, len(s.actions))
	for _, a := range s.actions {
		c := a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Reconciler work selection ---

func (s *MemoryStore) PendingGuilds(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	for guildID, guild := range s.members {
		for _, m := range guild {
			if !m.ApplyFailed && (m.State == model.StatePendingAdd || m.State == model.StatePendingRemove) {
				seen[guildID] = true
				break
			}
		}
	}
	for guildID, guild := range s.lockdowns {
		for _, e := range guild {
			if !e.ApplyFailed && (e.State == model.LockPending || e.State == model.LockPendingRevert) {
				seen[guildID] = true
				break
			}
		}
	}
	for _, a := range s.actions {
		if !a.ApplyFailed {
			seen[a.GuildID] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) PendingMutations(ctx context.Context, guildID int64, limit int) ([]model.Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var muts []model.Mutation
	sess, hasSession := s.sessions[guildID]
	if hasSession {
		for _, m := range s.members[guildID] {
			if m.ApplyFailed {
				continue
			}
			switch m.State {
			case model.StatePendingAdd:
				muts = append(muts, model.Mutation{
					Kind: model.MutationGrantRole, GuildID: guildID,
					MemberID: m.MemberID, RoleID: sess.RoleID, CreatedAt: m.CreatedAt,
				})
			case model.StatePendingRemove:
				muts = append(muts, model.Mutation{
					Kind: model.MutationRevokeRole, GuildID: guildID,
					MemberID: m.MemberID, RoleID: sess.RoleID, CreatedAt: m.CreatedAt,
				})
			}
		}
	}
	for _, e := range s.lockdowns[guildID] {
		if e.ApplyFailed {
			continue
		}
		switch e.State {
		case model.LockPending:
			muts = append(muts, model.Mutation{
				Kind: model.MutationLock, GuildID: guildID,
				ChannelID: e.ChannelID, Overwrite: e.Original.Lockdown(), CreatedAt: e.CreatedAt,
			})
		case model.LockPendingRevert:
			muts = append(muts, model.Mutation{
				Kind: model.MutationUnlock, GuildID: guildID,
				ChannelID: e.ChannelID, Overwrite: e.Original, CreatedAt: e.CreatedAt,
			})
		}
	}
	for _, a := range s.actions {
		if a.GuildID != guildID || a.ApplyFailed {
			continue
		}
		kind := model.MutationBan
		if a.Kind == model.ActionKick {
			kind = model.MutationKick
		}
		muts = append(muts, model.Mutation{
			Kind: kind, GuildID: guildID, MemberID: a.MemberID,
			ActionID: a.ID, Reason: a.Reason, CreatedAt: a.CreatedAt,
		})
	}

	sort.Slice(muts, func(i, j int) bool { return muts[i].CreatedAt.Before(muts[j].CreatedAt) })
	if len(muts) > limit {
		muts = muts[:limit]
	}
	return muts, nil
}

// --- Diagnostics ---

func (s *MemoryStore) RecordDiagnostic(ctx context.Context, d *model.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, *d)
	return nil
}

func (s *MemoryStore) ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Diagnostic
	for i := len(s.diags) - 1; i >= 0 && len(out) < limit; i-- {
		if s.diags[i].GuildID == guildID {
			c := s.diags[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
