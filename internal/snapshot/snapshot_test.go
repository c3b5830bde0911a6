package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store/memory"
)

func seedStore(t *testing.T) *memory.MemoryStore {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := st.UpsertAutomodConfig(ctx, &model.AutomodConfig{
		GuildID: 2, Flags: model.FlagJoins, MentionCount: 5, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
	st.UpsertAutomodConfig(ctx, &model.AutomodConfig{GuildID: 1, Flags: model.FlagRaid, UpdatedAt: now})

	if err := st.CreateSession(ctx, &model.GatekeeperSession{
		GuildID: 1, ChannelID: 100, RoleID: 200, Message: "verify",
		Bypass: model.BypassBan, Rate: model.RatePolicy{Joins: 5, Per: 10 * time.Second},
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	st.StartSession(ctx, 1, now)

	for _, memberID := range []int64{43, 42} {
		_, err := st.InsertMember(ctx, &model.GatekeeperMember{
			GuildID: 1, MemberID: memberID, State: model.StatePendingAdd,
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}

	_, err = st.InsertLockdown(ctx, &model.LockdownEntry{
		GuildID: 1, ChannelID: 10, State: model.Locked,
		Original: model.Overwrite{Allow: model.PermConnect},
		Actor:    "ops", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed lockdown: %v", err)
	}

	if err := st.EnqueueAction(ctx, &model.PendingAction{
		ID: "act-1", GuildID: 1, MemberID: 99, Kind: model.ActionBan,
		Reason: "mention spam", CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed action: %v", err)
	}
	return st
}

func TestExportJSONL(t *testing.T) {
	st := seedStore(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), st, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatal("empty export")
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	if h.ConfigCount != 2 || h.SessionCount != 1 || h.MemberCount != 2 || h.LockdownCount != 1 || h.ActionCount != 1 {
		t.Errorf("header = %+v", h)
	}

	var types []string
	for scanner.Scan() {
		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decoding record: %v", err)
		}
		types = append(types, rec.Type)
	}
	want := []string{"automod_config", "automod_config", "session", "member", "member", "lockdown", "action"}
	if len(types) != len(want) {
		t.Fatalf("types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestExportOrdering(t *testing.T) {
	st := seedStore(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), st, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}

	// Configs sorted by guild, members by member ID.
	var guilds, members []int64
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				GuildID  int64 `json:"guild_id"`
				MemberID int64 `json:"member_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case "automod_config":
			guilds = append(guilds, rec.Data.GuildID)
		case "member":
			members = append(members, rec.Data.MemberID)
		}
	}
	if len(guilds) != 2 || guilds[0] != 1 || guilds[1] != 2 {
		t.Errorf("config guild order = %v", guilds)
	}
	if len(members) != 2 || members[0] != 42 || members[1] != 43 {
		t.Errorf("member order = %v", members)
	}
}

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "snapshot.jsonl")
	dest := NewFileDestination(path)

	if err := dest.Write(context.Background(), []byte("one\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := dest.Write(context.Background(), []byte("two\n")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if string(data) != "two\n" {
		t.Errorf("content = %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}

type capturingDest struct {
	mu     sync.Mutex
	writes int
}

func (d *capturingDest) Write(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	return nil
}

func (d *capturingDest) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func TestSchedulerRunsImmediately(t *testing.T) {
	st := seedStore(t)
	dest := &capturingDest{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := NewScheduler(st, []Destination{dest}, time.Hour, logger)
	sched.Start()
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for dest.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no snapshot written")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
