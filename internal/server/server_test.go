package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groblegark/warden/internal/directory"
	"github.com/groblegark/warden/internal/gatekeeper"
	"github.com/groblegark/warden/internal/lockdown"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/store/memory"
)

type stubDirectory struct{}

func (stubDirectory) GrantRole(ctx context.Context, guildID, memberID, roleID int64) error {
	return nil
}

func (stubDirectory) RevokeRole(ctx context.Context, guildID, memberID, roleID int64) error {
	return nil
}

func (stubDirectory) ChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64) (model.Overwrite, error) {
	return model.Overwrite{Allow: model.PermConnect}, nil
}

func (stubDirectory) SetChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64, overwrite model.Overwrite) error {
	return nil
}

func (stubDirectory) Ban(ctx context.Context, guildID, memberID int64, reason string) error {
	return nil
}

func (stubDirectory) Kick(ctx context.Context, guildID, memberID int64, reason string) error {
	return nil
}

var _ directory.Directory = stubDirectory{}

type testServer struct {
	handler http.Handler
	store   *memory.MemoryStore
	gate    *gatekeeper.Service
}

func newTestServer(t *testing.T, authToken string) *testServer {
	t.Helper()
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := gatekeeper.New(st, gatekeeper.NoopWaker{}, logger, 0)
	locks := lockdown.New(st, stubDirectory{}, gatekeeper.NoopWaker{}, logger)
	srv := NewWardenServer(st, gate, locks, logger)
	return &testServer{handler: srv.NewHTTPHandler(authToken), store: st, gate: gate}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	// Health stays open.
	if rec := ts.do(t, http.MethodGet, "/v1/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	// Everything else requires the token.
	rec := ts.do(t, http.MethodGet, "/v1/guilds/1/gatekeeper", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no-token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/guilds/1/gatekeeper", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad-token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/guilds/1/gatekeeper", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("good-token status = %d, want 200", w.Code)
	}
}

func TestActivateGatekeeper(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name string
		req  ActivateRequest
		want int
	}{
		{"missing channel", ActivateRequest{RoleID: 2, Message: "m", Bypass: "ban", Rate: "5/10s"}, http.StatusBadRequest},
		{"bad bypass", ActivateRequest{ChannelID: 1, RoleID: 2, Message: "m", Bypass: "mute", Rate: "5/10s"}, http.StatusBadRequest},
		{"bad rate", ActivateRequest{ChannelID: 1, RoleID: 2, Message: "m", Bypass: "ban", Rate: "lots"}, http.StatusBadRequest},
		{"valid", ActivateRequest{ChannelID: 1, RoleID: 2, Message: "m", Bypass: "ban", Rate: "5/10s"}, http.StatusOK},
		{"double activate", ActivateRequest{ChannelID: 1, RoleID: 2, Message: "m", Bypass: "ban", Rate: "5/10s"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/activate", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestGatekeeperStatusAndMembers(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/activate", ActivateRequest{
		ChannelID: 1, RoleID: 2, Message: "verify", Bypass: "kick", Rate: "5/10s",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", rec.Code, rec.Body)
	}
	if err := ts.gate.Quarantine(ctx, 1, 42); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	rec = ts.do(t, http.MethodGet, "/v1/guilds/1/gatekeeper", nil)
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !status.Session.Active() || status.Members != 1 {
		t.Errorf("status = %+v", status)
	}

	rec = ts.do(t, http.MethodGet, "/v1/guilds/1/members/42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member state: %d", rec.Code)
	}
	var member model.GatekeeperMember
	if err := json.Unmarshal(rec.Body.Bytes(), &member); err != nil {
		t.Fatalf("decoding member: %v", err)
	}
	if member.State != model.StatePendingAdd {
		t.Errorf("state = %q", member.State)
	}

	if rec = ts.do(t, http.MethodGet, "/v1/guilds/1/members/99", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown member status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/v1/guilds/1/members", nil)
	var members []*model.GatekeeperMember
	if err := json.Unmarshal(rec.Body.Bytes(), &members); err != nil {
		t.Fatalf("decoding members: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("members = %+v", members)
	}
}

func TestVerifyMember(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	if rec := ts.do(t, http.MethodPost, "/v1/guilds/1/members/42/verify", nil); rec.Code != http.StatusNotFound {
		t.Errorf("verify unknown status = %d, want 404", rec.Code)
	}

	ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/activate", ActivateRequest{
		ChannelID: 1, RoleID: 2, Message: "verify", Bypass: "ban", Rate: "5/10s",
	})
	ts.gate.Quarantine(ctx, 1, 42)
	ts.store.TransitionMember(ctx, 1, 42, model.StatePendingAdd, model.StateAdded)

	if rec := ts.do(t, http.MethodPost, "/v1/guilds/1/members/42/verify", nil); rec.Code != http.StatusOK {
		t.Errorf("verify status = %d", rec.Code)
	}
	m, _ := ts.store.GetMember(ctx, 1, 42)
	if m.State != model.StatePendingRemove {
		t.Errorf("state = %q, want pending_remove", m.State)
	}
}

func TestDeactivateGatekeeper(t *testing.T) {
	ts := newTestServer(t, "")

	if rec := ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/deactivate", nil); rec.Code != http.StatusConflict {
		t.Errorf("deactivate idle status = %d, want 409", rec.Code)
	}

	ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/activate", ActivateRequest{
		ChannelID: 1, RoleID: 2, Message: "verify", Bypass: "ban", Rate: "5/10s",
	})
	if rec := ts.do(t, http.MethodPost, "/v1/guilds/1/gatekeeper/deactivate", nil); rec.Code != http.StatusOK {
		t.Errorf("deactivate status = %d", rec.Code)
	}
}

func TestLockdownEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/v1/guilds/1/lockdowns", LockRequest{ChannelIDs: []int64{10, 11}})
	if rec.Code != http.StatusOK {
		t.Fatalf("lock: %d %s", rec.Code, rec.Body)
	}
	var lockResp struct {
		Locked []int64 `json:"locked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &lockResp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(lockResp.Locked) != 2 {
		t.Errorf("locked = %v", lockResp.Locked)
	}

	// Locking again is not an error but locks nothing new.
	rec = ts.do(t, http.MethodPost, "/v1/guilds/1/lockdowns", LockRequest{ChannelIDs: []int64{10}})
	if rec.Code != http.StatusOK {
		t.Fatalf("relock: %d", rec.Code)
	}

	if rec = ts.do(t, http.MethodPost, "/v1/guilds/1/lockdowns", LockRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty lock status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/v1/guilds/1/lockdowns", LockRequest{ChannelIDs: []int64{12}, Duration: "-5m"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative duration status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/v1/guilds/1/lockdowns", nil)
	var entries []*model.LockdownEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %+v", entries)
	}

	if rec = ts.do(t, http.MethodDelete, "/v1/guilds/1/lockdowns/99", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unlock unknown status = %d, want 404", rec.Code)
	}
	if rec = ts.do(t, http.MethodDelete, "/v1/guilds/1/lockdowns/10", nil); rec.Code != http.StatusOK {
		t.Errorf("unlock status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/v1/guilds/1/lockdowns", nil)
	var unlockResp struct {
		Unlocked []int64 `json:"unlocked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &unlockResp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	// Both rows are still present: the already-unlocking channel is
	// re-queued, the other newly queued.
	if len(unlockResp.Unlocked) != 2 {
		t.Errorf("unlocked = %v", unlockResp.Unlocked)
	}
}

func TestAutomodEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	if rec := ts.do(t, http.MethodGet, "/v1/guilds/1/automod", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get empty status = %d, want 404", rec.Code)
	}

	body := AutomodConfigBody{
		Flags:             []string{"joins", "lockdown"},
		MentionCount:      5,
		SafeEntities:      []int64{77},
		QuarantineChannel: 100,
		QuarantineRole:    200,
		QuarantineMessage: "react to verify",
		Bypass:            "ban",
		JoinRate:          "5/10s",
		LockdownChannels:  []int64{11, 12},
	}
	rec := ts.do(t, http.MethodPut, "/v1/guilds/1/automod", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/v1/guilds/1/automod", nil)
	var got AutomodConfigBody
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got.Flags) != 2 || got.JoinRate != "5/10s" || got.QuarantineRole != 200 {
		t.Errorf("got %+v", got)
	}

	bad := body
	bad.Flags = []string{"unknown"}
	if rec = ts.do(t, http.MethodPut, "/v1/guilds/1/automod", bad); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown flag status = %d, want 400", rec.Code)
	}
	bad = body
	bad.JoinRate = "garbage"
	if rec = ts.do(t, http.MethodPut, "/v1/guilds/1/automod", bad); rec.Code != http.StatusBadRequest {
		t.Errorf("bad rate status = %d, want 400", rec.Code)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts.store.RecordDiagnostic(ctx, &model.Diagnostic{
			ID: "diag-" + string(rune('a'+i)), GuildID: 1, Kind: model.DiagApplyFailed,
			Subject: "x", CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	rec := ts.do(t, http.MethodGet, "/v1/guilds/1/diagnostics?limit=2", nil)
	var diags []*model.Diagnostic
	if err := json.Unmarshal(rec.Body.Bytes(), &diags); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(diags) != 2 {
		t.Errorf("diags = %d, want 2", len(diags))
	}

	if rec = ts.do(t, http.MethodGet, "/v1/guilds/1/diagnostics?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestBadGuildID(t *testing.T) {
	ts := newTestServer(t, "")
	if rec := ts.do(t, http.MethodGet, "/v1/guilds/abc/gatekeeper", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
