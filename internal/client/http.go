package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/server"
)

// HTTPClient implements WardenClient using the HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g.
// "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func guildPath(guildID int64, rest string) string {
	return "/v1/guilds/" + strconv.FormatInt(guildID, 10) + rest
}

// --- Gatekeeper ---

func (c *HTTPClient) ActivateGatekeeper(ctx context.Context, guildID int64, req *server.ActivateRequest) (*model.GatekeeperSession, error) {
	var session model.GatekeeperSession
	if err := c.doJSON(ctx, http.MethodPost, guildPath(guildID, "/gatekeeper/activate"), req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTPClient) DeactivateGatekeeper(ctx context.Context, guildID int64) error {
	return c.doJSON(ctx, http.MethodPost, guildPath(guildID, "/gatekeeper/deactivate"), nil, nil)
}

func (c *HTTPClient) GatekeeperStatus(ctx context.Context, guildID int64) (*server.StatusResponse, error) {
	var status server.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, guildPath(guildID, "/gatekeeper"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPClient) ListMembers(ctx context.Context, guildID int64) ([]*model.GatekeeperMember, error) {
	var members []*model.GatekeeperMember
	if err := c.doJSON(ctx, http.MethodGet, guildPath(guildID, "/members"), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *HTTPClient) MemberState(ctx context.Context, guildID, memberID int64) (*model.GatekeeperMember, error) {
	var member model.GatekeeperMember
	path := guildPath(guildID, "/members/"+strconv.FormatInt(memberID, 10))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *HTTPClient) VerifyMember(ctx context.Context, guildID, memberID int64) error {
	path := guildPath(guildID, "/members/"+strconv.FormatInt(memberID, 10)+"/verify")
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// --- Lockdown ---

func (c *HTTPClient) Lock(ctx context.Context, guildID int64, channelIDs []int64, duration time.Duration, actor string) ([]int64, error) {
	req := server.LockRequest{ChannelIDs: channelIDs, Actor: actor}
	if duration > 0 {
		req.Duration = duration.String()
	}
	var resp struct {
		Locked []int64 `json:"locked"`
	}
	if err := c.doJSON(ctx, http.MethodPost, guildPath(guildID, "/lockdowns"), req, &resp); err != nil {
		return nil, err
	}
	return resp.Locked, nil
}

func (c *HTTPClient) Unlock(ctx context.Context, guildID, channelID int64) error {
	path := guildPath(guildID, "/lockdowns/"+strconv.FormatInt(channelID, 10))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) UnlockAll(ctx context.Context, guildID int64) ([]int64, error) {
	var resp struct {
		Unlocked []int64 `json:"unlocked"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, guildPath(guildID, "/lockdowns"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Unlocked, nil
}

func (c *HTTPClient) ListLockdowns(ctx context.Context, guildID int64) ([]*model.LockdownEntry, error) {
	var entries []*model.LockdownEntry
	if err := c.doJSON(ctx, http.MethodGet, guildPath(guildID, "/lockdowns"), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// --- Automod ---

func (c *HTTPClient) GetAutomod(ctx context.Context, guildID int64) (*server.AutomodConfigBody, error) {
	var body server.AutomodConfigBody
	if err := c.doJSON(ctx, http.MethodGet, guildPath(guildID, "/automod"), nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *HTTPClient) SetAutomod(ctx context.Context, guildID int64, body *server.AutomodConfigBody) (*server.AutomodConfigBody, error) {
	var updated server.AutomodConfigBody
	if err := c.doJSON(ctx, http.MethodPut, guildPath(guildID, "/automod"), body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// --- Diagnostics ---

func (c *HTTPClient) ListDiagnostics(ctx context.Context, guildID int64, limit int) ([]*model.Diagnostic, error) {
	path := guildPath(guildID, "/diagnostics")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var diags []*model.Diagnostic
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &diags); err != nil {
		return nil, err
	}
	return diags, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes
// the JSON response. If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
