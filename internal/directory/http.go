package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groblegark/warden/internal/model"
)

// HTTPDirectory implements Directory against an HTTP/JSON directory
// API. The engine does not define the directory's wire protocol; this
// client targets the conventional REST layout and is swappable behind
// the Directory interface.
type HTTPDirectory struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Compile-time check that HTTPDirectory implements Directory.
var _ Directory = (*HTTPDirectory)(nil)

// NewHTTPDirectory creates a directory client targeting the given base
// URL (e.g. "https://directory.internal:8443"). When token is
// non-empty, an Authorization header is set on every request.
func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (d *HTTPDirectory) GrantRole(ctx context.Context, guildID, memberID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, memberID, roleID)
	return d.do(ctx, http.MethodPut, path, nil)
}

func (d *HTTPDirectory) RevokeRole(ctx context.Context, guildID, memberID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, memberID, roleID)
	return d.do(ctx, http.MethodDelete, path, nil)
}

func (d *HTTPDirectory) ChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64) (model.Overwrite, error) {
	path := fmt.Sprintf("/guilds/%d/channels/%d/overwrites/%d", guildID, channelID, targetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return model.Overwrite{}, fmt.Errorf("build request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.Overwrite{}, ctx.Err()
		}
		return model.Overwrite{}, &Error{Kind: FailureRetryable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// No explicit overwrite on this channel.
		return model.Overwrite{}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := fmt.Sprintf("GET %s failed", path)
		return model.Overwrite{}, &Error{Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Msg: msg}
	}

	var body struct {
		Allow uint64 `json:"allow"`
		Deny  uint64 `json:"deny"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Overwrite{}, &Error{Kind: FailureRetryable, Msg: "decode overwrite: " + err.Error()}
	}
	return model.OverwriteFromPair(body.Allow, body.Deny), nil
}

func (d *HTTPDirectory) SetChannelOverwrite(ctx context.Context, guildID, channelID, targetID int64, overwrite model.Overwrite) error {
	path := fmt.Sprintf("/guilds/%d/channels/%d/overwrites/%d", guildID, channelID, targetID)
	body := map[string]uint64{
		"allow": uint64(overwrite.Allow),
		"deny":  uint64(overwrite.Deny),
	}
	return d.do(ctx, http.MethodPut, path, body)
}

func (d *HTTPDirectory) Ban(ctx context.Context, guildID, memberID int64, reason string) error {
	path := fmt.Sprintf("/guilds/%d/bans/%d", guildID, memberID)
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return d.do(ctx, http.MethodPut, path, body)
}

func (d *HTTPDirectory) Kick(ctx context.Context, guildID, memberID int64, reason string) error {
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, memberID)
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return d.do(ctx, http.MethodDelete, path, body)
}

// do issues the request and classifies any failure. Transport errors
// are retryable; response errors are classified by status.
func (d *HTTPDirectory) do(ctx context.Context, method, path string, body any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: FailureRetryable, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := fmt.Sprintf("%s %s failed", method, path)
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil && len(data) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(data)))
	}
	return &Error{Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Msg: msg}
}
