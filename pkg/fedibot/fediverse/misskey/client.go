// Package misskey implements the fediverse contracts against a Misskey
// instance: note posting and account lookup over the HTTP API, and event
// delivery over the streaming websocket API.
package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

// Client talks to a Misskey instance's HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the given instance.
func New(instanceURL, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(strings.TrimRight(instanceURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse instance URL %q: %w", instanceURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("instance URL %q must be http(s)", instanceURL)
	}

	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "misskey"),
	}, nil
}

// Host returns the instance hostname.
func (c *Client) Host() string { return c.baseURL.Host }

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context) (*fediverse.Account, error) {
	var resp struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Host     string `json:"host"`
	}
	if err := c.post(ctx, "/api/i", map[string]any{}, &resp); err != nil {
		return nil, fmt.Errorf("resolve own account: %w", err)
	}

	host := resp.Host
	if host == "" {
		host = c.baseURL.Host
	}
	return &fediverse.Account{ID: resp.ID, Username: resp.Username, Host: host}, nil
}

// CreateNote publishes a note and returns its new ID.
func (c *Client) CreateNote(ctx context.Context, text string, opts fediverse.PostOptions) (string, error) {
	body := map[string]any{"text": text}
	if opts.ReplyTo != "" {
		body["replyId"] = opts.ReplyTo
	}
	if opts.Visibility != "" {
		body["visibility"] = string(opts.Visibility)
	}

	var resp struct {
		CreatedNote struct {
			ID string `json:"id"`
		} `json:"createdNote"`
	}
	if err := c.post(ctx, "/api/notes/create", body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", fediverse.ErrPost, err)
	}
	if resp.CreatedNote.ID == "" {
		return "", fmt.Errorf("%w: response carried no note id", fediverse.ErrPost)
	}
	return resp.CreatedNote.ID, nil
}

// post issues an authenticated Misskey API call. Misskey uses POST with
// the token in the JSON body for every endpoint.
func (c *Client) post(ctx context.Context, endpoint string, body map[string]any, out any) error {
	body["i"] = c.token

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("call %s: status %d: %s", endpoint, resp.StatusCode, truncate(string(data), 200))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
