// Package relay is a thin HTTP client over the external relay server:
// list the live sessions it exposes, and inject a prompt into one of
// them. The relay is a black-box dependency (spec.md §1); this
// package only speaks its documented JSON contract (spec.md §6).
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SessionInfo is the relay's view of a live session.
type SessionInfo struct {
	ID        string
	Title     string
	Directory string
	CreatedAt time.Time
}

type rawSession struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	Time      struct {
		Created int64 `json:"created"`
	} `json:"time"`
}

// Client talks to the relay over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at baseURL (e.g. http://127.0.0.1:4756).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListSessions fetches the relay's current session list.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session", nil)
	if err != nil {
		return nil, fmt.Errorf("build list_sessions request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list_sessions returned %d", ErrUnavailable, resp.StatusCode)
	}

	var raw []rawSession
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode session list: %v", ErrUnavailable, err)
	}

	out := make([]SessionInfo, 0, len(raw))
	for _, r := range raw {
		info := SessionInfo{ID: r.ID, Title: r.Title, Directory: r.Directory}
		if r.Time.Created > 0 {
			info.CreatedAt = time.UnixMilli(r.Time.Created).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// Inject posts text to the given session's async prompt endpoint.
// Returns ErrNotFound on HTTP 404 (session gone) and ErrUnavailable
// for connection errors, timeouts, or 5xx.
func (c *Client) Inject(ctx context.Context, sessionID, text string) error {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return fmt.Errorf("marshal inject body: %w", err)
	}

	url := fmt.Sprintf("%s/session/%s/prompt_async", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build inject request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("%w: inject returned %d", ErrUnavailable, resp.StatusCode)
	}
}
