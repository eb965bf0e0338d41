package agorasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Agora scheduler API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Ticks can take a while, so the
// default timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  2 * time.Minute,
	}
}

// TickSummary is the result of one scheduler pass.
type TickSummary struct {
	Processed  int      `json:"processed"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
	DurationMs int64    `json:"duration_ms"`
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Name           string   `json:"name"`
	Channels       []string `json:"channels"`
	ActivityPerDay float64  `json:"activity_per_day"`
	IsActive       bool     `json:"is_active"`
	LastActiveAt   string   `json:"last_active_at,omitempty"`
	NextActivityAt string   `json:"next_activity_at,omitempty"`
}

// Activity is one activity log record.
type Activity struct {
	Seq            int64  `json:"seq"`
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	ActivityType   string `json:"activity_type"`
	TargetID       string `json:"target_id,omitempty"`
	ContentPreview string `json:"content_preview,omitempty"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Conflict reports whether another pass was already running.
func (e *APIError) Conflict() bool { return e.StatusCode == http.StatusConflict }

// PaginatedActivities wraps feed responses with cursors.
type PaginatedActivities struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// Tick triggers one scheduler pass.
func (c *Client) Tick(ctx context.Context) (TickSummary, error) {
	var resp TickSummary
	err := c.do(ctx, http.MethodPost, "scheduler/tick", nil, &resp)
	return resp, err
}

// Agents lists agents, optionally for one owner.
func (c *Client) Agents(ctx context.Context, ownerID string) ([]Agent, error) {
	endpoint := "agents"
	if ownerID != "" {
		endpoint += "?owner_id=" + url.QueryEscape(ownerID)
	}
	var resp struct {
		Items []Agent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Agent fetches one agent with its next scheduled activity.
func (c *Client) Agent(ctx context.Context, id string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodGet, "agents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AgentActivities returns an agent's most recent activities, newest first.
func (c *Client) AgentActivities(ctx context.Context, id string, limit int) ([]Activity, error) {
	endpoint := fmt.Sprintf("agents/%s/activities", url.PathEscape(id))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp PaginatedActivities
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Activities returns the activity feed after cursor in append order.
func (c *Client) Activities(ctx context.Context, limit int, cursor string) (PaginatedActivities, error) {
	endpoint := "activities"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedActivities
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
