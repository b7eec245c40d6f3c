// Package openagent provides a small typed client for the OpenAgent Loop
// REST API.
package openagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the polling cadence used by WaitForTask when the
// caller passes a non-positive interval.
const DefaultPollInterval = 2 * time.Second

// Client wraps the HTTP interactions with the OpenAgent Loop REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the username and password exchanged for tokens.
type Credentials struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// TaskSubmission represents the payload required to create a new agent run.
type TaskSubmission struct {
	Goal      string         `json:"goal"`
	Profile   string         `json:"profile,omitempty"`
	MaxCycles int            `json:"max_cycles,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskResult mirrors the outcome of a completed agent run.
type TaskResult struct {
	Outcome     string `json:"outcome"`
	Summary     string `json:"summary"`
	Cycles      int    `json:"cycles"`
	LastCommand string `json:"last_command,omitempty"`
	Output      string `json:"output,omitempty"`
}

// Task contains the server side view of a submitted run.
type Task struct {
	ID         string      `json:"id"`
	Goal       string      `json:"goal"`
	Profile    string      `json:"profile,omitempty"`
	Status     string      `json:"status"`
	Attempts   int         `json:"attempts"`
	MaxRetries int         `json:"max_retries"`
	LastError  string      `json:"last_error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	Result     *TaskResult `json:"result,omitempty"`
	CreatedAt  int64       `json:"created_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// Episode is one proposal/execution cycle recorded for a task.
type Episode struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Cycle     int64  `json:"cycle"`
	Command   string `json:"command"`
	Args      string `json:"args,omitempty"`
	Thought   string `json:"thought,omitempty"`
	Speak     string `json:"speak,omitempty"`
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Stats aggregates task counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListOptions narrows ListTasks results. Zero values are omitted.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	Order    string
	Query    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("openagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the OpenAgent Loop API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls. Servers running with authentication disabled do not need
// this call.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	if creds.GrantType == "" {
		creds.GrantType = "password"
	}
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// SubmitTask enqueues a new agent run.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created, true); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, &detail, true); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns tasks matching the given filters.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", fmt.Sprint(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", fmt.Sprint(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Order != "" {
		query.Set("order", opts.Order)
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	endpoint := "/api/v1/tasks"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks, true); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskEpisodes returns the recorded cycles of a task in cycle order.
func (c *Client) TaskEpisodes(ctx context.Context, taskID string) ([]Episode, error) {
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID) + "/episodes"
	var episodes []Episode
	if err := c.get(ctx, endpoint, &episodes, true); err != nil {
		return nil, err
	}
	return episodes, nil
}

// Stats returns aggregate task counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", &stats, true); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForTask polls until the task reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		switch detail.Status {
		case "succeeded", "failed":
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parts := strings.SplitN(endpoint, "?", 2)
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parts[0])}
	if len(parts) == 2 {
		rel.RawQuery = parts[1]
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		// The token is optional: servers with auth disabled accept bare
		// requests.
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
