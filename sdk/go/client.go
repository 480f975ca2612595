package issueflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is a minimal issueflow HTTP API client.
type Client struct {
	BaseURL     string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Issue represents the API issue model.
type Issue struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	SprintID    *string  `json:"sprint_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	DueDate     *string  `json:"due_date,omitempty"`
	CreatedAt   string   `json:"created_at"`
	Version     int64    `json:"version"`
	Assignee    *User    `json:"assignee,omitempty"`
	Reporter    *User    `json:"reporter,omitempty"`
	Labels      []string `json:"labels"`
}

// NewIssue are the fields accepted when creating an issue. Empty fields
// take the server defaults.
type NewIssue struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	SprintID    string   `json:"sprint_id,omitempty"`
	ReporterID  string   `json:"reporter_id,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

type HistoryEntry struct {
	ID        int64   `json:"id"`
	IssueID   string  `json:"issue_id"`
	ChangedAt string  `json:"changed_at"`
	ChangedBy *string `json:"changed_by,omitempty"`
	Field     string  `json:"field"`
	OldValue  string  `json:"old_value"`
	NewValue  string  `json:"new_value"`
}

type Comment struct {
	ID        int64  `json:"id"`
	IssueID   string `json:"issue_id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type Performer struct {
	AssigneeName string `json:"assignee_name"`
	ClosedCount  int    `json:"closed_count"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the server's error code when
// the body carries the standard envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a lost optimistic-concurrency race.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "concurrent_modification"
}

// RetryOnConflict calls fn until it succeeds, fails with anything other
// than a concurrent modification, or ctx is done. fn should re-read the
// issue on every attempt.
func RetryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !IsConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) CreateUser(ctx context.Context, id, username string) (User, error) {
	body := map[string]any{"username": username}
	if id != "" {
		body["id"] = id
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "users", body, &resp)
	return resp, err
}

func (c *Client) CreateIssue(ctx context.Context, projectID string, in NewIssue) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/issues", url.PathEscape(projectID)), in, &resp)
	return resp, err
}

func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.issuePath(id, ""), nil, &resp)
	return resp, err
}

// SearchIssues lists a project's issues. Empty status or text do not filter.
func (c *Client) SearchIssues(ctx context.Context, projectID, status, text string) ([]Issue, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if text != "" {
		q.Set("text", text)
	}
	var resp []Issue
	err := c.do(ctx, http.MethodGet, withQuery(fmt.Sprintf("projects/%s/issues", url.PathEscape(projectID)), q), nil, &resp)
	return resp, err
}

func (c *Client) StartIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPut, c.issuePath(id, "start"), nil, &resp)
	return resp, err
}

func (c *Client) CompleteIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPut, c.issuePath(id, "complete"), nil, &resp)
	return resp, err
}

func (c *Client) AssignIssue(ctx context.Context, id, userID string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPut, withQuery(c.issuePath(id, "assign"), url.Values{"user_id": {userID}}), nil, &resp)
	return resp, err
}

// AddComment posts a comment. An empty userID attributes it to the actor.
func (c *Client) AddComment(ctx context.Context, issueID, userID, content string) (Comment, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var resp Comment
	err := c.do(ctx, http.MethodPost, withQuery(c.issuePath(issueID, "comments"), q), map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) Comments(ctx context.Context, issueID string) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "comments"), nil, &resp)
	return resp, err
}

// History returns the issue's changes, newest first.
func (c *Client) History(ctx context.Context, issueID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "history"), nil, &resp)
	return resp, err
}

// TopPerformers ranks assignees. from and to accept anything the server's
// time parser does; empty values use the server's window.
func (c *Client) TopPerformers(ctx context.Context, from, to string, limit int) ([]Performer, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Performer `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("reports/top-performers", q), nil, &resp)
	return resp.Items, err
}

// EventsPage returns a page of events with ids above after. Pass the
// previous page's NextCursor to continue.
func (c *Client) EventsPage(ctx context.Context, limit int, after string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		q.Set("after", after)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) issuePath(id, action string) string {
	p := "issues/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
