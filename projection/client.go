// Package projection keeps a client side read model of one board in sync
// with the board API.
package projection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"

	"prism-board/board-api/domain"
)

// APIError is a non-2xx answer from the board API.
type APIError struct {
	Status  int
	Message string
	Details sonic.NoCopyRawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board api: %d %s", e.Status, e.Message)
}

// WIPExceeded reports whether the request was rejected by a column limit.
func (e *APIError) WIPExceeded() bool {
	return e.Status == http.StatusConflict && e.Message == domain.CodeWIPExceeded
}

// Violations returns the offending columns of a WIP conflict. Single moves
// report one column, batch reorders may report several.
func (e *APIError) Violations() []domain.Violation {
	if !e.WIPExceeded() || len(e.Details) == 0 {
		return nil
	}
	var batch domain.BatchViolations
	if err := sonic.Unmarshal(e.Details, &batch); err == nil && len(batch.Violations) > 0 {
		return batch.Violations
	}
	var single domain.Violation
	if err := sonic.Unmarshal(e.Details, &single); err == nil && single.ColumnKey != "" {
		return []domain.Violation{single}
	}
	return nil
}

// TaskDraft is the body of a task creation request.
type TaskDraft struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	ColumnKey   string          `json:"columnKey,omitempty"`
	Order       *float64        `json:"order,omitempty"`
	AssigneeID  string          `json:"assigneeId,omitempty"`
	StoryPoints *float64        `json:"storyPoints,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
}

// Client talks to the board API on behalf of one user.
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithBreaker stops calling the API after repeated transport or server
// failures. Client errors never trip it.
func WithBreaker(b *gobreaker.CircuitBreaker) ClientOption { return func(c *Client) { c.breaker = b } }

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{base: baseURL, token: token, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBreaker returns the breaker settings used for API clients.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	call := func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	}
	if c.breaker == nil {
		_, err := call()
		return err
	}
	_, err := c.breaker.Execute(call)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error   string                 `json:"error"`
			Details sonic.NoCopyRawMessage `json:"details"`
		}
		if sonic.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Details = payload.Details
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

func projectPath(projectID string, rest ...string) string {
	p := "/api/projects/" + url.PathEscape(projectID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) GetProject(ctx context.Context, projectID string) (domain.ProjectView, error) {
	var out struct {
		Project domain.ProjectView `json:"project"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID), nil, &out)
	return out.Project, err
}

func (c *Client) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var out struct {
		Tasks []domain.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "tasks"), nil, &out)
	return out.Tasks, err
}

func (c *Client) ListBacklog(ctx context.Context, projectID string) ([]domain.Task, error) {
	var out struct {
		Tasks []domain.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "tasks", "backlog"), nil, &out)
	return out.Tasks, err
}

// CreateTask adds a card to a column, or to the backlog when the draft has
// no column.
func (c *Client) CreateTask(ctx context.Context, projectID string, draft TaskDraft) (domain.Task, error) {
	path := projectPath(projectID, "tasks")
	if draft.ColumnKey == "" {
		path = projectPath(projectID, "tasks", "backlog")
	}
	var out struct {
		Task domain.Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, path, draft, &out)
	return out.Task, err
}

// UpdateTask sends patch as is; absent keys are left untouched and null
// clears a field.
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, patch map[string]any) (domain.Task, error) {
	var out struct {
		Task domain.Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPatch, projectPath(projectID, "tasks", taskID), patch, &out)
	return out.Task, err
}

// MoveTask moves a card to column, or to the backlog for domain.BacklogKey.
func (c *Client) MoveTask(ctx context.Context, projectID, taskID, column string) (domain.Task, error) {
	body := map[string]any{"toColumnKey": column}
	if column == domain.BacklogKey {
		body = map[string]any{"backlog": true}
	}
	var out struct {
		Task domain.Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "tasks", taskID, "move"), body, &out)
	return out.Task, err
}

func (c *Client) ReorderTasks(ctx context.Context, projectID string, changes []domain.OrderChange) error {
	body := struct {
		Tasks []domain.OrderChange `json:"tasks"`
	}{Tasks: changes}
	return c.do(ctx, http.MethodPost, projectPath(projectID, "tasks", "reorder"), body, nil)
}

func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "tasks", taskID), nil, nil)
}
