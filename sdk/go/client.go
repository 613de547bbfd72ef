package peopledesksdk

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

// Client is a minimal PeopleDesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Assignee names one intended assignee for create, reassign, or delegate.
type Assignee struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role,omitempty"`
}

// Assignment is a per-assignee entry on a task.
type Assignment struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	AssignedAt string `json:"assigned_at"`
}

// Task represents the API task model.
type Task struct {
	ID             string       `json:"id"`
	Number         string       `json:"number"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Category       string       `json:"category"`
	Priority       string       `json:"priority"`
	DueDate        string       `json:"due_date"`
	Progress       int          `json:"progress"`
	Status         string       `json:"status"`
	AssignedBy     string       `json:"assigned_by"`
	AssignmentType string       `json:"assignment_type"`
	ParentID       *string      `json:"parent_id,omitempty"`
	Subtasks       []string     `json:"subtasks,omitempty"`
	Assignments    []Assignment `json:"assignments"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
	CompletedAt    *string      `json:"completed_at,omitempty"`
}

// AuditEntry is one row of a task's audit trail.
type AuditEntry struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	To          string `json:"to,omitempty"`
	PerformedBy string `json:"performed_by"`
	TS          string `json:"ts"`
	Reason      string `json:"reason,omitempty"`
}

// TaskStats summarizes the filtered task set of a listing.
type TaskStats struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Overdue      int     `json:"overdue"`
	HighPriority int     `json:"high_priority"`
	AvgProgress  float64 `json:"avg_progress"`
}

// TaskPage wraps list responses with a cursor and stats.
type TaskPage struct {
	Items      []Task    `json:"items"`
	NextCursor string    `json:"next_cursor"`
	Stats      TaskStats `json:"stats"`
}

// CreateTaskRequest holds the create-task parameters.
type CreateTaskRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	DueDate        string     `json:"due_date"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	Assignees      []Assignee `json:"assignees"`
	ParentID       string     `json:"parent_id,omitempty"`
}

// ListTasksOptions are the optional listing parameters.
type ListTasksOptions struct {
	View       string
	Status     string
	Priority   string
	Category   string
	AssigneeID string
	Overdue    bool
	Search     string
	Limit      int
	Cursor     string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login mints a JWT through the dev login endpoint and stores it on the
// client. Only works against servers with dev login enabled.
func (c *Client) Login(ctx context.Context, employeeID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"employee_id": employeeID}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", req, &resp)
	return resp, err
}

// GetTask fetches a task by id or number.
func (c *Client) GetTask(ctx context.Context, ref string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// ListTasks returns one page of the actor's scoped task listing.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (TaskPage, error) {
	q := url.Values{}
	if opts.View != "" {
		q.Set("view", opts.View)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Priority != "" {
		q.Set("priority", opts.Priority)
	}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.AssigneeID != "" {
		q.Set("assignee_id", opts.AssigneeID)
	}
	if opts.Overdue {
		q.Set("overdue", "true")
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := "v0/tasks"
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Accept accepts the caller's pending assignment.
func (c *Client) Accept(ctx context.Context, ref string) (Task, error) {
	return c.transition(ctx, ref, "accept", nil)
}

// Reject rejects the caller's pending assignment.
func (c *Client) Reject(ctx context.Context, ref, reason string) (Task, error) {
	return c.transition(ctx, ref, "reject", map[string]any{"reason": reason})
}

// UpdateProgress reports progress; pass submit to move the task to review.
func (c *Client) UpdateProgress(ctx context.Context, ref string, progress int, submit bool) (Task, error) {
	body := map[string]any{"progress": progress}
	if submit {
		body["target_status"] = "review"
	}
	return c.transition(ctx, ref, "progress", body)
}

// Approve completes a task under review.
func (c *Client) Approve(ctx context.Context, ref, note string) (Task, error) {
	return c.transition(ctx, ref, "approve", map[string]any{"note": note})
}

// RequestRevision sends a task under review back to in_progress.
func (c *Client) RequestRevision(ctx context.Context, ref, note string) (Task, error) {
	return c.transition(ctx, ref, "revision", map[string]any{"note": note})
}

// Reassign replaces the assignment set.
func (c *Client) Reassign(ctx context.Context, ref string, assignees []Assignee) (Task, error) {
	return c.transition(ctx, ref, "reassign", map[string]any{"assignees": assignees})
}

// Delegate appends assignees and marks the caller's entry delegated.
func (c *Client) Delegate(ctx context.Context, ref string, assignees []Assignee) (Task, error) {
	return c.transition(ctx, ref, "delegate", map[string]any{"assignees": assignees})
}

// Cancel terminates a task.
func (c *Client) Cancel(ctx context.Context, ref, reason string) (Task, error) {
	return c.transition(ctx, ref, "cancel", map[string]any{"reason": reason})
}

// Hold parks a task.
func (c *Client) Hold(ctx context.Context, ref, reason string) (Task, error) {
	return c.transition(ctx, ref, "hold", map[string]any{"reason": reason})
}

// Resume returns an on-hold task to its prior status.
func (c *Client) Resume(ctx context.Context, ref string) (Task, error) {
	return c.transition(ctx, ref, "resume", nil)
}

// Audit returns a task's audit trail.
func (c *Client) Audit(ctx context.Context, ref string) ([]AuditEntry, error) {
	var resp []AuditEntry
	endpoint := "v0/tasks/" + url.PathEscape(ref) + "/audit"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, ref, name string, body map[string]any) (Task, error) {
	if body == nil {
		body = map[string]any{}
	}
	var resp Task
	endpoint := "v0/tasks/" + url.PathEscape(ref) + "/" + name
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
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
	return strings.TrimRight(c.BaseURL, "/")
}
