package protolinesdk

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

// Client is a minimal Protoline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
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

// Protocol mirrors the API protocol model.
type Protocol struct {
	ID            string     `json:"id"`
	ProcessNumber string     `json:"process_number,omitempty"`
	Court         string     `json:"court"`
	System        string     `json:"system"`
	Degree        string     `json:"degree"`
	ProcessType   string     `json:"process_type,omitempty"`
	Task          string     `json:"task,omitempty"`
	PetitionType  string     `json:"petition_type,omitempty"`
	Observations  string     `json:"observations,omitempty"`
	Documents     []string   `json:"documents,omitempty"`
	Guias         []string   `json:"guias,omitempty"`
	IsFatal       bool       `json:"is_fatal"`
	Status        string     `json:"status"`
	AssignedTo    *string    `json:"assigned_to,omitempty"`
	ReturnReason  string     `json:"return_reason,omitempty"`
	QueuePosition int        `json:"queue_position"`
	ActivityLog   []LogEntry `json:"activity_log"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// LogEntry is one activity trail record.
type LogEntry struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Action      string `json:"action"`
	Description string `json:"description"`
	PerformedBy string `json:"performed_by"`
}

// UpdateResult reports the outcome of a protocol update.
type UpdateResult struct {
	Changes      int64 `json:"changes"`
	LogRecovered bool  `json:"log_recovered,omitempty"`
}

// QueueCount is the pending backlog of one queue.
type QueueCount struct {
	Assignee *string `json:"assignee"`
	Pending  int     `json:"pending"`
}

// PurgeResult breaks down a finalized purge by status.
type PurgeResult struct {
	Total        int `json:"total"`
	Peticionados int `json:"peticionados"`
	Cancelados   int `json:"cancelados"`
	Devolvidos   int `json:"devolvidos"`
}

// Employee mirrors the API employee model.
type Employee struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Team      string `json:"team,omitempty"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProtocol submits a new filing for routing.
func (c *Client) CreateProtocol(ctx context.Context, body map[string]any) (Protocol, error) {
	var resp Protocol
	err := c.do(ctx, http.MethodPost, "protocols", body, &resp)
	return resp, err
}

// GetProtocol fetches a protocol by id.
func (c *Client) GetProtocol(ctx context.Context, id string) (Protocol, error) {
	var resp Protocol
	err := c.do(ctx, http.MethodGet, "protocols/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProtocols returns all protocols, newest first.
func (c *Client) ListProtocols(ctx context.Context) ([]Protocol, error) {
	var resp []Protocol
	err := c.do(ctx, http.MethodGet, "protocols", nil, &resp)
	return resp, err
}

// UpdateProtocol applies a partial update. Fields absent from the body are
// left untouched.
func (c *Client) UpdateProtocol(ctx context.Context, id string, body map[string]any) (UpdateResult, error) {
	var resp UpdateResult
	err := c.do(ctx, http.MethodPatch, "protocols/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// SetStatus moves a protocol to a new lifecycle status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (UpdateResult, error) {
	return c.UpdateProtocol(ctx, id, map[string]any{"status": status})
}

// ResubmitProtocol sends a returned protocol back for analysis.
func (c *Client) ResubmitProtocol(ctx context.Context, id string) (UpdateResult, error) {
	var resp UpdateResult
	err := c.do(ctx, http.MethodPost, "protocols/"+url.PathEscape(id)+"/resubmit", nil, &resp)
	return resp, err
}

// ReassignProtocol moves a pending protocol to another queue. A nil assignee
// targets the automated lane.
func (c *Client) ReassignProtocol(ctx context.Context, id string, assignee *string) (Protocol, error) {
	var resp Protocol
	body := map[string]any{"assignee": assignee}
	err := c.do(ctx, http.MethodPost, "protocols/"+url.PathEscape(id)+"/reassign", body, &resp)
	return resp, err
}

// DeleteProtocol removes a protocol.
func (c *Client) DeleteProtocol(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "protocols/"+url.PathEscape(id), nil, nil)
}

// QueueCounts returns per-queue pending backlogs.
func (c *Client) QueueCounts(ctx context.Context) ([]QueueCount, error) {
	var resp []QueueCount
	err := c.do(ctx, http.MethodGet, "queues", nil, &resp)
	return resp, err
}

// Queue returns the pending protocols of one lane in queue order. Use "robot"
// for the automated lane, otherwise the reviewer name.
func (c *Client) Queue(ctx context.Context, lane string) ([]Protocol, error) {
	var resp []Protocol
	err := c.do(ctx, http.MethodGet, "queues/"+url.PathEscape(lane), nil, &resp)
	return resp, err
}

// PurgeFinalized deletes every protocol in a final status and reports the
// per-status counts.
func (c *Client) PurgeFinalized(ctx context.Context) (PurgeResult, error) {
	var resp PurgeResult
	err := c.do(ctx, http.MethodDelete, "maintenance/finalized", nil, &resp)
	return resp, err
}

// CreateEmployee registers an employee.
func (c *Client) CreateEmployee(ctx context.Context, name, email, team string) (Employee, error) {
	body := map[string]any{"name": name, "email": email}
	if team != "" {
		body["team"] = team
	}
	var resp Employee
	err := c.do(ctx, http.MethodPost, "employees", body, &resp)
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
