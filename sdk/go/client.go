package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskboard/internal/domain"
)

type (
	Task         = domain.Task
	HistoryEntry = domain.HistoryEntry
	AuditEntry   = domain.AuditEntry
)

// Client is a minimal task board HTTP API client. It carries the session
// cookie itself so it works without a cookie jar.
type Client struct {
	BaseURL    string
	CookieName string
	Session    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		CookieName: "auth",
		Timeout:    10 * time.Second,
	}
}

// Settings mirrors GET /settings.
type Settings struct {
	User              string   `json:"user"`
	ResetDoneOnReopen bool     `json:"resetDoneOnReopen"`
	HistoryLimit      int      `json:"historyLimit"`
	PasscodeEnabled   bool     `json:"passcodeEnabled"`
	Users             []string `json:"users"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Message extracts the envelope message, or the plain message field used by
// the history clear route.
func (e *APIError) Message() string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(e.Body), &env) == nil {
		if env.Error.Message != "" {
			return env.Error.Message
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return e.Body
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Login signs in and keeps the session cookie on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]any{"username": username, "password": password}
	resp, err := c.send(ctx, http.MethodPost, "login", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == c.cookieName() {
			c.Session = ck.Value
			return nil
		}
	}
	return fmt.Errorf("login response carried no %s cookie", c.cookieName())
}

// Logout ends the session. The server answers with a redirect, which counts
// as success.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodPost, "logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readError(resp)
	}
	c.Session = ""
	return nil
}

// Me returns the signed-in username.
func (c *Client) Me(ctx context.Context) (string, error) {
	var resp struct {
		User *string `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "me", nil, &resp); err != nil {
		return "", err
	}
	if resp.User == nil {
		return "", &APIError{StatusCode: http.StatusUnauthorized, Body: `{"user":null}`}
	}
	return *resp.User, nil
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var resp Settings
	err := c.do(ctx, http.MethodGet, "settings", nil, &resp)
	return resp, err
}

// ListTasks returns tasks newest first, optionally narrowed to one owner.
func (c *Client) ListTasks(ctx context.Context, user string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", "user", user), nil, &resp)
	return resp, err
}

// CreateTask posts t and returns the stored task.
func (c *Client) CreateTask(ctx context.Context, t Task) (Task, error) {
	body := map[string]any{
		"content":  t.Content,
		"username": t.Username,
	}
	if t.ID != "" {
		body["id"] = t.ID
	}
	if t.Column != "" {
		body["column"] = string(t.Column)
	}
	if t.InProgressAt != nil {
		body["inProgressAt"] = *t.InProgressAt
	}
	if t.EstimatedCompletion != nil {
		body["estimatedCompletion"] = *t.EstimatedCompletion
	}
	if t.DoneAt != nil {
		body["doneAt"] = *t.DoneAt
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// UpdateTask applies updates; a nil value clears the field.
func (c *Client) UpdateTask(ctx context.Context, id string, updates map[string]any) error {
	_, err := c.UpdateTaskReturning(ctx, id, updates)
	return err
}

// UpdateTaskReturning is UpdateTask that also returns the stored task.
func (c *Client) UpdateTaskReturning(ctx context.Context, id string, updates map[string]any) (Task, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	var resp struct {
		Success bool `json:"success"`
		Task    Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPut, "tasks", map[string]any{"id": id, "updates": updates}, &resp)
	return resp.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks", map[string]any{"id": id}, nil)
}

// ExportCSV downloads the board as CSV.
func (c *Client) ExportCSV(ctx context.Context, user string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, withQuery("tasks/export.csv", "user", user), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, readError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	endpoint := "history"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AppendHistory posts e; the server stamps its own timestamp.
func (c *Client) AppendHistory(ctx context.Context, e HistoryEntry) error {
	body := map[string]any{
		"actionBy": e.ActionBy,
		"action":   e.Action,
	}
	if e.TaskID != "" {
		body["taskId"] = e.TaskID
	}
	if e.TaskContent != "" {
		body["taskContent"] = e.TaskContent
	}
	if e.TaskOwner != "" {
		body["taskOwner"] = e.TaskOwner
	}
	return c.do(ctx, http.MethodPost, "history", body, nil)
}

// ClearHistory deletes all history entries and returns how many went.
func (c *Client) ClearHistory(ctx context.Context, passcode string) (int64, error) {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Deleted int64  `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "history", map[string]any{"passcode": passcode}, &resp)
	return resp.Deleted, err
}

func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	endpoint := "audit"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: c.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName(), Value: c.Session})
	}
	return c.HTTPClient.Do(req)
}

func readError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
}

func withQuery(endpoint, key, value string) string {
	if value == "" {
		return endpoint
	}
	return endpoint + "?" + url.Values{key: {value}}.Encode()
}

func (c *Client) cookieName() string {
	if c.CookieName == "" {
		return "auth"
	}
	return c.CookieName
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
