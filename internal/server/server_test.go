package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"

	"taskboard/internal/audit"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.AllowedUsers = "bob:pw,amy:pw2"
	cfg.Auth.HistoryPasscode = "1234"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e := engine.New(r, cfg).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	hc := ConfigFrom(e, cfg)
	hc.BlockedUserAgents = []string{"curl", "Postman"}
	handler, err := New(hc)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	jar, _ := cookiejar.New(nil)
	testSrv := &testServer{
		URL:  "http://" + ln.Addr().String(),
		Repo: r,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, user, password string) {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/login", map[string]any{
		"username": user,
		"password": password,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(body))
	}
}

func createTask(t *testing.T, srv *testServer, content, owner string) domain.Task {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"content":  content,
		"username": owner,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(body))
	}
	var task domain.Task
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

// listTasks decodes into a fresh slice; reusing one would keep fields that
// the next response omits.
func listTasks(t *testing.T, srv *testServer, query string) []domain.Task {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks"+query, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	return tasks
}

func auditActions(t *testing.T, srv *testServer) []domain.AuditEntry {
	t.Helper()
	entries, err := srv.Repo.LatestAudit(context.Background(), 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	return entries
}

func TestLoginMeCreateScenario(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/login", map[string]any{
		"username": "bob",
		"password": "pw",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(body))
	}
	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == "auth" {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != "bob" || !cookie.HttpOnly {
		t.Fatalf("expected http-only auth cookie, got %+v", res.Cookies())
	}

	meRes, meBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, nil)
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var me MeResponse
	_ = json.Unmarshal(meBody, &me)
	if me.User == nil || *me.User != "bob" {
		t.Fatalf("expected bob, got %s", string(meBody))
	}

	before := len(auditActions(t, srv))
	task := createTask(t, srv, "Write release notes", "bob")
	if task.Column != domain.ColumnTodo || task.CreatedAt == "" {
		t.Fatalf("unexpected task: %+v", task)
	}
	entries := auditActions(t, srv)
	if len(entries) != before+1 || entries[0].Action != audit.ActionTaskCreated || entries[0].Username != "bob" {
		t.Fatalf("expected one task audit entry, got %+v", entries)
	}
	history, err := srv.Repo.LatestHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("create must not write history, got %d", len(history))
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/login", map[string]any{
		"username": "bob",
		"password": "nope",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	entries := auditActions(t, srv)
	if len(entries) != 1 || entries[0].Action != audit.ActionLoginFailed || entries[0].Extra["attemptedUser"] != "bob" {
		t.Fatalf("expected failed login audit, got %+v", entries)
	}
}

func TestMissingSessionIsAudited(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code != "unauthorized" {
		t.Fatalf("expected error envelope, got %s", string(body))
	}
	entries := auditActions(t, srv)
	if len(entries) != 1 || entries[0].Action != audit.ActionUnauthorized || entries[0].Username != audit.Unknown {
		t.Fatalf("expected unauthorized audit entry, got %+v", entries)
	}
	if entries[0].Extra["path"] != "/api/tasks" {
		t.Fatalf("expected path in audit extra, got %+v", entries[0].Extra)
	}

	meRes, meBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, nil)
	if meRes.StatusCode != http.StatusUnauthorized || !strings.Contains(string(meBody), `"user":null`) {
		t.Fatalf("expected 401 with null user, got %d: %s", meRes.StatusCode, string(meBody))
	}
}

func TestBlockedUserAgentGets404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, map[string]string{"User-Agent": "curl/8.4.0"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for blocked agent, got %d", res.StatusCode)
	}
}

func TestListTasksFiltersByOwnerIgnoringCase(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	createTask(t, srv, "first", "Bob")
	createTask(t, srv, "second", "amy")
	createTask(t, srv, "third", "bob")

	tasks := listTasks(t, srv, "?user=BOB")
	if len(tasks) != 2 || tasks[0].Content != "third" || tasks[1].Content != "first" {
		t.Fatalf("expected bob's tasks newest first, got %+v", tasks)
	}

	if all := listTasks(t, srv, ""); len(all) != 3 {
		t.Fatalf("expected all tasks, got %+v", all)
	}
}

func TestListTasksFiltersByNonASCIIOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	createTask(t, srv, "one", "Élodie")
	createTask(t, srv, "two", "ÉLODIE")
	createTask(t, srv, "three", "elodie")

	tasks := listTasks(t, srv, "?user=%C3%A9lodie")
	if len(tasks) != 2 || tasks[0].Content != "two" || tasks[1].Content != "one" {
		t.Fatalf("expected both accented owners, got %+v", tasks)
	}
}

func TestSettingsListsAssignableUsers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "amy", "pw2")

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/settings", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settings status %d: %s", res.StatusCode, string(body))
	}
	var settings SettingsResponse
	if err := json.Unmarshal(body, &settings); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if settings.User != "amy" || len(settings.Users) != 2 || settings.Users[0] != "amy" || settings.Users[1] != "bob" {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestUpdateEditsCreatedAt(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	task := createTask(t, srv, "x", "bob")

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/tasks", map[string]any{
		"id":      task.ID,
		"updates": map[string]any{"createdAt": "2026-01-01T08:00:00Z", "username": "amy"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(body))
	}
	tasks := listTasks(t, srv, "?user=amy")
	if len(tasks) != 1 || tasks[0].CreatedAt != "2026-01-01T08:00:00.000Z" {
		t.Fatalf("expected edited owner and createdAt, got %+v", tasks)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/tasks", map[string]any{
		"id":      "missing",
		"updates": map[string]any{"content": "x"},
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("update expected 404, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/tasks", map[string]any{"id": "missing"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("delete expected 404, got %d: %s", res.StatusCode, string(body))
	}
}

func TestUpdateRejectsBadColumn(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	task := createTask(t, srv, "x", "bob")
	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/tasks", map[string]any{
		"id":      task.ID,
		"updates": map[string]any{"column": "archived"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "updates.column") {
		t.Fatalf("expected 400 naming the field, got %d: %s", res.StatusCode, string(body))
	}
}

func TestClearHistoryPasscode(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	task := createTask(t, srv, "x", "bob")
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/history", map[string]any{
		"taskId":   task.ID,
		"actionBy": "bob",
		"action":   `Created task "x"`,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("append history status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/history", map[string]any{"passcode": "wrong"}, nil)
	if res.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "Incorrect passcode") {
		t.Fatalf("expected 401 incorrect passcode, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/history", nil, nil)
	var entries []domain.HistoryEntry
	_ = json.Unmarshal(body, &entries)
	if res.StatusCode != http.StatusOK || len(entries) != 1 {
		t.Fatalf("wrong passcode must not clear, got %d: %s", res.StatusCode, string(body))
	}
	if tasks := listTasks(t, srv, ""); len(tasks) != 1 || len(tasks[0].History) != 1 {
		t.Fatalf("task history must survive a wrong passcode: %+v", tasks)
	}

	res, body = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/history", map[string]any{"passcode": "1234"}, nil)
	var cleared ClearHistoryResponse
	_ = json.Unmarshal(body, &cleared)
	if res.StatusCode != http.StatusOK || !cleared.Success || cleared.Deleted != 1 {
		t.Fatalf("expected clear, got %d: %s", res.StatusCode, string(body))
	}
	if tasks := listTasks(t, srv, ""); len(tasks) != 1 || len(tasks[0].History) != 0 {
		t.Fatalf("task history should be empty after clear: %+v", tasks)
	}
}

func TestExportCSVAfterLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")
	task := createTask(t, srv, "Ship it", "bob")

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/tasks", map[string]any{
		"id": task.ID,
		"updates": map[string]any{
			"column":              "inprogress",
			"inProgressAt":        "2026-10-18T10:00:00.000Z",
			"estimatedCompletion": "2099-01-01",
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move to inprogress status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/tasks", map[string]any{
		"id": task.ID,
		"updates": map[string]any{
			"column": "done",
			"doneAt": "2026-10-19T10:00:00.000Z",
		},
	}, nil)
	var updated UpdateTaskResponse
	_ = json.Unmarshal(body, &updated)
	if res.StatusCode != http.StatusOK || updated.Task.Column != domain.ColumnDone {
		t.Fatalf("move to done status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/export.csv", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(body))
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", res.Header.Get("Content-Type"))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "kanban-board-") {
		t.Fatalf("unexpected disposition %q", res.Header.Get("Content-Disposition"))
	}
	rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %v", rows)
	}
	want := []string{"Done", "Ship it", "bob", task.CreatedAt, "2026-10-18T10:00:00.000Z", "2026-10-19T10:00:00.000Z", "2099-01-01"}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Fatalf("column %d: expected %q, got %q (row %v)", i, want[i], rows[1][i], rows[1])
		}
	}
}

func TestLogoutRedirectsAndExpiresCookie(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "bob", "pw")

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/logout", nil, nil)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/login" {
		t.Fatalf("expected 303 to /login, got %d %q", res.StatusCode, res.Header.Get("Location"))
	}
	entries := auditActions(t, srv)
	if entries[0].Action != audit.ActionLogout || entries[0].Extra["username"] != "bob" {
		t.Fatalf("expected logout audit for bob, got %+v", entries[0])
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", res.StatusCode)
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/api/tasks"]; !ok {
		t.Fatalf("expected /api/tasks in openapi paths")
	}
}
