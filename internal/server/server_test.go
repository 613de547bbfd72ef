package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"

	"peopledesk/internal/config"
	"peopledesk/internal/db"
	"peopledesk/internal/domain"
	"peopledesk/internal/engine"
	"peopledesk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerWithLogger(t, nil)
}

func newTestServerWithLogger(t *testing.T, logger *log.Logger) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	seedDirectory(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			DevLogin:               true,
			Logger:                 logger,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedDirectory(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []domain.Department{
		{ID: "eng", Name: "Engineering"},
		{ID: "people", Name: "People Ops"},
	} {
		if _, err := e.Dir.AddDepartment(ctx, d); err != nil {
			t.Fatalf("seed department %s: %v", d.ID, err)
		}
	}
	mgr := "mgr-1"
	for _, emp := range []domain.Employee{
		{ID: "hr-1", Name: "Harper", Role: domain.RoleHR, DepartmentID: "people"},
		{ID: "mgr-1", Name: "Morgan", Role: domain.RoleManager, DepartmentID: "eng"},
		{ID: "dev-1", Name: "Devi", Role: domain.RoleEmployee, DepartmentID: "eng", ReportingManager: &mgr},
		{ID: "dev-2", Name: "Dana", Role: domain.RoleEmployee, DepartmentID: "eng"},
	} {
		if _, err := e.Dir.AddEmployee(ctx, emp); err != nil {
			t.Fatalf("seed employee %s: %v", emp.ID, err)
		}
	}
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

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createTaskHTTP(t *testing.T, srv *testServer, actorID string, assignees ...string) TaskResponse {
	t.Helper()
	specs := make([]map[string]any, 0, len(assignees))
	for _, id := range assignees {
		specs = append(specs, map[string]any{"employee_id": id})
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Quarterly compliance review",
		"due_date":  "2030-01-01",
		"assignees": specs,
	}, asActor(actorID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"employee_id": "mgr-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Onboard new hire",
		"due_date":  "2030-01-01",
		"assignees": []map[string]any{{"employee_id": "dev-1"}},
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create via JWT status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Number != "TSK-0001" {
		t.Fatalf("expected TSK-0001, got %s", created.Number)
	}
	if created.AssignmentType != "manager_assigned" {
		t.Fatalf("expected manager_assigned, got %s", created.AssignmentType)
	}
}

func TestPermissionDeniedEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Audit prep",
		"due_date":  "2030-01-01",
		"assignees": []map[string]any{{"employee_id": "hr-1"}},
	}, asActor("dev-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["assignee_id"] != "hr-1" {
		t.Fatalf("expected assignee_id detail, got %v", envelope.Error.Details)
	}
}

func TestUnknownAssigneeDenialLogged(t *testing.T) {
	var buf bytes.Buffer
	srv, cleanup := newTestServerWithLogger(t, log.New(&buf, "", 0))
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Audit prep",
		"due_date":  "2030-01-01",
		"assignees": []map[string]any{{"employee_id": "ghost-1"}},
	}, asActor("mgr-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["reason"] != "assignee not found" {
		t.Fatalf("expected assignee not found reason, got %v", envelope.Error.Details)
	}
	if !strings.Contains(buf.String(), "unknown assignee ghost-1") {
		t.Fatalf("expected a server-side log line for the unknown assignee, got %q", buf.String())
	}
}

func TestViewScopesListing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTaskHTTP(t, srv, "mgr-1", "dev-1")

	// dev-2 asking for the organization view silently gets personal scope.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?view=organization", nil, asActor("dev-2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedTasks
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected dev-2 to see no tasks, got %d", len(page.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, asActor("dev-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != created.ID {
		t.Fatalf("expected dev-1 to see the task, got %+v", page.Items)
	}
	if page.Stats.Total != 1 {
		t.Fatalf("expected stats total 1, got %d", page.Stats.Total)
	}

	// Invisible tasks read as not found, by id and by number.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.Number, nil, asActor("dev-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for dev-2, got %d: %s", res.StatusCode, string(data))
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTaskHTTP(t, srv, "mgr-1", "dev-1")
	ref := srv.URL + "/v0/tasks/" + created.ID

	res, data := doJSON(t, client, http.MethodPost, ref+"/accept", nil, asActor("dev-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, ref+"/progress", map[string]any{"progress": 40}, asActor("dev-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	if task.Status != "in_progress" || task.Progress != 40 {
		t.Fatalf("expected in_progress at 40, got %s at %d", task.Status, task.Progress)
	}

	res, data = doJSON(t, client, http.MethodPost, ref+"/progress", map[string]any{"progress": 100, "target_status": "review"}, asActor("dev-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, ref+"/approve", map[string]any{"note": "looks good"}, asActor("mgr-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "completed" || task.CompletedAt == nil {
		t.Fatalf("expected completed task, got %s", task.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, ref+"/cancel", nil, asActor("mgr-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 cancelling completed task, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "illegal_state" {
		t.Fatalf("expected illegal_state, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, ref+"/audit", nil, asActor("mgr-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var entries []AuditEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	// assigned, accepted, progress, submitted, approved
	if len(entries) != 5 {
		t.Fatalf("expected 5 audit entries, got %d", len(entries))
	}
	if entries[len(entries)-1].Action != "approved" {
		t.Fatalf("expected approved last, got %s", entries[len(entries)-1].Action)
	}
}

func TestDirectoryWritesRequireElevatedRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/departments", map[string]any{
		"id": "sales",
	}, asActor("mgr-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/departments", map[string]any{
		"id": "sales",
	}, asActor("hr-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for hr, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, asActor("mgr-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatal("expected the secret to be returned once")
	}

	created := createTaskHTTP(t, srv, "mgr-1", "dev-1")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID, nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get via api key status %d: %s", res.StatusCode, string(data))
	}
}
