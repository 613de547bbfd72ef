package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"peopledesk/internal/authz"
	"peopledesk/internal/config"
	"peopledesk/internal/db"
	"peopledesk/internal/domain"
	"peopledesk/internal/engine"
	"peopledesk/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Now = now
	eng.Dir.Now = now
	eng.Audit.Now = now
	ctx := context.Background()
	seedDirectory(t, ctx, eng)
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedDirectory(t *testing.T, ctx context.Context, eng *engine.Engine) {
	t.Helper()
	for _, d := range []domain.Department{
		{ID: "eng", Name: "Engineering"},
		{ID: "sales", Name: "Sales"},
		{ID: "people", Name: "People Ops"},
	} {
		if _, err := eng.Dir.AddDepartment(ctx, d); err != nil {
			t.Fatalf("seed department %s: %v", d.ID, err)
		}
	}
	mgr := "mgr-eng"
	for _, e := range []domain.Employee{
		{ID: "mgr-eng", Name: "Engineering Manager", Role: domain.RoleManager, DepartmentID: "eng"},
		{ID: "dev-1", Name: "Dev One", Role: domain.RoleEmployee, DepartmentID: "eng", ReportingManager: &mgr},
		{ID: "dev-2", Name: "Dev Two", Role: domain.RoleEmployee, DepartmentID: "eng"},
		{ID: "sales-1", Name: "Seller", Role: domain.RoleEmployee, DepartmentID: "sales"},
		{ID: "hr-1", Name: "HR Lead", Role: domain.RoleHR, DepartmentID: "people"},
	} {
		if _, err := eng.Dir.AddEmployee(ctx, e); err != nil {
			t.Fatalf("seed employee %s: %v", e.ID, err)
		}
	}
}

func actor(id string, role domain.Role) domain.ActorContext {
	return domain.ActorContext{EmployeeID: id, Role: role}
}

func createTask(t *testing.T, env testEnv, a domain.ActorContext, assignees ...string) domain.Task {
	t.Helper()
	specs := make([]engine.AssigneeSpec, len(assignees))
	for i, id := range assignees {
		specs[i] = engine.AssigneeSpec{EmployeeID: id}
	}
	task, err := env.Engine.CreateTask(env.Ctx, a, engine.TaskCreateOptions{
		Title:     "Quarterly compliance review",
		DueDate:   "2026-02-01",
		Assignees: specs,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func countAudit(t *testing.T, env testEnv, taskID string) int {
	t.Helper()
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM task_audit WHERE task_id=?`, taskID).Scan(&n); err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func TestCreateTaskAssignsAndAudits(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	task := createTask(t, env, mgr, "dev-1")

	if task.Status != domain.StatusAssigned {
		t.Fatalf("status = %s", task.Status)
	}
	if task.Number != "TSK-0001" {
		t.Fatalf("number = %s", task.Number)
	}
	if task.AssignmentType != domain.ManagerAssigned {
		t.Fatalf("assignment type = %s", task.AssignmentType)
	}
	if len(task.Assignments) != 1 || task.Assignments[0].Status != domain.AssignmentPending {
		t.Fatalf("assignments = %+v", task.Assignments)
	}
	if task.Assignments[0].Role != domain.AssignmentOwner {
		t.Fatalf("first assignee should default to owner, got %s", task.Assignments[0].Role)
	}
	entries, err := env.Engine.AuditTrail(env.Ctx, task.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != domain.AuditAssigned || entries[0].Reason != "Initial task creation" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestCreateTaskAtomicOnDeniedAssignee(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	_, err := env.Engine.CreateTask(env.Ctx, dev, engine.TaskCreateOptions{
		Title:   "split work",
		DueDate: "2026-02-01",
		Assignees: []engine.AssigneeSpec{
			{EmployeeID: "dev-2"},
			{EmployeeID: "sales-1"},
		},
	})
	var pe *authz.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	var tasks, assignments, audits int
	env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM tasks`).Scan(&tasks)
	env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM assignments`).Scan(&assignments)
	env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM task_audit`).Scan(&audits)
	if tasks != 0 || assignments != 0 || audits != 0 {
		t.Fatalf("expected zero rows, got tasks=%d assignments=%d audits=%d", tasks, assignments, audits)
	}
}

func TestManagerMixedSetClassifiesPeerAssigned(t *testing.T) {
	// direct report plus same-department peer: the report subset does not
	// cover the full set, so the tag falls through to peer_assigned.
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	task := createTask(t, env, mgr, "dev-1", "dev-2")
	if task.AssignmentType != domain.PeerAssigned {
		t.Fatalf("assignment type = %s, want peer_assigned", task.AssignmentType)
	}
}

func TestAcceptIsNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")

	task, err := env.Engine.Accept(env.Ctx, dev, task.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	a, _ := task.AssignmentFor("dev-1")
	if a.Status != domain.AssignmentAccepted {
		t.Fatalf("assignment status = %s", a.Status)
	}
	before := countAudit(t, env, task.ID)

	_, err = env.Engine.Accept(env.Ctx, dev, task.ID)
	var ise *engine.IllegalStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected IllegalStateError, got %v", err)
	}
	if countAudit(t, env, task.ID) != before {
		t.Fatalf("second accept appended an audit row")
	}
}

func TestLifecycleToCompletion(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")

	if _, err := env.Engine.Accept(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 40, domain.StatusInProgress)
	if err != nil || task.Status != domain.StatusInProgress || task.Progress != 40 {
		t.Fatalf("start progress: %v status=%s progress=%d", err, task.Status, task.Progress)
	}
	task, err = env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 100, domain.StatusReview)
	if err != nil || task.Status != domain.StatusReview || task.Progress != 100 {
		t.Fatalf("submit: %v status=%s progress=%d", err, task.Status, task.Progress)
	}
	task, err = env.Engine.Approve(env.Ctx, mgr, task.ID, "looks complete")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Progress != 100 || task.CompletedAt == nil {
		t.Fatalf("completed invariant broken: %+v", task)
	}
}

func TestProgressHundredRequiresReview(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")
	if _, err := env.Engine.Accept(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 100, domain.StatusInProgress)
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRevisionRequiresAuthorizationOverOwner(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")
	env.Engine.Accept(env.Ctx, dev, task.ID)
	env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 50, domain.StatusInProgress)
	env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 100, domain.StatusReview)

	outsider := actor("sales-1", domain.RoleEmployee)
	_, err := env.Engine.RequestRevision(env.Ctx, outsider, task.ID, "not yours to review")
	var pe *authz.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.StatusReview {
		t.Fatalf("task left review: %s", got.Status)
	}

	task, err = env.Engine.RequestRevision(env.Ctx, mgr, task.ID, "needs numbers")
	if err != nil {
		t.Fatalf("revision by manager: %v", err)
	}
	if task.Status != domain.StatusInProgress || task.Progress >= 100 {
		t.Fatalf("after revision: status=%s progress=%d", task.Status, task.Progress)
	}
}

func TestCancelCompletedIsIllegal(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")
	env.Engine.Accept(env.Ctx, dev, task.ID)
	env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 50, domain.StatusInProgress)
	env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 100, domain.StatusReview)
	if _, err := env.Engine.Approve(env.Ctx, mgr, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Cancel(env.Ctx, mgr, task.ID, "too late")
	var ise *engine.IllegalStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected IllegalStateError, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status changed to %s", got.Status)
	}
}

func TestHoldAndResumeRestorePriorStatus(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, mgr, "dev-1")
	env.Engine.Accept(env.Ctx, dev, task.ID)
	task, err := env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 30, domain.StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.Hold(env.Ctx, mgr, task.ID, "budget freeze")
	if err != nil || task.Status != domain.StatusOnHold {
		t.Fatalf("hold: %v status=%s", err, task.Status)
	}
	if task.HeldFrom == nil || *task.HeldFrom != domain.StatusInProgress {
		t.Fatalf("held_from = %v", task.HeldFrom)
	}
	task, err = env.Engine.Resume(env.Ctx, mgr, task.ID)
	if err != nil || task.Status != domain.StatusInProgress || task.HeldFrom != nil {
		t.Fatalf("resume: %v status=%s held_from=%v", err, task.Status, task.HeldFrom)
	}
}

func TestDelegateAppendsAndMarksDelegated(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, dev, "dev-1")
	if _, err := env.Engine.Accept(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.Delegate(env.Ctx, dev, task.ID, []engine.AssigneeSpec{{EmployeeID: "dev-2"}})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if len(task.Assignments) != 2 {
		t.Fatalf("assignments = %d", len(task.Assignments))
	}
	orig, _ := task.AssignmentFor("dev-1")
	if orig.Status != domain.AssignmentDelegated {
		t.Fatalf("delegating entry = %s", orig.Status)
	}
	added, _ := task.AssignmentFor("dev-2")
	if added.Status != domain.AssignmentPending {
		t.Fatalf("new entry = %s", added.Status)
	}
}

func TestReassignReplacesSet(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	task := createTask(t, env, mgr, "dev-1")
	task, err := env.Engine.Reassign(env.Ctx, mgr, task.ID, []engine.AssigneeSpec{{EmployeeID: "dev-2"}})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(task.Assignments) != 1 || task.Assignments[0].EmployeeID != "dev-2" {
		t.Fatalf("assignments = %+v", task.Assignments)
	}
	if task.AssignmentType != domain.PeerAssigned {
		t.Fatalf("assignment type = %s", task.AssignmentType)
	}
}

func TestViewDowngradeForEmployee(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev2 := actor("dev-2", domain.RoleEmployee)
	mine := createTask(t, env, dev2, "dev-2")
	createTask(t, env, mgr, "dev-1")

	page, err := env.Engine.ListTasks(env.Ctx, dev2, domain.ViewOrganization, engine.ListFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != mine.ID {
		t.Fatalf("expected only own task, got %d items", len(page.Items))
	}
}

func TestTeamViewIncludesReports(t *testing.T) {
	env := newTestEnv(t)
	mgr := actor("mgr-eng", domain.RoleManager)
	dev1 := actor("dev-1", domain.RoleEmployee)
	dev2 := actor("dev-2", domain.RoleEmployee)
	createTask(t, env, dev1, "dev-1")
	createTask(t, env, dev2, "dev-2")

	page, err := env.Engine.ListTasks(env.Ctx, mgr, domain.ViewTeam, engine.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	// dev-1 reports to mgr-eng; dev-2 does not.
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 team task, got %d", len(page.Items))
	}
	if page.Stats.Total != 1 {
		t.Fatalf("stats total = %d", page.Stats.Total)
	}
}

func TestListStats(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	a := createTask(t, env, dev, "dev-1")
	env.Engine.Accept(env.Ctx, dev, a.ID)
	env.Engine.UpdateProgress(env.Ctx, dev, a.ID, 50, domain.StatusInProgress)

	page, err := env.Engine.ListTasks(env.Ctx, dev, domain.ViewPersonal, engine.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Stats.Total != 1 || page.Stats.Completed != 0 {
		t.Fatalf("stats = %+v", page.Stats)
	}
	if page.Stats.AvgProgress != 50 {
		t.Fatalf("avg progress = %f", page.Stats.AvgProgress)
	}
}

func TestSearchMatchesTaskNumber(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	first := createTask(t, env, dev, "dev-1")
	second, err := env.Engine.CreateTask(env.Ctx, dev, engine.TaskCreateOptions{
		Title:     "Benefits enrollment",
		DueDate:   "2026-02-01",
		Assignees: []engine.AssigneeSpec{{EmployeeID: "dev-1"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	page, err := env.Engine.ListTasks(env.Ctx, dev, domain.ViewPersonal, engine.ListFilters{Search: "TSK-0002"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != second.ID {
		t.Fatalf("search by number = %+v, want only %s", page.Items, second.Number)
	}

	// Title search still works alongside number search.
	page, err = env.Engine.ListTasks(env.Ctx, dev, domain.ViewPersonal, engine.ListFilters{Search: "compliance"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("search by title = %+v, want only %s", page.Items, first.Number)
	}
}

func TestResolveTaskByNumber(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	task := createTask(t, env, dev, "dev-1")
	got, err := env.Engine.ResolveTask(env.Ctx, "TSK-0001")
	if err != nil || got.ID != task.ID {
		t.Fatalf("resolve: %v", err)
	}
}

func TestSubtaskLink(t *testing.T) {
	env := newTestEnv(t)
	dev := actor("dev-1", domain.RoleEmployee)
	parent := createTask(t, env, dev, "dev-1")
	child, err := env.Engine.CreateTask(env.Ctx, dev, engine.TaskCreateOptions{
		Title:     "sub-step",
		DueDate:   "2026-02-01",
		Assignees: []engine.AssigneeSpec{{EmployeeID: "dev-1"}},
		ParentID:  parent.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, parent.ID)
	if len(got.Subtasks) != 1 || got.Subtasks[0] != child.ID {
		t.Fatalf("subtasks = %v", got.Subtasks)
	}
}
