package authz_test

import (
	"context"
	"testing"

	"peopledesk/internal/authz"
	"peopledesk/internal/directory"
	"peopledesk/internal/domain"
)

type fakeDir map[string]domain.Employee

func (d fakeDir) GetEmployee(_ context.Context, id string) (domain.Employee, error) {
	e, ok := d[id]
	if !ok {
		return domain.Employee{}, directory.ErrNotFound
	}
	return e, nil
}

func (d fakeDir) DirectReports(_ context.Context, managerID string) ([]string, error) {
	var ids []string
	for id, e := range d {
		if e.ReportingManager != nil && *e.ReportingManager == managerID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func strPtr(s string) *string { return &s }

func testDir() fakeDir {
	return fakeDir{
		"mgr-eng":  {ID: "mgr-eng", Role: domain.RoleManager, DepartmentID: "eng"},
		"dev-1":    {ID: "dev-1", Role: domain.RoleEmployee, DepartmentID: "eng", ReportingManager: strPtr("mgr-eng")},
		"dev-2":    {ID: "dev-2", Role: domain.RoleEmployee, DepartmentID: "eng"},
		"sales-1":  {ID: "sales-1", Role: domain.RoleEmployee, DepartmentID: "sales"},
		"hr-1":     {ID: "hr-1", Role: domain.RoleHR, DepartmentID: "people", ReportingManager: strPtr("mgr-eng")},
		"admin-1":  {ID: "admin-1", Role: domain.RoleAdmin, DepartmentID: "it"},
		"mgr-sale": {ID: "mgr-sale", Role: domain.RoleManager, DepartmentID: "sales"},
	}
}

func TestSelfAssignmentAlwaysAllowed(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	ctx := context.Background()
	for _, role := range []domain.Role{domain.RoleEmployee, domain.RoleManager, domain.RoleHR, domain.RoleAdmin} {
		v, err := ev.Evaluate(ctx, domain.ActorContext{EmployeeID: "dev-1", Role: role}, "dev-1")
		if err != nil {
			t.Fatalf("role %s: %v", role, err)
		}
		if !v.Allowed || v.Reason != authz.ReasonSelfAssignment {
			t.Fatalf("role %s: expected self_assignment allow, got %+v", role, v)
		}
	}
}

func TestElevatedRolesAssignAnyone(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	ctx := context.Background()
	for _, tc := range []struct{ actor, target string }{
		{"hr-1", "sales-1"},
		{"hr-1", "admin-1"},
		{"admin-1", "hr-1"},
		{"admin-1", "dev-2"},
	} {
		role := domain.RoleHR
		if tc.actor == "admin-1" {
			role = domain.RoleAdmin
		}
		v, err := ev.Evaluate(ctx, domain.ActorContext{EmployeeID: tc.actor, Role: role}, tc.target)
		if err != nil {
			t.Fatal(err)
		}
		if !v.Allowed || v.Reason != authz.ReasonAdminOrHRPrivileges {
			t.Fatalf("%s -> %s: got %+v", tc.actor, tc.target, v)
		}
	}
}

func TestManagerCannotAssignToElevatedEvenDirectReport(t *testing.T) {
	// hr-1 reports to mgr-eng, but the elevated-target guard wins.
	ev := authz.Evaluator{Dir: testDir()}
	v, err := ev.Evaluate(context.Background(), domain.ActorContext{EmployeeID: "mgr-eng", Role: domain.RoleManager}, "hr-1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Allowed || v.Reason != authz.DenyManagerToElevated {
		t.Fatalf("expected elevated-target denial, got %+v", v)
	}
}

func TestManagerDirectReportAndPeer(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	ctx := context.Background()
	actor := domain.ActorContext{EmployeeID: "mgr-eng", Role: domain.RoleManager}

	v, _ := ev.Evaluate(ctx, actor, "dev-1")
	if !v.Allowed || v.Reason != authz.ReasonManagerToDirectReport {
		t.Fatalf("direct report: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, actor, "dev-2")
	if !v.Allowed || v.Reason != authz.ReasonSameDepartmentPeer {
		t.Fatalf("same dept peer: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, actor, "sales-1")
	if v.Allowed || v.Reason != authz.DenyManagerScope {
		t.Fatalf("cross dept: got %+v", v)
	}
}

func TestEmployeeGuards(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	ctx := context.Background()
	actor := domain.ActorContext{EmployeeID: "dev-1", Role: domain.RoleEmployee}

	v, _ := ev.Evaluate(ctx, actor, "dev-2")
	if !v.Allowed || v.Reason != authz.ReasonSameDepartmentColleague {
		t.Fatalf("colleague: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, actor, "sales-1")
	if v.Allowed || v.Reason != authz.DenyEmployeeScope {
		t.Fatalf("cross dept: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, actor, "hr-1")
	if v.Allowed || v.Reason != authz.DenyEmployeeToElevated {
		t.Fatalf("to hr: got %+v", v)
	}
}

func TestInvalidAndUnknownIDs(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	ctx := context.Background()

	v, _ := ev.Evaluate(ctx, domain.ActorContext{EmployeeID: "", Role: domain.RoleAdmin}, "dev-1")
	if v.Allowed || v.Reason != authz.DenyInvalidIDs {
		t.Fatalf("empty actor: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, domain.ActorContext{EmployeeID: "dev-1", Role: domain.RoleEmployee}, "")
	if v.Allowed || v.Reason != authz.DenyInvalidIDs {
		t.Fatalf("empty target: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, domain.ActorContext{EmployeeID: "dev-1", Role: domain.RoleEmployee}, "ghost")
	if v.Allowed || v.Reason != authz.DenyAssigneeNotFound {
		t.Fatalf("unknown target: got %+v", v)
	}
	v, _ = ev.Evaluate(ctx, domain.ActorContext{EmployeeID: "ghost", Role: domain.RoleEmployee}, "dev-1")
	if v.Allowed || v.Reason != authz.DenyInvalidIDs {
		t.Fatalf("unknown actor: got %+v", v)
	}
}

func TestEvaluateAllAbortsOnFirstDenial(t *testing.T) {
	ev := authz.Evaluator{Dir: testDir()}
	actor := domain.ActorContext{EmployeeID: "dev-1", Role: domain.RoleEmployee}
	err := ev.EvaluateAll(context.Background(), actor, []string{"dev-2", "sales-1"})
	var pe *authz.PermissionError
	if err == nil {
		t.Fatal("expected permission error")
	}
	if !errorsAs(err, &pe) {
		t.Fatalf("expected PermissionError, got %T", err)
	}
	if pe.AssigneeID != "sales-1" || pe.Reason != authz.DenyEmployeeScope {
		t.Fatalf("unexpected denial: %+v", pe)
	}
}

func errorsAs(err error, target any) bool {
	pe, ok := target.(**authz.PermissionError)
	if !ok {
		return false
	}
	p, ok := err.(*authz.PermissionError)
	if !ok {
		return false
	}
	*pe = p
	return true
}
