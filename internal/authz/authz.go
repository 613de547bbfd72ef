// Package authz decides who may assign work to whom. Evaluation is pure:
// no caching, no retries, no side effects beyond directory reads.
package authz

import (
	"context"
	"errors"
	"fmt"

	"peopledesk/internal/directory"
	"peopledesk/internal/domain"
)

// Allow reasons.
const (
	ReasonSelfAssignment        = "self_assignment"
	ReasonAdminOrHRPrivileges   = "admin_or_hr_privileges"
	ReasonManagerToDirectReport = "manager_to_direct_report"
	ReasonSameDepartmentPeer    = "same_department_peer"
	ReasonSameDepartmentColleague = "same_department_colleague"
)

// Denial reasons.
const (
	DenyInvalidIDs        = "invalid employee ids"
	DenyAssigneeNotFound  = "assignee not found"
	DenyManagerToElevated = "managers cannot assign to HR or Admin"
	DenyManagerScope      = "manager can only assign to direct reports or same department"
	DenyEmployeeToElevated = "employees cannot assign to HR or Admin"
	DenyEmployeeScope     = "employees can only assign to same department colleagues"
)

// Verdict is the outcome of one evaluation. Callers branch on Allowed; a
// denial is a terminal, non-retryable outcome, not an error used for
// control flow.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allowed(reason string) Verdict { return Verdict{Allowed: true, Reason: reason} }
func denied(reason string) Verdict  { return Verdict{Allowed: false, Reason: reason} }

// PermissionError carries the specific denial reason for one failing
// assignee. Any single denial aborts a multi-assignee operation.
type PermissionError struct {
	AssigneeID string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("assignment to %s denied: %s", e.AssigneeID, e.Reason)
}

// Evaluator applies the assignment authorization rules against the
// directory. Safe for concurrent use.
type Evaluator struct {
	Dir directory.Lookup
}

// Evaluate decides whether actor may assign a task to the target employee.
// Rules are checked in a fixed precedence order; the first match wins:
//
//  1. self-assignment, unconditional
//  2. hr/admin may assign to anyone
//  3. manager guard: never to hr/admin, then direct report, then same department
//  4. everyone else: never to hr/admin, then same department
//
// The returned error is for directory infrastructure failures only; a
// missing employee surfaces as a denial.
func (ev Evaluator) Evaluate(ctx context.Context, actor domain.ActorContext, targetID string) (Verdict, error) {
	if actor.EmployeeID == "" || targetID == "" {
		return denied(DenyInvalidIDs), nil
	}
	if actor.EmployeeID == targetID {
		return allowed(ReasonSelfAssignment), nil
	}
	target, err := ev.Dir.GetEmployee(ctx, targetID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return denied(DenyAssigneeNotFound), nil
		}
		return Verdict{}, err
	}
	if actor.Role.Elevated() {
		return allowed(ReasonAdminOrHRPrivileges), nil
	}

	self, err := ev.Dir.GetEmployee(ctx, actor.EmployeeID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return denied(DenyInvalidIDs), nil
		}
		return Verdict{}, err
	}

	if actor.Role == domain.RoleManager {
		if target.Role.Elevated() {
			return denied(DenyManagerToElevated), nil
		}
		if target.ReportingManager != nil && *target.ReportingManager == actor.EmployeeID {
			return allowed(ReasonManagerToDirectReport), nil
		}
		if target.DepartmentID == self.DepartmentID {
			return allowed(ReasonSameDepartmentPeer), nil
		}
		return denied(DenyManagerScope), nil
	}

	if target.Role.Elevated() {
		return denied(DenyEmployeeToElevated), nil
	}
	if target.DepartmentID == self.DepartmentID {
		return allowed(ReasonSameDepartmentColleague), nil
	}
	return denied(DenyEmployeeScope), nil
}

// EvaluateAll runs Evaluate for every target and returns a PermissionError
// for the first denial. All assignees valid, or none are added.
func (ev Evaluator) EvaluateAll(ctx context.Context, actor domain.ActorContext, targetIDs []string) error {
	for _, id := range targetIDs {
		v, err := ev.Evaluate(ctx, actor, id)
		if err != nil {
			return err
		}
		if !v.Allowed {
			return &PermissionError{AssigneeID: id, Reason: v.Reason}
		}
	}
	return nil
}
