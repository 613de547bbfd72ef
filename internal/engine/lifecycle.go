package engine

import (
	"context"
	"fmt"
	"time"

	"peopledesk/internal/authz"
	"peopledesk/internal/domain"
)

// Accept marks the actor's own pending assignment accepted.
func (e *Engine) Accept(ctx context.Context, actor domain.ActorContext, taskID string) (domain.Task, error) {
	return e.setAssignmentStatus(ctx, actor, taskID, domain.AssignmentAccepted, domain.AuditAccepted, "")
}

// Reject marks the actor's own pending assignment rejected.
func (e *Engine) Reject(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
	return e.setAssignmentStatus(ctx, actor, taskID, domain.AssignmentRejected, domain.AuditRejected, reason)
}

func (e *Engine) setAssignmentStatus(ctx context.Context, actor domain.ActorContext, taskID string, to domain.AssignmentStatus, action domain.AuditAction, reason string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return t, illegalf(fmt.Sprintf("task %s is %s", t.Number, t.Status))
	}
	a, ok := t.AssignmentFor(actor.EmployeeID)
	if !ok {
		return t, illegalf(fmt.Sprintf("%s is not assigned to task %s", actor.EmployeeID, t.Number))
	}
	if a.Status != domain.AssignmentPending {
		return t, illegalf(fmt.Sprintf("assignment for %s is %s, not pending", actor.EmployeeID, a.Status))
	}
	if err := e.Repo.UpdateAssignmentStatus(ctx, tx, t.ID, actor.EmployeeID, to); err != nil {
		return t, err
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, action, actor.EmployeeID, actor.EmployeeID, reason); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// UpdateProgress covers starting work (assigned to in_progress), in-place
// progress updates while in_progress, and submitting for review. The actor
// must hold an accepted assignment. Progress 100 is only reachable through
// review.
func (e *Engine) UpdateProgress(ctx context.Context, actor domain.ActorContext, taskID string, progress int, target domain.TaskStatus) (domain.Task, error) {
	if progress < 0 || progress > 100 {
		return domain.Task{}, validationf("progress must be between 0 and 100")
	}
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	a, ok := t.AssignmentFor(actor.EmployeeID)
	if !ok || a.Status != domain.AssignmentAccepted {
		return t, illegalf(fmt.Sprintf("%s has no accepted assignment on task %s", actor.EmployeeID, t.Number))
	}

	action := domain.AuditProgressUpdated
	switch target {
	case "", domain.StatusInProgress:
		switch t.Status {
		case domain.StatusAssigned, domain.StatusInProgress:
		default:
			return t, illegalf(fmt.Sprintf("cannot move task %s from %s to in_progress", t.Number, t.Status))
		}
		if progress == 100 {
			return t, validationf("progress 100 requires submitting for review")
		}
		t.Status = domain.StatusInProgress
		t.Progress = progress
	case domain.StatusReview:
		if t.Status != domain.StatusInProgress {
			return t, illegalf(fmt.Sprintf("cannot submit task %s for review from %s", t.Number, t.Status))
		}
		t.Status = domain.StatusReview
		t.Progress = 100
		action = domain.AuditSubmitted
	default:
		return t, illegalf(fmt.Sprintf("progress updates cannot target status %s", target))
	}

	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, action, actor.EmployeeID, actor.EmployeeID, fmt.Sprintf("progress %d%%", t.Progress)); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// Approve completes a task under review. The actor must pass the evaluator
// against the task's owner assignee.
func (e *Engine) Approve(ctx context.Context, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusReview {
		return t, illegalf(fmt.Sprintf("task %s is %s, not review", t.Number, t.Status))
	}
	owner, err := e.authorizeOverOwner(ctx, actor, t)
	if err != nil {
		return t, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t.Status = domain.StatusCompleted
	t.Progress = 100
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditApproved, owner.EmployeeID, actor.EmployeeID, note); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// RequestRevision sends a task under review back to in_progress. Progress
// drops below 100 so the reopened task cannot sit at full progress.
func (e *Engine) RequestRevision(ctx context.Context, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusReview {
		return t, illegalf(fmt.Sprintf("task %s is %s, not review", t.Number, t.Status))
	}
	owner, err := e.authorizeOverOwner(ctx, actor, t)
	if err != nil {
		return t, err
	}
	t.Status = domain.StatusInProgress
	if t.Progress >= 100 {
		t.Progress = 90
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditRevisionRequested, owner.EmployeeID, actor.EmployeeID, note); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e *Engine) authorizeOverOwner(ctx context.Context, actor domain.ActorContext, t domain.Task) (domain.Assignment, error) {
	owner, ok := t.Owner()
	if !ok {
		return owner, fmt.Errorf("task %s has no assignments", t.ID)
	}
	v, err := e.Authz.Evaluate(ctx, actor, owner.EmployeeID)
	if err != nil {
		return owner, err
	}
	if !v.Allowed {
		return owner, &authz.PermissionError{AssigneeID: owner.EmployeeID, Reason: v.Reason}
	}
	return owner, nil
}

// Reassign replaces the assignment set. Every new assignee must pass the
// evaluator with the caller as actor or nothing changes.
func (e *Engine) Reassign(ctx context.Context, actor domain.ActorContext, taskID string, assignees []AssigneeSpec) (domain.Task, error) {
	if len(assignees) == 0 {
		return domain.Task{}, validationf("at least one assignee is required")
	}
	specs, err := normalizeAssignees(assignees, nil)
	if err != nil {
		return domain.Task{}, err
	}
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return t, illegalf(fmt.Sprintf("task %s is %s", t.Number, t.Status))
	}
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.EmployeeID
	}
	if err := e.Authz.EvaluateAll(ctx, actor, ids); err != nil {
		return t, err
	}
	assignmentType, err := e.Authz.Classify(ctx, actor.EmployeeID, ids)
	if err != nil {
		return t, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	for _, old := range t.Assignments {
		if err := e.Repo.DeleteAssignment(ctx, tx, t.ID, old.EmployeeID); err != nil {
			return t, err
		}
	}
	for _, s := range specs {
		a := domain.Assignment{TaskID: t.ID, EmployeeID: s.EmployeeID, Role: s.Role, Status: domain.AssignmentPending, AssignedAt: now}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return t, err
		}
	}
	t.AssignmentType = assignmentType
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditReassigned, specs[0].EmployeeID, actor.EmployeeID, ""); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// Delegate appends new assignees and marks the delegating actor's accepted
// entry delegated. Existing entries are never removed.
func (e *Engine) Delegate(ctx context.Context, actor domain.ActorContext, taskID string, assignees []AssigneeSpec) (domain.Task, error) {
	if len(assignees) == 0 {
		return domain.Task{}, validationf("at least one assignee is required")
	}
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return t, illegalf(fmt.Sprintf("task %s is %s", t.Number, t.Status))
	}
	taken := map[string]bool{}
	for _, a := range t.Assignments {
		taken[a.EmployeeID] = true
	}
	specs, err := normalizeAssignees(assignees, taken)
	if err != nil {
		return t, err
	}
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.EmployeeID
	}
	if err := e.Authz.EvaluateAll(ctx, actor, ids); err != nil {
		return t, err
	}
	all := ids
	for _, a := range t.Assignments {
		all = append(all, a.EmployeeID)
	}
	assignmentType, err := e.Authz.Classify(ctx, actor.EmployeeID, all)
	if err != nil {
		return t, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	if a, ok := t.AssignmentFor(actor.EmployeeID); ok && a.Status == domain.AssignmentAccepted {
		if err := e.Repo.UpdateAssignmentStatus(ctx, tx, t.ID, actor.EmployeeID, domain.AssignmentDelegated); err != nil {
			return t, err
		}
	}
	for _, s := range specs {
		a := domain.Assignment{TaskID: t.ID, EmployeeID: s.EmployeeID, Role: s.Role, Status: domain.AssignmentPending, AssignedAt: now}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return t, err
		}
	}
	t.AssignmentType = assignmentType
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditDelegated, specs[0].EmployeeID, actor.EmployeeID, ""); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// Cancel terminates a task from any non-terminal state.
func (e *Engine) Cancel(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return t, illegalf(fmt.Sprintf("task %s is %s", t.Number, t.Status))
	}
	if err := e.canAdminister(ctx, actor, t); err != nil {
		return t, err
	}
	t.Status = domain.StatusCancelled
	t.HeldFrom = nil
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditCancelled, "", actor.EmployeeID, reason); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// Hold parks a task from assigned or in_progress, remembering where it was.
func (e *Engine) Hold(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusAssigned && t.Status != domain.StatusInProgress {
		return t, illegalf(fmt.Sprintf("cannot hold task %s from %s", t.Number, t.Status))
	}
	if err := e.canAdminister(ctx, actor, t); err != nil {
		return t, err
	}
	prior := t.Status
	t.Status = domain.StatusOnHold
	t.HeldFrom = &prior
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditOnHold, "", actor.EmployeeID, reason); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// Resume returns an on-hold task to the state it was held from.
func (e *Engine) Resume(ctx context.Context, actor domain.ActorContext, taskID string) (domain.Task, error) {
	unlock := e.lockTask(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusOnHold {
		return t, illegalf(fmt.Sprintf("task %s is %s, not on_hold", t.Number, t.Status))
	}
	if err := e.canAdminister(ctx, actor, t); err != nil {
		return t, err
	}
	back := domain.StatusAssigned
	if t.HeldFrom != nil {
		back = *t.HeldFrom
	}
	t.Status = back
	t.HeldFrom = nil
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditResumed, "", actor.EmployeeID, ""); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}
