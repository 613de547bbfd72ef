package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"peopledesk/internal/audit"
	"peopledesk/internal/authz"
	"peopledesk/internal/config"
	"peopledesk/internal/directory"
	"peopledesk/internal/domain"
	"peopledesk/internal/repo"
)

// Engine owns all task mutations. Every state change and its audit row are
// committed in one transaction; mutations on the same task id are serialized
// through a per-task lock table.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Dir    directory.Store
	Authz  authz.Evaluator
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	dir := directory.Store{DB: db}
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Dir:    dir,
		Authz:  authz.Evaluator{Dir: dir},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockTask serializes mutating operations per task id. Listing reads never
// take this lock.
func (e *Engine) lockTask(id string) func() {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = map[string]*sync.Mutex{}
	}
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// AssigneeSpec names one intended assignee at creation or reassignment time.
type AssigneeSpec struct {
	EmployeeID string
	Role       domain.AssignmentRole
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title          string
	Description    string
	Category       domain.Category
	Priority       domain.Priority
	DueDate        string
	EstimatedHours float64
	Assignees      []AssigneeSpec
	ParentID       string
}

func (e *Engine) CreateTask(ctx context.Context, actor domain.ActorContext, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, validationf("title is required")
	}
	due, err := normalizeDueDate(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	if len(opts.Assignees) == 0 {
		return domain.Task{}, validationf("at least one assignee is required")
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.Defaults.Priority
	}
	if opts.Category == "" {
		opts.Category = e.Config.Defaults.Category
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, validationf("unknown priority " + string(opts.Priority))
	}
	if !domain.ValidCategory(opts.Category) {
		return domain.Task{}, validationf("unknown category " + string(opts.Category))
	}
	specs, err := normalizeAssignees(opts.Assignees, nil)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.ParentID != "" {
		if _, err := e.Repo.GetTask(ctx, opts.ParentID); err != nil {
			return domain.Task{}, err
		}
	}

	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.EmployeeID
	}
	if err := e.Authz.EvaluateAll(ctx, actor, ids); err != nil {
		return domain.Task{}, err
	}
	assignmentType, err := e.Authz.Classify(ctx, actor.EmployeeID, ids)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(opts.Title),
		Description:    opts.Description,
		Category:       opts.Category,
		Priority:       opts.Priority,
		DueDate:        due,
		EstimatedHours: opts.EstimatedHours,
		Progress:       0,
		Status:         domain.StatusAssigned,
		AssignedBy:     actor.EmployeeID,
		AssignmentType: assignmentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ParentID != "" {
		t.ParentID = &opts.ParentID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if t.Seq, err = e.Repo.NextSeq(ctx, tx); err != nil {
		return domain.Task{}, err
	}
	t.Number = domain.TaskNumber(t.Seq)
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	for _, s := range specs {
		a := domain.Assignment{
			TaskID:     t.ID,
			EmployeeID: s.EmployeeID,
			Role:       s.Role,
			Status:     domain.AssignmentPending,
			AssignedAt: now,
		}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, t.ID, domain.AuditAssigned, specs[0].EmployeeID, actor.EmployeeID, "Initial task creation"); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// normalizeAssignees validates specs, defaults the first entry to the owner
// role, and rejects duplicates against the specs themselves plus any
// already-assigned ids.
func normalizeAssignees(specs []AssigneeSpec, taken map[string]bool) ([]AssigneeSpec, error) {
	seen := map[string]bool{}
	for k := range taken {
		seen[k] = true
	}
	out := make([]AssigneeSpec, 0, len(specs))
	for i, s := range specs {
		s.EmployeeID = strings.TrimSpace(s.EmployeeID)
		if s.EmployeeID == "" {
			return nil, validationf("assignee employee id is required")
		}
		if seen[s.EmployeeID] {
			return nil, validationf("duplicate assignee " + s.EmployeeID)
		}
		seen[s.EmployeeID] = true
		if s.Role == "" {
			if i == 0 && len(taken) == 0 {
				s.Role = domain.AssignmentOwner
			} else {
				s.Role = domain.AssignmentCollaborator
			}
		}
		if !domain.ValidAssignmentRole(s.Role) {
			return nil, validationf("unknown assignment role " + string(s.Role))
		}
		out = append(out, s)
	}
	return out, nil
}

// normalizeDueDate accepts RFC 3339 or a bare date and stores RFC 3339.
func normalizeDueDate(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", validationf("due date is required")
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UTC().Format(time.RFC3339), nil
	}
	if d, err := time.Parse("2006-01-02", v); err == nil {
		return d.UTC().Format(time.RFC3339), nil
	}
	return "", validationf("due date must be RFC 3339 or YYYY-MM-DD")
}

func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// ResolveTask accepts either a task id or a human-facing number like TSK-0007.
func (e *Engine) ResolveTask(ctx context.Context, ref string) (domain.Task, error) {
	if seq, ok := parseTaskNumber(ref); ok {
		return e.Repo.GetTaskBySeq(ctx, seq)
	}
	return e.Repo.GetTask(ctx, ref)
}

func parseTaskNumber(ref string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(ref)), "TSK-")
	if !ok {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

// AuditTrail returns a task's audit entries in chronological order.
func (e *Engine) AuditTrail(ctx context.Context, taskID string, limit int, cursorID int64) ([]domain.AuditEntry, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListAudit(ctx, taskID, limit, cursorID)
}

// canAdminister reports whether the actor may perform administrative
// transitions (approve, revision, cancel, hold) on the task: the creator
// always may, anyone else must pass the evaluator against the task's owner
// assignee.
func (e *Engine) canAdminister(ctx context.Context, actor domain.ActorContext, t domain.Task) error {
	if actor.EmployeeID == t.AssignedBy {
		return nil
	}
	owner, ok := t.Owner()
	if !ok {
		return fmt.Errorf("task %s has no assignments", t.ID)
	}
	if owner.EmployeeID == actor.EmployeeID {
		return nil
	}
	v, err := e.Authz.Evaluate(ctx, actor, owner.EmployeeID)
	if err != nil {
		return err
	}
	if !v.Allowed {
		return &authz.PermissionError{AssigneeID: owner.EmployeeID, Reason: v.Reason}
	}
	return nil
}
