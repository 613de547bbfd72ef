package engine

import (
	"context"
	"strings"
	"time"

	"peopledesk/internal/domain"
	"peopledesk/internal/repo"
)

// EffectiveView resolves the view an actor actually gets. Unauthorized view
// requests silently downgrade to personal so a caller can never over-fetch
// by naming a wider view.
func EffectiveView(role domain.Role, requested domain.View) domain.View {
	switch requested {
	case domain.ViewOrganization:
		if role == domain.RoleAdmin {
			return domain.ViewOrganization
		}
	case domain.ViewDepartment:
		if role.Elevated() {
			return domain.ViewDepartment
		}
	case domain.ViewTeam:
		if role == domain.RoleManager || role.Elevated() {
			return domain.ViewTeam
		}
	}
	return domain.ViewPersonal
}

// BuildScope translates the actor's role and requested view into the task
// visibility predicate the repo applies.
func (e *Engine) BuildScope(ctx context.Context, actor domain.ActorContext, requested domain.View) (repo.TaskScope, error) {
	switch EffectiveView(actor.Role, requested) {
	case domain.ViewOrganization:
		return repo.TaskScope{All: true}, nil
	case domain.ViewDepartment:
		self, err := e.Dir.GetEmployee(ctx, actor.EmployeeID)
		if err != nil {
			return repo.TaskScope{}, err
		}
		members, err := e.Dir.ListEmployees(ctx, self.DepartmentID)
		if err != nil {
			return repo.TaskScope{}, err
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		return repo.TaskScope{EmployeeIDs: ids}, nil
	case domain.ViewTeam:
		reports, err := e.Dir.DirectReports(ctx, actor.EmployeeID)
		if err != nil {
			return repo.TaskScope{}, err
		}
		return repo.TaskScope{EmployeeIDs: append([]string{actor.EmployeeID}, reports...)}, nil
	default:
		return repo.TaskScope{EmployeeIDs: []string{actor.EmployeeID}}, nil
	}
}

func widestView(role domain.Role) domain.View {
	switch role {
	case domain.RoleAdmin:
		return domain.ViewOrganization
	case domain.RoleHR:
		return domain.ViewDepartment
	case domain.RoleManager:
		return domain.ViewTeam
	default:
		return domain.ViewPersonal
	}
}

// CanView reports whether a task falls inside the widest scope the actor's
// role allows.
func (e *Engine) CanView(ctx context.Context, actor domain.ActorContext, t domain.Task) (bool, error) {
	scope, err := e.BuildScope(ctx, actor, widestView(actor.Role))
	if err != nil {
		return false, err
	}
	if scope.All {
		return true, nil
	}
	ids := make(map[string]bool, len(scope.EmployeeIDs))
	for _, id := range scope.EmployeeIDs {
		ids[id] = true
	}
	if ids[t.AssignedBy] {
		return true, nil
	}
	for _, a := range t.Assignments {
		if ids[a.EmployeeID] {
			return true, nil
		}
	}
	return false, nil
}

// ListFilters are the caller-facing listing parameters. The scope itself is
// derived from the actor and view, never supplied directly.
type ListFilters struct {
	Status     string
	Priority   string
	Category   string
	AssigneeID string
	DueBefore  string
	DueAfter   string
	Overdue    bool
	Search     string
	Limit      int
	Cursor     string
}

// TaskPage is one page of a listing plus the stats over the full filtered set.
type TaskPage struct {
	Items      []domain.Task
	NextCursor string
	Stats      domain.TaskStats
}

func (e *Engine) ListTasks(ctx context.Context, actor domain.ActorContext, view domain.View, f ListFilters) (TaskPage, error) {
	scope, err := e.BuildScope(ctx, actor, view)
	if err != nil {
		return TaskPage{}, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = e.Config.Listing.DefaultLimit
	}
	if limit > e.Config.Listing.MaxLimit {
		limit = e.Config.Listing.MaxLimit
	}
	rf := repo.TaskFilters{
		Scope:      scope,
		Status:     f.Status,
		Priority:   f.Priority,
		Category:   f.Category,
		AssigneeID: f.AssigneeID,
		DueBefore:  f.DueBefore,
		DueAfter:   f.DueAfter,
		Overdue:    f.Overdue,
		Now:        e.now().UTC().Format(time.RFC3339),
		Search:     f.Search,
		Limit:      limit,
	}
	rf.CursorCreatedAt, rf.CursorID = splitCursor(f.Cursor)

	items, err := e.Repo.ListTasks(ctx, rf)
	if err != nil {
		return TaskPage{}, err
	}
	stats, err := e.Repo.TaskStats(ctx, rf)
	if err != nil {
		return TaskPage{}, err
	}
	page := TaskPage{Items: items, Stats: stats}
	if len(items) == limit {
		last := items[len(items)-1]
		page.NextCursor = last.CreatedAt + "|" + last.ID
	}
	return page, nil
}

func splitCursor(cursor string) (createdAt, id string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
