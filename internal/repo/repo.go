package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"peopledesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// NextSeq allocates the next task sequence number inside the caller's
// transaction. The UNIQUE constraint on tasks.seq catches races.
func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM tasks`).Scan(&seq)
	return seq, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,seq,title,description,category,priority,due_date,estimated_hours,progress,status,held_from,assigned_by,assignment_type,parent_id,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Seq, t.Title, nullable(t.Description), t.Category, t.Priority, t.DueDate, nullableFloat(t.EstimatedHours),
		t.Progress, t.Status, nullableStatusPtr(t.HeldFrom), t.AssignedBy, t.AssignmentType, nullableStringPtr(t.ParentID),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, category=?, priority=?, due_date=?, estimated_hours=?, progress=?, status=?, held_from=?, assignment_type=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Category, t.Priority, t.DueDate, nullableFloat(t.EstimatedHours),
		t.Progress, t.Status, nullableStatusPtr(t.HeldFrom), t.AssignmentType, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

const taskColumns = `id,seq,title,description,category,priority,due_date,estimated_hours,progress,status,held_from,assigned_by,assignment_type,parent_id,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, heldFrom, parentID, completedAt sql.NullString
	var estimated sql.NullFloat64
	err := scan(&t.ID, &t.Seq, &t.Title, &description, &t.Category, &t.Priority, &t.DueDate, &estimated,
		&t.Progress, &t.Status, &heldFrom, &t.AssignedBy, &t.AssignmentType, &parentID, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	t.Number = domain.TaskNumber(t.Seq)
	if description.Valid {
		t.Description = description.String
	}
	if heldFrom.Valid {
		s := domain.TaskStatus(heldFrom.String)
		t.HeldFrom = &s
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if estimated.Valid {
		t.EstimatedHours = estimated.Float64
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Assignments, err = r.listAssignments(ctx, r.DB, t.ID); err != nil {
		return t, err
	}
	if t.Subtasks, err = r.listSubtasks(ctx, r.DB, t.ID); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Assignments, err = r.listAssignments(ctx, tx, t.ID); err != nil {
		return t, err
	}
	if t.Subtasks, err = r.listSubtasks(ctx, tx, t.ID); err != nil {
		return t, err
	}
	return t, nil
}

// GetTaskBySeq resolves a human-facing task number back to the task.
func (r Repo) GetTaskBySeq(ctx context.Context, seq int) (domain.Task, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM tasks WHERE seq=?`, seq).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return r.GetTask(ctx, id)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) listAssignments(ctx context.Context, q querier, taskID string) ([]domain.Assignment, error) {
	rows, err := q.QueryContext(ctx, `SELECT task_id,employee_id,role,status,assigned_at FROM assignments WHERE task_id=? ORDER BY assigned_at, employee_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.TaskID, &a.EmployeeID, &a.Role, &a.Status, &a.AssignedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) listSubtasks(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id=? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(task_id,employee_id,role,status,assigned_at) VALUES (?,?,?,?,?)`,
		a.TaskID, a.EmployeeID, a.Role, a.Status, a.AssignedAt)
	return err
}

func (r Repo) UpdateAssignmentStatus(ctx context.Context, tx *sql.Tx, taskID, employeeID string, status domain.AssignmentStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status=? WHERE task_id=? AND employee_id=?`, status, taskID, employeeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, taskID, employeeID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE task_id=? AND employee_id=?`, taskID, employeeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskScope restricts a listing to tasks visible to a set of employees. A
// task is in scope when any of the ids created it or holds an assignment on
// it. All short-circuits the restriction entirely.
type TaskScope struct {
	All         bool
	EmployeeIDs []string
}

type TaskFilters struct {
	Scope           TaskScope
	Status          string
	Priority        string
	Category        string
	AssigneeID      string
	DueBefore       string
	DueAfter        string
	Overdue         bool
	Now             string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f TaskFilters) clauses(includeCursor bool) ([]string, []any) {
	var clauses []string
	var args []any
	if !f.Scope.All {
		if len(f.Scope.EmployeeIDs) == 0 {
			clauses = append(clauses, "1=0")
		} else {
			marks := strings.Repeat("?,", len(f.Scope.EmployeeIDs))
			marks = marks[:len(marks)-1]
			clauses = append(clauses, `(assigned_by IN (`+marks+`) OR id IN (SELECT task_id FROM assignments WHERE employee_id IN (`+marks+`)))`)
			for i := 0; i < 2; i++ {
				for _, id := range f.Scope.EmployeeIDs {
					args = append(args, id)
				}
			}
		}
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM assignments WHERE employee_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date<=?")
		args = append(args, f.DueBefore)
	}
	if f.DueAfter != "" {
		clauses = append(clauses, "due_date>=?")
		args = append(args, f.DueAfter)
	}
	if f.Overdue && f.Now != "" {
		clauses = append(clauses, "due_date<? AND status NOT IN ('completed','cancelled')")
		args = append(args, f.Now)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR printf('TSK-%04d', seq) LIKE ?)")
		args = append(args, like, like, like)
	}
	if includeCursor && f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	return clauses, args
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses, args := f.clauses(true)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Assignments, err = r.listAssignments(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// TaskStats aggregates over the full filtered set, ignoring cursor and limit.
func (r Repo) TaskStats(ctx context.Context, f TaskFilters) (domain.TaskStats, error) {
	clauses, args := f.clauses(false)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	now := f.Now
	var s domain.TaskStats
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN due_date<? AND status NOT IN ('completed','cancelled') THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN priority IN ('high','urgent','critical') THEN 1 ELSE 0 END),0),
		AVG(progress)
	FROM tasks `+where, append([]any{now}, args...)...).
		Scan(&s.Total, &s.Completed, &s.Overdue, &s.HighPriority, &avg)
	if err != nil {
		return s, err
	}
	if avg.Valid {
		s.AvgProgress = avg.Float64
	}
	return s, nil
}

// ListAudit returns a task's audit trail in chronological order.
func (r Repo) ListAudit(ctx context.Context, taskID string, limit int, cursorID int64) ([]domain.AuditEntry, error) {
	clauses := []string{"task_id=?"}
	args := []any{taskID}
	if cursorID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursorID)
	}
	query := `SELECT id,task_id,action,to_employee,performed_by,ts,reason FROM task_audit WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var to, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Action, &to, &e.PerformedBy, &e.TS, &reason); err != nil {
			return nil, err
		}
		if to.Valid {
			e.To = to.String
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableStatusPtr(v *domain.TaskStatus) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
