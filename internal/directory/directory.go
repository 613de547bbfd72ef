package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"peopledesk/internal/domain"
)

// ErrNotFound is returned when an employee or department does not exist.
var ErrNotFound = errors.New("not found")

// Lookup is the read-only employee directory the engine consumes. Lookups
// are idempotent and never cached by callers; every permission evaluation
// re-reads current role and department.
type Lookup interface {
	GetEmployee(ctx context.Context, id string) (domain.Employee, error)
	DirectReports(ctx context.Context, managerID string) ([]string, error)
}

// Store is the SQL-backed directory. It also carries the thin admin surface
// (adding departments and employees) used to operate the directory; the task
// engine itself never mutates it.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	var e domain.Employee
	var manager sql.NullString
	var active int
	err := s.DB.QueryRowContext(ctx, `SELECT id,name,role,department_id,reporting_manager,active,created_at FROM employees WHERE id=?`, id).
		Scan(&e.ID, &e.Name, &e.Role, &e.DepartmentID, &manager, &active, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if manager.Valid {
		e.ReportingManager = &manager.String
	}
	e.Active = active != 0
	return e, nil
}

func (s Store) DirectReports(ctx context.Context, managerID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM employees WHERE reporting_manager=? AND active=1`, managerID)
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

func (s Store) AddDepartment(ctx context.Context, d domain.Department) (domain.Department, error) {
	if strings.TrimSpace(d.ID) == "" {
		return d, errors.New("department id required")
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = d.ID
	}
	d.CreatedAt = s.now().UTC().Format(time.RFC3339)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO departments(id,name,created_at) VALUES (?,?,?)`, d.ID, d.Name, d.CreatedAt)
	return d, err
}

func (s Store) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	err := s.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (s Store) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,name,created_at FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s Store) AddEmployee(ctx context.Context, e domain.Employee) (domain.Employee, error) {
	if strings.TrimSpace(e.ID) == "" {
		return e, errors.New("employee id required")
	}
	if !domain.ValidRole(e.Role) {
		return e, errors.New("unknown role " + string(e.Role))
	}
	if _, err := s.GetDepartment(ctx, e.DepartmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return e, errors.New("department " + e.DepartmentID + " not found")
		}
		return e, err
	}
	if e.ReportingManager != nil {
		if _, err := s.GetEmployee(ctx, *e.ReportingManager); err != nil {
			if errors.Is(err, ErrNotFound) {
				return e, errors.New("reporting manager " + *e.ReportingManager + " not found")
			}
			return e, err
		}
	}
	e.Active = true
	e.CreatedAt = s.now().UTC().Format(time.RFC3339)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO employees(id,name,role,department_id,reporting_manager,active,created_at) VALUES (?,?,?,?,?,1,?)`,
		e.ID, e.Name, e.Role, e.DepartmentID, nullableStringPtr(e.ReportingManager), e.CreatedAt)
	return e, err
}

func (s Store) ListEmployees(ctx context.Context, departmentID string) ([]domain.Employee, error) {
	query := `SELECT id,name,role,department_id,reporting_manager,active,created_at FROM employees`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id=?`
		args = append(args, departmentID)
	}
	query += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		var e domain.Employee
		var manager sql.NullString
		var active int
		if err := rows.Scan(&e.ID, &e.Name, &e.Role, &e.DepartmentID, &manager, &active, &e.CreatedAt); err != nil {
			return nil, err
		}
		if manager.Valid {
			e.ReportingManager = &manager.String
		}
		e.Active = active != 0
		res = append(res, e)
	}
	return res, rows.Err()
}

// SetActive flips an employee's active flag.
func (s Store) SetActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE employees SET active=? WHERE id=?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
