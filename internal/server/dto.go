package server

import (
	"peopledesk/internal/domain"
	"peopledesk/internal/engine"
)

// Request payloads

type CreateDepartmentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateEmployeeRequest struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Role             string  `json:"role" enum:"employee,manager,hr,admin"`
	DepartmentID     string  `json:"department_id"`
	ReportingManager *string `json:"reporting_manager,omitempty"`
}

type AssigneeRequest struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role,omitempty" enum:"owner,collaborator,reviewer,observer"`
}

type CreateTaskRequest struct {
	Title          string            `json:"title"`
	Description    *string           `json:"description,omitempty"`
	Category       string            `json:"category,omitempty" enum:"onboarding,payroll,benefits,compliance,training,general"`
	Priority       string            `json:"priority,omitempty" enum:"low,medium,high,urgent,critical"`
	DueDate        string            `json:"due_date"`
	EstimatedHours float64           `json:"estimated_hours,omitempty"`
	Assignees      []AssigneeRequest `json:"assignees"`
	ParentID       *string           `json:"parent_id,omitempty"`
}

type ProgressRequest struct {
	Progress     int    `json:"progress" minimum:"0" maximum:"100"`
	TargetStatus string `json:"target_status,omitempty" enum:"in_progress,review"`
}

type AssigneesRequest struct {
	Assignees []AssigneeRequest `json:"assignees"`
}

type CreateAPIKeyRequest struct {
	EmployeeID string `json:"employee_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	EmployeeID string `json:"employee_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type DepartmentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EmployeeResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Role             string  `json:"role" enum:"employee,manager,hr,admin"`
	DepartmentID     string  `json:"department_id"`
	ReportingManager *string `json:"reporting_manager,omitempty"`
	Active           bool    `json:"active"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type AssignmentResponse struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role" enum:"owner,collaborator,reviewer,observer"`
	Status     string `json:"status" enum:"pending,accepted,rejected,delegated"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
}

type TaskResponse struct {
	ID             string               `json:"id"`
	Number         string               `json:"number"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	Category       string               `json:"category"`
	Priority       string               `json:"priority"`
	DueDate        string               `json:"due_date" format:"date-time"`
	EstimatedHours float64              `json:"estimated_hours,omitempty"`
	Progress       int                  `json:"progress"`
	Status         string               `json:"status" enum:"assigned,in_progress,on_hold,review,completed,cancelled"`
	HeldFrom       *string              `json:"held_from,omitempty"`
	AssignedBy     string               `json:"assigned_by"`
	AssignmentType string               `json:"assignment_type" enum:"self_assigned,manager_assigned,peer_assigned,cross_department"`
	ParentID       *string              `json:"parent_id,omitempty"`
	Subtasks       []string             `json:"subtasks,omitempty"`
	Assignments    []AssignmentResponse `json:"assignments"`
	CreatedAt      string               `json:"created_at" format:"date-time"`
	UpdatedAt      string               `json:"updated_at" format:"date-time"`
	CompletedAt    *string              `json:"completed_at,omitempty" format:"date-time"`
}

type AuditEntryResponse struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	To          string `json:"to,omitempty"`
	PerformedBy string `json:"performed_by"`
	TS          string `json:"ts" format:"date-time"`
	Reason      string `json:"reason,omitempty"`
}

type TaskStatsResponse struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Overdue      int     `json:"overdue"`
	HighPriority int     `json:"high_priority"`
	AvgProgress  float64 `json:"avg_progress"`
}

type paginatedTasks struct {
	Items      []TaskResponse    `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
	Stats      TaskStatsResponse `json:"stats"`
}

type APIKeyResponse struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	Key        string `json:"key,omitempty"`
}

// Mappers

func departmentResponse(d domain.Department) DepartmentResponse {
	return DepartmentResponse{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt}
}

func employeeResponse(e domain.Employee) EmployeeResponse {
	return EmployeeResponse{
		ID:               e.ID,
		Name:             e.Name,
		Role:             string(e.Role),
		DepartmentID:     e.DepartmentID,
		ReportingManager: e.ReportingManager,
		Active:           e.Active,
		CreatedAt:        e.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	res := TaskResponse{
		ID:             t.ID,
		Number:         t.Number,
		Title:          t.Title,
		Description:    t.Description,
		Category:       string(t.Category),
		Priority:       string(t.Priority),
		DueDate:        t.DueDate,
		EstimatedHours: t.EstimatedHours,
		Progress:       t.Progress,
		Status:         string(t.Status),
		AssignedBy:     t.AssignedBy,
		AssignmentType: string(t.AssignmentType),
		ParentID:       t.ParentID,
		Subtasks:       t.Subtasks,
		Assignments:    make([]AssignmentResponse, 0, len(t.Assignments)),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
	if t.HeldFrom != nil {
		s := string(*t.HeldFrom)
		res.HeldFrom = &s
	}
	for _, a := range t.Assignments {
		res.Assignments = append(res.Assignments, AssignmentResponse{
			EmployeeID: a.EmployeeID,
			Role:       string(a.Role),
			Status:     string(a.Status),
			AssignedAt: a.AssignedAt,
		})
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func auditResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:          e.ID,
		Action:      string(e.Action),
		To:          e.To,
		PerformedBy: e.PerformedBy,
		TS:          e.TS,
		Reason:      e.Reason,
	}
}

func statsResponse(s domain.TaskStats) TaskStatsResponse {
	return TaskStatsResponse{
		Total:        s.Total,
		Completed:    s.Completed,
		Overdue:      s.Overdue,
		HighPriority: s.HighPriority,
		AvgProgress:  s.AvgProgress,
	}
}

func assigneeSpecs(in []AssigneeRequest) []engine.AssigneeSpec {
	out := make([]engine.AssigneeSpec, 0, len(in))
	for _, a := range in {
		out = append(out, engine.AssigneeSpec{
			EmployeeID: a.EmployeeID,
			Role:       domain.AssignmentRole(a.Role),
		})
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
