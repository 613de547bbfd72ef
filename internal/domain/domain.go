package domain

import "fmt"

// TaskNumber renders the human-facing task number for a sequence value.
func TaskNumber(seq int) string {
	return fmt.Sprintf("TSK-%04d", seq)
}

// Role is an employee's organization-wide role.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

// ValidRole reports whether r is one of the four known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin:
		return true
	}
	return false
}

// Elevated reports whether the role may assign to anyone.
func (r Role) Elevated() bool {
	return r == RoleHR || r == RoleAdmin
}

// TaskStatus is the task-level lifecycle state.
type TaskStatus string

const (
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusOnHold     TaskStatus = "on_hold"
	StatusReview     TaskStatus = "review"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AssignmentStatus is the per-assignee sub-state.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentRejected  AssignmentStatus = "rejected"
	AssignmentDelegated AssignmentStatus = "delegated"
)

// AssignmentRole is the role an assignee plays within one task.
type AssignmentRole string

const (
	AssignmentOwner        AssignmentRole = "owner"
	AssignmentCollaborator AssignmentRole = "collaborator"
	AssignmentReviewer     AssignmentRole = "reviewer"
	AssignmentObserver     AssignmentRole = "observer"
)

// ValidAssignmentRole reports whether ar is a known within-task role.
func ValidAssignmentRole(ar AssignmentRole) bool {
	switch ar {
	case AssignmentOwner, AssignmentCollaborator, AssignmentReviewer, AssignmentObserver:
		return true
	}
	return false
}

// Priority of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityCritical:
		return true
	}
	return false
}

// High reports whether the priority counts toward the high-priority stats bucket.
func (p Priority) High() bool {
	return p == PriorityHigh || p == PriorityUrgent || p == PriorityCritical
}

// Category of HR work a task belongs to.
type Category string

const (
	CategoryOnboarding Category = "onboarding"
	CategoryPayroll    Category = "payroll"
	CategoryBenefits   Category = "benefits"
	CategoryCompliance Category = "compliance"
	CategoryTraining   Category = "training"
	CategoryGeneral    Category = "general"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryOnboarding, CategoryPayroll, CategoryBenefits, CategoryCompliance, CategoryTraining, CategoryGeneral:
		return true
	}
	return false
}

// AssignmentType tags why a task ended up assigned as it did. Descriptive
// metadata only; never consulted for permission decisions.
type AssignmentType string

const (
	SelfAssigned    AssignmentType = "self_assigned"
	ManagerAssigned AssignmentType = "manager_assigned"
	PeerAssigned    AssignmentType = "peer_assigned"
	CrossDepartment AssignmentType = "cross_department"
)

// AuditAction tags one audit trail entry.
type AuditAction string

const (
	AuditAssigned          AuditAction = "assigned"
	AuditAccepted          AuditAction = "accepted"
	AuditRejected          AuditAction = "rejected"
	AuditReassigned        AuditAction = "reassigned"
	AuditDelegated         AuditAction = "delegated"
	AuditApproved          AuditAction = "approved"
	AuditRevisionRequested AuditAction = "revision-requested"
	AuditCancelled         AuditAction = "cancelled"
	AuditProgressUpdated   AuditAction = "progress-updated"
	AuditSubmitted         AuditAction = "submitted"
	AuditOnHold            AuditAction = "on-hold"
	AuditResumed           AuditAction = "resumed"
)

// View is the role-scoped visibility mode for task listings.
type View string

const (
	ViewPersonal     View = "personal"
	ViewTeam         View = "team"
	ViewDepartment   View = "department"
	ViewOrganization View = "organization"
)

// ActorContext identifies the authenticated employee performing an
// operation. Engine calls take it explicitly; there is no ambient session
// state.
type ActorContext struct {
	EmployeeID string `json:"employee_id"`
	Role       Role   `json:"role"`
}

type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Employee is read-only to the engine; it is owned by the directory.
type Employee struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Role             Role    `json:"role" enum:"employee,manager,hr,admin"`
	DepartmentID     string  `json:"department_id"`
	ReportingManager *string `json:"reporting_manager,omitempty"`
	Active           bool    `json:"active"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID             string         `json:"id"`
	Seq            int            `json:"seq"`
	Number         string         `json:"number"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Category       Category       `json:"category" enum:"onboarding,payroll,benefits,compliance,training,general"`
	Priority       Priority       `json:"priority" enum:"low,medium,high,urgent,critical"`
	DueDate        string         `json:"due_date" format:"date-time"`
	EstimatedHours float64        `json:"estimated_hours,omitempty"`
	Progress       int            `json:"progress" minimum:"0" maximum:"100"`
	Status         TaskStatus     `json:"status" enum:"assigned,in_progress,on_hold,review,completed,cancelled"`
	HeldFrom       *TaskStatus    `json:"held_from,omitempty"`
	AssignedBy     string         `json:"assigned_by"`
	AssignmentType AssignmentType `json:"assignment_type" enum:"self_assigned,manager_assigned,peer_assigned,cross_department"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Subtasks       []string       `json:"subtasks,omitempty"`
	Assignments    []Assignment   `json:"assignments"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
}

// Owner returns the task's primary assignment: the first entry with the
// owner role, falling back to the first assignment.
func (t Task) Owner() (Assignment, bool) {
	for _, a := range t.Assignments {
		if a.Role == AssignmentOwner {
			return a, true
		}
	}
	if len(t.Assignments) > 0 {
		return t.Assignments[0], true
	}
	return Assignment{}, false
}

// AssignmentFor returns the assignment entry for the given employee.
func (t Task) AssignmentFor(employeeID string) (Assignment, bool) {
	for _, a := range t.Assignments {
		if a.EmployeeID == employeeID {
			return a, true
		}
	}
	return Assignment{}, false
}

type Assignment struct {
	TaskID     string           `json:"task_id"`
	EmployeeID string           `json:"employee_id"`
	Role       AssignmentRole   `json:"role" enum:"owner,collaborator,reviewer,observer"`
	Status     AssignmentStatus `json:"status" enum:"pending,accepted,rejected,delegated"`
	AssignedAt string           `json:"assigned_at" format:"date-time"`
}

// AuditEntry is one append-only audit trail row. Never edited after creation.
type AuditEntry struct {
	ID          int64       `json:"id"`
	TaskID      string      `json:"task_id"`
	Action      AuditAction `json:"action"`
	To          string      `json:"to,omitempty"`
	PerformedBy string      `json:"performed_by"`
	TS          string      `json:"ts" format:"date-time"`
	Reason      string      `json:"reason,omitempty"`
}

// TaskStats aggregates a listing result set.
type TaskStats struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Overdue      int     `json:"overdue"`
	HighPriority int     `json:"high_priority"`
	AvgProgress  float64 `json:"avg_progress"`
}

type APIKey struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
