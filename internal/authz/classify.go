package authz

import (
	"context"

	"peopledesk/internal/domain"
)

// Classify tags why a task ended up assigned as it did. It runs strictly
// after authorization has succeeded for every assignee and must never be
// used to re-derive a permission decision.
func (ev Evaluator) Classify(ctx context.Context, actorID string, assigneeIDs []string) (domain.AssignmentType, error) {
	allSelf := true
	for _, id := range assigneeIDs {
		if id != actorID {
			allSelf = false
			break
		}
	}
	if allSelf && len(assigneeIDs) > 0 {
		return domain.SelfAssigned, nil
	}

	self, err := ev.Dir.GetEmployee(ctx, actorID)
	if err != nil {
		return "", err
	}

	allReports := true
	sharesDepartment := false
	for _, id := range assigneeIDs {
		if id == actorID {
			allReports = false
			sharesDepartment = true
			continue
		}
		e, err := ev.Dir.GetEmployee(ctx, id)
		if err != nil {
			return "", err
		}
		if e.ReportingManager == nil || *e.ReportingManager != actorID {
			allReports = false
		}
		if e.DepartmentID == self.DepartmentID {
			sharesDepartment = true
		}
	}
	if allReports {
		return domain.ManagerAssigned, nil
	}
	if sharesDepartment {
		return domain.PeerAssigned, nil
	}
	return domain.CrossDepartment, nil
}
