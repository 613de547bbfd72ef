package app

import (
	"context"
	"errors"
	"fmt"

	"peopledesk/internal/directory"
	"peopledesk/internal/domain"
)

// ResolveActor turns an employee id into the ActorContext engine calls
// require. The role always comes from the directory, never from the caller,
// and inactive employees cannot act.
func ResolveActor(ctx context.Context, dir directory.Lookup, employeeID string) (domain.ActorContext, error) {
	if employeeID == "" {
		return domain.ActorContext{}, fmt.Errorf("actor not specified; use --actor-id or authenticate")
	}
	e, err := dir.GetEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return domain.ActorContext{}, fmt.Errorf("employee %s not found", employeeID)
		}
		return domain.ActorContext{}, err
	}
	if !e.Active {
		return domain.ActorContext{}, fmt.Errorf("employee %s is inactive", employeeID)
	}
	return domain.ActorContext{EmployeeID: e.ID, Role: e.Role}, nil
}
