package forms

import (
	"fmt"
	"slices"

	"trainee-forms/forms-backend/pkg/workflows"
)

// ValidationError reports a rejected request against a form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const stateField = "status.current.state"

// traineeTargets are the states a trainee may request; the rest are
// administrative decisions.
var traineeTargets = map[workflows.LifecycleState]bool{
	workflows.StateSubmitted:   true,
	workflows.StateUnsubmitted: true,
	workflows.StateWithdrawn:   true,
}

// validateTransition checks the move against the lifecycle rules and that a
// detail is given when the target state needs one.
func validateTransition(form *Form, target workflows.LifecycleState, detail *StatusDetail, actor Person) error {
	allowed := workflows.CanTransition(form.LifecycleState(), target, form.Variant)
	if actor.Role == RoleTrainee && !traineeTargets[target] {
		allowed = false
	}
	if !allowed {
		return &ValidationError{
			Field:   stateField,
			Message: fmt.Sprintf("can not be transitioned to %s", target),
		}
	}
	if workflows.RequiresDetail(target) && (detail == nil || detail.Reason == "") {
		return &ValidationError{
			Field:   "status.current.detail",
			Message: fmt.Sprintf("a reason is required to move to %s", target),
		}
	}
	return nil
}

// isEditable reports whether the trainee may still change the form content.
func isEditable(state workflows.LifecycleState) bool {
	return state == workflows.StateDraft || state == workflows.StateUnsubmitted
}

// adminStates resolves an admin listing filter. No filter means every
// submitted state.
func adminStates(states []workflows.LifecycleState) ([]workflows.LifecycleState, error) {
	if len(states) == 0 {
		return workflows.NonDraftStates, nil
	}
	if slices.Contains(states, workflows.StateDraft) {
		return nil, &ValidationError{Field: "state", Message: "DRAFT forms can not be listed"}
	}
	return states, nil
}

// allowedTransitions lists the states the actor may move the form to next.
func allowedTransitions(form *Form, role string) []workflows.LifecycleState {
	allowed := workflows.GetAllowedTransitions(form.LifecycleState(), form.Variant)
	if role == RoleTrainee {
		allowed = slices.DeleteFunc(allowed, func(s workflows.LifecycleState) bool { return !traineeTargets[s] })
	}
	if allowed == nil {
		allowed = []workflows.LifecycleState{}
	}
	return allowed
}
