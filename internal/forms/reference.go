package forms

import (
	"context"
	"errors"
	"fmt"

	"trainee-forms/forms-backend/pkg/workflows"
)

var ErrReferenceForDraft = errors.New("reference numbers are not allocated to draft forms")

var referencePrefixes = map[workflows.FormVariant]string{
	workflows.FormRPartA: "formra",
	workflows.FormRPartB: "formrb",
	workflows.LTFT:       "ltft",
}

// SubmissionCounter counts a trainee's forms of a variant that have left DRAFT.
type SubmissionCounter interface {
	CountSubmitted(ctx context.Context, traineeID string, variant workflows.FormVariant) (int, error)
}

// ReferenceAllocator assigns human-readable reference numbers on first
// submission. Concurrent first submissions by the same trainee can be given
// the same number; the unique index on form_ref rejects the second save.
type ReferenceAllocator struct {
	counter SubmissionCounter
}

func NewReferenceAllocator(counter SubmissionCounter) *ReferenceAllocator {
	return &ReferenceAllocator{counter: counter}
}

// AllocateIfAbsent returns the form's existing reference, or builds a new one
// from the trainee's submission count. The form itself is not modified.
func (a *ReferenceAllocator) AllocateIfAbsent(ctx context.Context, form *Form) (string, error) {
	if form.FormRef != "" {
		return form.FormRef, nil
	}

	state := form.LifecycleState()
	if state == workflows.StateNone || state == workflows.StateDraft {
		return "", ErrReferenceForDraft
	}

	prefix, ok := referencePrefixes[form.Variant]
	if !ok {
		return "", fmt.Errorf("no reference prefix for form variant %q", form.Variant)
	}

	count, err := a.counter.CountSubmitted(ctx, form.TraineeID, form.Variant)
	if err != nil {
		return "", fmt.Errorf("count submitted %s forms: %w", form.Variant, err)
	}
	return fmt.Sprintf("%s_%s_%03d", prefix, form.TraineeID, count+1), nil
}
