package forms

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"trainee-forms/forms-backend/pkg/workflows"
)

type memoryRepository struct {
	mu    sync.RWMutex
	forms map[uuid.UUID]Form
}

// NewMemoryRepository returns a Repository kept in process memory, for local
// runs without Postgres.
func NewMemoryRepository() Repository {
	return &memoryRepository{forms: make(map[uuid.UUID]Form)}
}

func cloneForm(f Form) Form {
	f.Content = bytes.Clone(f.Content)
	f.Status.History = slices.Clone(f.Status.History)
	if f.Status.Current != nil {
		current := *f.Status.Current
		f.Status.Current = &current
	}
	return f
}

func (r *memoryRepository) Create(ctx context.Context, form *Form) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.forms[form.ID]; exists {
		return fmt.Errorf("insert form %s: duplicate id", form.ID)
	}
	if err := r.checkReference(form); err != nil {
		return err
	}
	r.forms[form.ID] = cloneForm(*form)
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[id]
	if !ok {
		return nil, ErrFormNotFound
	}
	clone := cloneForm(f)
	return &clone, nil
}

func (r *memoryRepository) Update(ctx context.Context, form *Form, expectedRevision int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.forms[form.ID]
	if !ok || stored.Revision != expectedRevision {
		return ErrConcurrentModification
	}
	if err := r.checkReference(form); err != nil {
		return err
	}
	r.forms[form.ID] = cloneForm(*form)
	return nil
}

// checkReference mirrors the unique index on form_ref.
func (r *memoryRepository) checkReference(form *Form) error {
	if form.FormRef == "" {
		return nil
	}
	for id, f := range r.forms {
		if id != form.ID && f.FormRef == form.FormRef {
			return fmt.Errorf("update form %s: duplicate reference %s", form.ID, form.FormRef)
		}
	}
	return nil
}

func (r *memoryRepository) ListByTrainee(ctx context.Context, traineeID string, variant workflows.FormVariant) ([]Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	forms := []Form{}
	for _, f := range r.forms {
		if f.TraineeID == traineeID && f.Variant == variant && f.LifecycleState() != workflows.StateDeleted {
			forms = append(forms, cloneForm(f))
		}
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].LastModified.After(forms[j].LastModified) })
	return forms, nil
}

func (r *memoryRepository) CountSubmitted(ctx context.Context, traineeID string, variant workflows.FormVariant) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, f := range r.forms {
		if f.TraineeID == traineeID && f.Variant == variant && f.LifecycleState() != workflows.StateDraft {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepository) StreamByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, pageSize int) iter.Seq2[*Form, error] {
	return func(yield func(*Form, error) bool) {
		matched := r.matching(variant, states)
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID.String() < matched[j].ID.String() })
		for i := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&matched[i], nil) {
				return
			}
		}
	}
}

func (r *memoryRepository) matching(variant workflows.FormVariant, states []workflows.LifecycleState) []Form {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := []Form{}
	for _, f := range r.forms {
		if f.Variant == variant && slices.Contains(states, f.LifecycleState()) {
			matched = append(matched, cloneForm(f))
		}
	}
	return matched
}

func (r *memoryRepository) CountByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState) (int, error) {
	return len(r.matching(variant, states)), nil
}

func (r *memoryRepository) ListByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, page, size int) ([]Form, error) {
	matched := r.matching(variant, states)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastModified.Equal(matched[j].LastModified) {
			return matched[i].LastModified.After(matched[j].LastModified)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	start := page * size
	if start >= len(matched) {
		return []Form{}, nil
	}
	return matched[start:min(start+size, len(matched))], nil
}
