package forms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"trainee-forms/forms-backend/pkg/workflows"
)

type Repository interface {
	SubmissionCounter

	Create(ctx context.Context, form *Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	// Update saves the form only if the stored revision still equals
	// expectedRevision, returning ErrConcurrentModification otherwise.
	Update(ctx context.Context, form *Form, expectedRevision int) error
	ListByTrainee(ctx context.Context, traineeID string, variant workflows.FormVariant) ([]Form, error)
	// StreamByStates lazily yields every form of the variant whose current
	// state is in states, fetching pageSize rows at a time.
	StreamByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, pageSize int) iter.Seq2[*Form, error]
	CountByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState) (int, error)
	// ListByStates returns page (zero based) of the forms counted by
	// CountByStates, most recently modified first.
	ListByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, page, size int) ([]Form, error)
}

// DefaultPageSize is used when a non-positive page size is given.
const DefaultPageSize = 100

// MaxPageSize caps admin listing pages.
const MaxPageSize = 1000

const formColumns = `id, trainee_id, variant, COALESCE(form_ref, '') AS form_ref, revision,
	content, status, created, last_modified`

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, form *Form) error {
	query := `
		INSERT INTO forms (
			id, trainee_id, variant, form_ref, revision, lifecycle_state,
			content, status, created, last_modified
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		form.ID, form.TraineeID, form.Variant, form.FormRef, form.Revision, form.LifecycleState(),
		form.Content, form.Status, form.Created, form.LastModified)
	if err != nil {
		return fmt.Errorf("insert form %s: %w", form.ID, err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	var form Form
	err := r.db.GetContext(ctx, &form, "SELECT "+formColumns+" FROM forms WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get form %s: %w", id, err)
	}
	return &form, nil
}

func (r *postgresRepository) Update(ctx context.Context, form *Form, expectedRevision int) error {
	query := `
		UPDATE forms SET
			form_ref = NULLIF($3, ''),
			revision = $4,
			lifecycle_state = $5,
			content = $6,
			status = $7,
			last_modified = $8
		WHERE id = $1 AND revision = $2`
	res, err := r.db.ExecContext(ctx, query,
		form.ID, expectedRevision, form.FormRef, form.Revision, form.LifecycleState(),
		form.Content, form.Status, form.LastModified)
	if err != nil {
		return fmt.Errorf("update form %s: %w", form.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form %s: %w", form.ID, err)
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *postgresRepository) ListByTrainee(ctx context.Context, traineeID string, variant workflows.FormVariant) ([]Form, error) {
	forms := []Form{}
	query := "SELECT " + formColumns + `
		FROM forms
		WHERE trainee_id = $1 AND variant = $2 AND lifecycle_state <> $3
		ORDER BY last_modified DESC`
	err := r.db.SelectContext(ctx, &forms, query, traineeID, variant, workflows.StateDeleted)
	if err != nil {
		return nil, fmt.Errorf("list %s forms: %w", variant, err)
	}
	return forms, nil
}

func (r *postgresRepository) CountSubmitted(ctx context.Context, traineeID string, variant workflows.FormVariant) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM forms
		WHERE trainee_id = $1 AND variant = $2 AND lifecycle_state <> $3`
	if err := r.db.GetContext(ctx, &count, query, traineeID, variant, workflows.StateDraft); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *postgresRepository) StreamByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, pageSize int) iter.Seq2[*Form, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	names := stateNames(states)
	query := "SELECT " + formColumns + `
		FROM forms
		WHERE variant = $1 AND lifecycle_state = ANY($2) AND id > $3
		ORDER BY id
		LIMIT $4`

	return func(yield func(*Form, error) bool) {
		after := uuid.Nil
		for {
			var page []Form
			if err := r.db.SelectContext(ctx, &page, query, variant, pq.Array(names), after, pageSize); err != nil {
				yield(nil, fmt.Errorf("stream %s forms after %s: %w", variant, after, err))
				return
			}
			for i := range page {
				if !yield(&page[i], nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (r *postgresRepository) CountByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM forms
		WHERE variant = $1 AND lifecycle_state = ANY($2)`
	if err := r.db.GetContext(ctx, &count, query, variant, pq.Array(stateNames(states))); err != nil {
		return 0, fmt.Errorf("count %s forms: %w", variant, err)
	}
	return count, nil
}

func (r *postgresRepository) ListByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, page, size int) ([]Form, error) {
	forms := []Form{}
	query := "SELECT " + formColumns + `
		FROM forms
		WHERE variant = $1 AND lifecycle_state = ANY($2)
		ORDER BY last_modified DESC, id
		LIMIT $3 OFFSET $4`
	err := r.db.SelectContext(ctx, &forms, query, variant, pq.Array(stateNames(states)), size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list %s forms page %d: %w", variant, page, err)
	}
	return forms, nil
}

func stateNames(states []workflows.LifecycleState) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return names
}
