package forms

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"trainee-forms/forms-backend/pkg/workflows"
)

// Actor roles recorded against status changes.
const (
	RoleTrainee = "TRAINEE"
	RoleAdmin   = "ADMIN"
)

var (
	ErrFormNotFound           = errors.New("form not found")
	ErrConcurrentModification = errors.New("form was modified concurrently")
	ErrNotEditable            = errors.New("form can not be edited in its current state")
)

// Form is a trainee-submitted form of any variant.
type Form struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	TraineeID    string                `json:"traineeTisId" db:"trainee_id"`
	Variant      workflows.FormVariant `json:"formType" db:"variant"`
	FormRef      string                `json:"formRef,omitempty" db:"form_ref"`
	Revision     int                   `json:"revision" db:"revision"`
	Content      datatypes.JSON        `json:"content,omitempty" db:"content"`
	Status       Status                `json:"status" db:"status"`
	Created      time.Time             `json:"created" db:"created"`
	LastModified time.Time             `json:"lastModified" db:"last_modified"`
}

// LifecycleState returns the form's current state.
func (f *Form) LifecycleState() workflows.LifecycleState {
	return f.Status.LifecycleState()
}

// Person identifies who made a status change.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// StatusDetail is the reason given for a status change.
type StatusDetail struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// CreateRequest starts a new draft form.
type CreateRequest struct {
	TraineeID string
	Variant   workflows.FormVariant
	Content   datatypes.JSON
	Actor     Person
}

// TransitionRequest asks for a form to move to a new lifecycle state.
type TransitionRequest struct {
	FormID  uuid.UUID
	Variant workflows.FormVariant
	// TraineeID restricts the lookup to forms owned by the trainee, empty for admins.
	TraineeID string
	Target    workflows.LifecycleState
	Detail    *StatusDetail
	Actor     Person
}

// AssignRequest assigns an admin to process a form.
type AssignRequest struct {
	FormID  uuid.UUID
	Variant workflows.FormVariant
	Admin   Person
	Actor   Person
}

// FormPage is one page of an admin form listing.
type FormPage struct {
	Content       []Form `json:"content"`
	Page          int    `json:"page"`
	Size          int    `json:"size"`
	TotalElements int    `json:"totalElements"`
	TotalPages    int    `json:"totalPages"`
}
