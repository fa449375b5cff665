package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubmissionSnapshot is an immutable copy of a form as it was submitted.
type SubmissionSnapshot struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	FormID      uuid.UUID      `json:"formId" gorm:"type:uuid;index;not null"`
	TraineeID   string         `json:"traineeTisId" gorm:"type:text;index;not null"`
	Variant     string         `json:"formType" gorm:"type:text;not null"`
	FormRef     string         `json:"formRef" gorm:"type:text"`
	Revision    int            `json:"revision" gorm:"not null"`
	Content     datatypes.JSON `json:"content" gorm:"type:jsonb"`
	Status      datatypes.JSON `json:"status" gorm:"type:jsonb"`
	SubmittedAt time.Time      `json:"submittedAt" gorm:"not null"`
	CreatedAt   time.Time      `json:"createdAt" gorm:"autoCreateTime"`
}

type SnapshotStore interface {
	Save(ctx context.Context, form *Form) error
	ListForForm(ctx context.Context, formID uuid.UUID) ([]SubmissionSnapshot, error)
}

type gormSnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) SnapshotStore {
	return &gormSnapshotStore{db: db}
}

// MigrateSnapshots creates the snapshot table if needed.
func MigrateSnapshots(db *gorm.DB) error {
	return db.AutoMigrate(&SubmissionSnapshot{})
}

func newSnapshot(form *Form) (*SubmissionSnapshot, error) {
	status, err := json.Marshal(form.Status)
	if err != nil {
		return nil, fmt.Errorf("marshal status of form %s: %w", form.ID, err)
	}
	submitted := form.LastModified
	if at := form.Status.SubmittedAt(); at != nil {
		submitted = *at
	}
	return &SubmissionSnapshot{
		ID:          uuid.New(),
		FormID:      form.ID,
		TraineeID:   form.TraineeID,
		Variant:     string(form.Variant),
		FormRef:     form.FormRef,
		Revision:    form.Revision,
		Content:     form.Content,
		Status:      datatypes.JSON(status),
		SubmittedAt: submitted,
	}, nil
}

func (s *gormSnapshotStore) Save(ctx context.Context, form *Form) error {
	snapshot, err := newSnapshot(form)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("save snapshot of form %s: %w", form.ID, err)
	}
	return nil
}

func (s *gormSnapshotStore) ListForForm(ctx context.Context, formID uuid.UUID) ([]SubmissionSnapshot, error) {
	snapshots := []SubmissionSnapshot{}
	err := s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots of form %s: %w", formID, err)
	}
	return snapshots, nil
}
