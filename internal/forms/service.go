package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trainee-forms/forms-backend/internal/notifications"
	"trainee-forms/forms-backend/pkg/pdf"
	"trainee-forms/forms-backend/pkg/workflows"
)

type Service interface {
	CreateDraft(ctx context.Context, req CreateRequest) (*Form, error)
	// Get returns the form, scoped to the trainee when traineeID is not empty.
	// Trainee reads of Form-R fall back to the S3 archive.
	Get(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string) (*Form, error)
	ListForTrainee(ctx context.Context, traineeID string, variant workflows.FormVariant) ([]Form, error)
	UpdateDraft(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string, content datatypes.JSON) (*Form, error)

	Transition(ctx context.Context, req TransitionRequest) (*Form, error)
	AssignAdmin(ctx context.Context, req AssignRequest) (*Form, error)

	RenderPDF(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string) (io.ReadSeeker, error)
	ListSnapshots(ctx context.Context, variant workflows.FormVariant, id uuid.UUID) ([]SubmissionSnapshot, error)

	// CountByStates and ListByStates serve admin listings. An empty states
	// filter means every submitted state; drafts are never listed.
	CountByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState) (int, error)
	ListByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, page, size int) (*FormPage, error)

	// PublishUpdate announces the form's current state on the variant's topic.
	PublishUpdate(ctx context.Context, form *Form, trigger string) error
}

// Topics are the notification destinations for form events.
type Topics struct {
	Updated    map[workflows.FormVariant]string
	Assignment string
}

type formService struct {
	repo      Repository
	refs      *ReferenceAllocator
	archiver  *Archiver
	snapshots SnapshotStore
	publisher notifications.Publisher
	pdf       pdf.Generator
	topics    Topics
	logger    *zap.Logger
}

// NewService wires the form service. archiver and snapshots may be nil, in
// which case archiving and snapshotting are skipped.
func NewService(repo Repository, archiver *Archiver, snapshots SnapshotStore, publisher notifications.Publisher,
	generator pdf.Generator, topics Topics, logger *zap.Logger) Service {
	return &formService{
		repo:      repo,
		refs:      NewReferenceAllocator(repo),
		archiver:  archiver,
		snapshots: snapshots,
		publisher: publisher,
		pdf:       generator,
		topics:    topics,
		logger:    logger,
	}
}

func (s *formService) CreateDraft(ctx context.Context, req CreateRequest) (*Form, error) {
	if req.TraineeID == "" {
		return nil, &ValidationError{Field: "traineeTisId", Message: "must not be empty"}
	}
	if err := validateContent(req.Content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	form := &Form{
		ID:           uuid.New(),
		TraineeID:    req.TraineeID,
		Variant:      req.Variant,
		Content:      req.Content,
		Created:      now,
		LastModified: now,
	}
	actor := req.Actor
	form.Status.RecordTransition(workflows.StateDraft, nil, &actor, form.Revision)

	if err := s.repo.Create(ctx, form); err != nil {
		return nil, err
	}

	s.logger.Info("Created draft form",
		zap.String("form_id", form.ID.String()),
		zap.String("form_type", string(form.Variant)))
	return form, nil
}

func (s *formService) Get(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string) (*Form, error) {
	form, err := s.load(ctx, variant, id, traineeID)
	if errors.Is(err, ErrFormNotFound) && s.archiver != nil && variant.IsFormR() && traineeID != "" {
		return s.archiver.Restore(ctx, traineeID, variant, id)
	}
	return form, err
}

// load reads the stored form for a change; archived copies are read only.
func (s *formService) load(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string) (*Form, error) {
	form, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form.Variant != variant || (traineeID != "" && form.TraineeID != traineeID) {
		return nil, ErrFormNotFound
	}
	return form, nil
}

func (s *formService) ListForTrainee(ctx context.Context, traineeID string, variant workflows.FormVariant) ([]Form, error) {
	return s.repo.ListByTrainee(ctx, traineeID, variant)
}

func (s *formService) UpdateDraft(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string, content datatypes.JSON) (*Form, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	form, err := s.load(ctx, variant, id, traineeID)
	if err != nil {
		return nil, err
	}
	if !isEditable(form.LifecycleState()) {
		return nil, ErrNotEditable
	}

	expected := form.Revision
	form.Content = content
	form.Revision++
	form.LastModified = time.Now().UTC()

	if err := s.repo.Update(ctx, form, expected); err != nil {
		return nil, err
	}
	return form, nil
}

func (s *formService) Transition(ctx context.Context, req TransitionRequest) (*Form, error) {
	form, err := s.load(ctx, req.Variant, req.FormID, req.TraineeID)
	if err != nil {
		return nil, err
	}
	if err := validateTransition(form, req.Target, req.Detail, req.Actor); err != nil {
		return nil, err
	}

	expected := form.Revision
	actor := req.Actor
	form.Revision++
	form.Status.RecordTransition(req.Target, req.Detail, &actor, form.Revision)
	form.LastModified = time.Now().UTC()

	if req.Target == workflows.StateSubmitted {
		ref, err := s.refs.AllocateIfAbsent(ctx, form)
		if err != nil {
			return nil, fmt.Errorf("allocate reference for form %s: %w", form.ID, err)
		}
		form.FormRef = ref
	}

	if err := s.repo.Update(ctx, form, expected); err != nil {
		return nil, err
	}

	s.logger.Info("Form transitioned",
		zap.String("form_id", form.ID.String()),
		zap.String("form_type", string(form.Variant)),
		zap.String("state", string(req.Target)),
		zap.Int("revision", form.Revision))

	s.afterTransition(ctx, form)
	return form, nil
}

// afterTransition runs the side effects of a saved transition. Failures are
// logged; the transition itself has already been committed.
func (s *formService) afterTransition(ctx context.Context, form *Form) {
	if s.archiver != nil && form.Variant.IsFormR() {
		if err := s.archiver.Archive(ctx, form); err != nil {
			s.logger.Error("Failed to archive form", zap.String("form_id", form.ID.String()), zap.Error(err))
		}
	}

	if s.snapshots != nil && form.Variant == workflows.LTFT && form.LifecycleState() == workflows.StateSubmitted {
		if err := s.snapshots.Save(ctx, form); err != nil {
			s.logger.Error("Failed to snapshot submission", zap.String("form_id", form.ID.String()), zap.Error(err))
		}
	}

	if err := s.PublishUpdate(ctx, form, notifications.DefaultTrigger); err != nil {
		s.logger.Error("Failed to publish form update", zap.String("form_id", form.ID.String()), zap.Error(err))
	}
}

func (s *formService) AssignAdmin(ctx context.Context, req AssignRequest) (*Form, error) {
	if req.Variant != workflows.LTFT {
		return nil, &ValidationError{Field: "formType", Message: "only LTFT forms can be assigned"}
	}
	form, err := s.load(ctx, req.Variant, req.FormID, "")
	if err != nil {
		return nil, err
	}
	if state := form.LifecycleState(); state == workflows.StateNone || state == workflows.StateDraft || workflows.IsTerminal(state) {
		return nil, &ValidationError{Field: stateField, Message: fmt.Sprintf("can not assign an admin to a %s form", state)}
	}

	expected := form.Revision
	admin, actor := req.Admin, req.Actor
	form.Revision++
	form.Status.AssignAdmin(&admin, &actor)
	form.LastModified = time.Now().UTC()

	if err := s.repo.Update(ctx, form, expected); err != nil {
		return nil, err
	}

	s.logger.Info("Admin assigned to form",
		zap.String("form_id", form.ID.String()),
		zap.String("admin", admin.Email))

	msg := notifications.Message{
		Key:  form.ID.String(),
		Body: form,
		Attributes: map[string]string{
			"formType": form.Variant.Slug(),
			"trigger":  "assignment",
		},
	}
	if err := s.publisher.Publish(ctx, s.topics.Assignment, msg); err != nil {
		s.logger.Error("Failed to publish assignment", zap.String("form_id", form.ID.String()), zap.Error(err))
	}
	return form, nil
}

func (s *formService) PublishUpdate(ctx context.Context, form *Form, trigger string) error {
	if trigger == "" {
		trigger = notifications.DefaultTrigger
	}
	msg := notifications.Message{
		Key:  form.ID.String(),
		Body: form,
		Attributes: map[string]string{
			"formType": form.Variant.Slug(),
			"trigger":  trigger,
		},
	}
	return s.publisher.Publish(ctx, s.topics.Updated[form.Variant], msg)
}

func (s *formService) RenderPDF(ctx context.Context, variant workflows.FormVariant, id uuid.UUID, traineeID string) (io.ReadSeeker, error) {
	form, err := s.Get(ctx, variant, id, traineeID)
	if err != nil {
		return nil, err
	}
	doc, err := summaryDocument(form)
	if err != nil {
		return nil, err
	}
	return s.pdf.Generate(ctx, doc)
}

func (s *formService) ListSnapshots(ctx context.Context, variant workflows.FormVariant, id uuid.UUID) ([]SubmissionSnapshot, error) {
	if s.snapshots == nil {
		return []SubmissionSnapshot{}, nil
	}
	if _, err := s.Get(ctx, variant, id, ""); err != nil {
		return nil, err
	}
	return s.snapshots.ListForForm(ctx, id)
}

func (s *formService) CountByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState) (int, error) {
	states, err := adminStates(states)
	if err != nil {
		return 0, err
	}
	return s.repo.CountByStates(ctx, variant, states)
}

func (s *formService) ListByStates(ctx context.Context, variant workflows.FormVariant, states []workflows.LifecycleState, page, size int) (*FormPage, error) {
	states, err := adminStates(states)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, &ValidationError{Field: "page", Message: "must not be negative"}
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)

	total, err := s.repo.CountByStates(ctx, variant, states)
	if err != nil {
		return nil, err
	}
	forms, err := s.repo.ListByStates(ctx, variant, states, page, size)
	if err != nil {
		return nil, err
	}
	return &FormPage{
		Content:       forms,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
	}, nil
}

func validateContent(content datatypes.JSON) error {
	if len(content) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(content, &fields); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return &ValidationError{Field: "content", Message: "must be valid JSON"}
		}
		return &ValidationError{Field: "content", Message: "must be a JSON object"}
	}
	return nil
}
