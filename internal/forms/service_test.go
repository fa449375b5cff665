package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trainee-forms/forms-backend/internal/notifications"
	"trainee-forms/forms-backend/pkg/pdf"
	"trainee-forms/forms-backend/pkg/storage"
	"trainee-forms/forms-backend/pkg/workflows"
)

// MockPublisher is a mock implementation of the notifications.Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg notifications.Message) error {
	args := m.Called(ctx, topic, msg)
	return args.Error(0)
}

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) Upload(ctx context.Context, bucket, key string, body io.Reader, metadata map[string]string) error {
	args := m.Called(ctx, bucket, key, body, metadata)
	return args.Error(0)
}

func (m *MockS3Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Save(ctx context.Context, form *Form) error {
	return m.Called(ctx, form).Error(0)
}

func (m *MockSnapshotStore) ListForForm(ctx context.Context, formID uuid.UUID) ([]SubmissionSnapshot, error) {
	args := m.Called(ctx, formID)
	return args.Get(0).([]SubmissionSnapshot), args.Error(1)
}

var testTopics = Topics{
	Updated: map[workflows.FormVariant]string{
		workflows.FormRPartA: "formr-updated",
		workflows.FormRPartB: "formr-updated",
		workflows.LTFT:       "ltft-updated.fifo",
	},
	Assignment: "ltft-assigned",
}

type serviceFixture struct {
	repo      Repository
	s3        *MockS3Client
	snapshots *MockSnapshotStore
	publisher *MockPublisher
	service   Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		repo:      NewMemoryRepository(),
		s3:        new(MockS3Client),
		snapshots: new(MockSnapshotStore),
		publisher: new(MockPublisher),
	}
	f.service = NewService(f.repo, NewArchiver(f.s3, "trainee-forms"), f.snapshots, f.publisher,
		pdf.NewGenerator(pdf.DefaultOptions()), testTopics, zap.NewNop())
	return f
}

func (f *serviceFixture) draft(t *testing.T, variant workflows.FormVariant) *Form {
	t.Helper()
	form, err := f.service.CreateDraft(context.Background(), CreateRequest{
		TraineeID: "47165",
		Variant:   variant,
		Content:   datatypes.JSON(`{"forename":"Anthony","surname":"Gilliam"}`),
		Actor:     *traineeActor,
	})
	require.NoError(t, err)
	return form
}

func (f *serviceFixture) submit(t *testing.T, form *Form) *Form {
	t.Helper()
	submitted, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:    form.ID,
		Variant:   form.Variant,
		TraineeID: form.TraineeID,
		Target:    workflows.StateSubmitted,
		Actor:     *traineeActor,
	})
	require.NoError(t, err)
	return submitted
}

func TestCreateDraft(t *testing.T) {
	f := newServiceFixture()

	form := f.draft(t, workflows.FormRPartA)

	assert.Equal(t, workflows.StateDraft, form.LifecycleState())
	assert.Equal(t, 0, form.Revision)
	assert.Empty(t, form.FormRef)
	require.Len(t, form.Status.History, 1)

	_, err := f.service.CreateDraft(context.Background(), CreateRequest{
		TraineeID: "47165",
		Variant:   workflows.LTFT,
		Content:   datatypes.JSON(`[1,2]`),
	})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestSubmitAllocatesReferenceAndNotifies(t *testing.T) {
	f := newServiceFixture()
	f.s3.On("Upload", mock.Anything, "trainee-forms", mock.Anything, mock.Anything, mock.MatchedBy(func(md map[string]string) bool {
		return md["formtype"] == "formr-a" && md["lifecyclestate"] == "SUBMITTED" && md["submissiondate"] != ""
	})).Return(nil)
	f.publisher.On("Publish", mock.Anything, "formr-updated", mock.MatchedBy(func(msg notifications.Message) bool {
		return msg.Attributes["formType"] == "formr-parta" && msg.Attributes["trigger"] == notifications.DefaultTrigger
	})).Return(nil)

	form := f.submit(t, f.draft(t, workflows.FormRPartA))

	assert.Equal(t, "formra_47165_001", form.FormRef)
	assert.Equal(t, 1, form.Revision)
	assert.Equal(t, 1, form.Status.Current.Revision)
	assert.NotNil(t, form.Status.SubmittedAt())

	stored, err := f.repo.GetByID(context.Background(), form.ID)
	require.NoError(t, err)
	assert.Equal(t, "formra_47165_001", stored.FormRef)

	f.s3.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
	f.snapshots.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestResubmissionKeepsReference(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)

	form := f.submit(t, f.draft(t, workflows.LTFT))
	ref := form.FormRef

	form, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:    form.ID,
		Variant:   workflows.LTFT,
		TraineeID: "47165",
		Target:    workflows.StateUnsubmitted,
		Detail:    &StatusDetail{Reason: "changePercentage"},
		Actor:     *traineeActor,
	})
	require.NoError(t, err)

	form = f.submit(t, form)

	assert.Equal(t, ref, form.FormRef)
	assert.Equal(t, 3, form.Revision)
	f.snapshots.AssertNumberOfCalls(t, "Save", 2)
}

func TestTransitionRejectsDisallowedTarget(t *testing.T) {
	f := newServiceFixture()
	form := f.draft(t, workflows.FormRPartB)

	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:  form.ID,
		Variant: workflows.FormRPartB,
		Target:  workflows.StateApproved,
		Actor:   *adminActor,
	})

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "status.current.state", validation.Field)
	assert.Equal(t, "can not be transitioned to APPROVED", validation.Message)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitionRequiresDetail(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)
	form := f.submit(t, f.draft(t, workflows.LTFT))

	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:  form.ID,
		Variant: workflows.LTFT,
		Target:  workflows.StateRejected,
		Actor:   *adminActor,
	})

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "status.current.detail", validation.Field)
}

func TestTraineeCannotApprove(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)
	form := f.submit(t, f.draft(t, workflows.LTFT))

	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:    form.ID,
		Variant:   workflows.LTFT,
		TraineeID: "47165",
		Target:    workflows.StateApproved,
		Actor:     *traineeActor,
	})

	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestTransitionScopedToTrainee(t *testing.T) {
	f := newServiceFixture()
	form := f.draft(t, workflows.FormRPartA)

	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:    form.ID,
		Variant:   workflows.FormRPartA,
		TraineeID: "99999",
		Target:    workflows.StateSubmitted,
		Actor:     *traineeActor,
	})
	assert.ErrorIs(t, err, ErrFormNotFound)

	_, err = f.service.Get(context.Background(), workflows.LTFT, form.ID, "")
	assert.ErrorIs(t, err, ErrFormNotFound, "variant must match")
}

func TestSideEffectFailuresDoNotFailTransition(t *testing.T) {
	f := newServiceFixture()
	f.s3.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("s3 down"))
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sns down"))

	form := f.submit(t, f.draft(t, workflows.FormRPartA))

	assert.Equal(t, workflows.StateSubmitted, form.LifecycleState())
}

type staleRepository struct {
	Repository
}

func (r staleRepository) Update(context.Context, *Form, int) error {
	return ErrConcurrentModification
}

func TestTransitionConcurrentModification(t *testing.T) {
	f := newServiceFixture()
	form := f.draft(t, workflows.FormRPartA)
	svc := NewService(staleRepository{f.repo}, nil, nil, f.publisher, nil, testTopics, zap.NewNop())

	_, err := svc.Transition(context.Background(), TransitionRequest{
		FormID:  form.ID,
		Variant: workflows.FormRPartA,
		Target:  workflows.StateSubmitted,
		Actor:   *traineeActor,
	})

	assert.ErrorIs(t, err, ErrConcurrentModification)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateDraft(t *testing.T) {
	f := newServiceFixture()
	f.s3.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	form := f.draft(t, workflows.FormRPartA)

	updated, err := f.service.UpdateDraft(context.Background(), workflows.FormRPartA, form.ID, "47165", datatypes.JSON(`{"forename":"Tony"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Revision)
	assert.JSONEq(t, `{"forename":"Tony"}`, string(updated.Content))

	f.submit(t, updated)
	_, err = f.service.UpdateDraft(context.Background(), workflows.FormRPartA, form.ID, "47165", datatypes.JSON(`{}`))
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestListForTraineeExcludesDeleted(t *testing.T) {
	f := newServiceFixture()
	f.s3.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	kept := f.draft(t, workflows.FormRPartB)
	deleted := f.submit(t, f.draft(t, workflows.FormRPartB))
	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:  deleted.ID,
		Variant: workflows.FormRPartB,
		Target:  workflows.StateDeleted,
		Actor:   *adminActor,
	})
	require.NoError(t, err)

	forms, err := f.service.ListForTrainee(context.Background(), "47165", workflows.FormRPartB)
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, kept.ID, forms[0].ID)
}

func TestAssignAdmin(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, "ltft-updated.fifo", mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, "ltft-assigned", mock.MatchedBy(func(msg notifications.Message) bool {
		return msg.Attributes["trigger"] == "assignment"
	})).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)
	form := f.submit(t, f.draft(t, workflows.LTFT))
	submittedAt := form.Status.SubmittedAt()

	caseWorker := Person{Name: "Case Worker", Email: "case.worker@example.com", Role: RoleAdmin}
	assigned, err := f.service.AssignAdmin(context.Background(), AssignRequest{
		FormID:  form.ID,
		Variant: workflows.LTFT,
		Admin:   caseWorker,
		Actor:   *adminActor,
	})
	require.NoError(t, err)

	assert.Equal(t, workflows.StateSubmitted, assigned.LifecycleState())
	assert.Equal(t, &caseWorker, assigned.Status.Current.AssignedAdmin)
	assert.Equal(t, submittedAt, assigned.Status.SubmittedAt(), "assignment is not a submission")
	f.publisher.AssertExpectations(t)

	_, err = f.service.AssignAdmin(context.Background(), AssignRequest{FormID: form.ID, Variant: workflows.FormRPartA})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestRenderPDF(t *testing.T) {
	f := newServiceFixture()
	form := f.draft(t, workflows.FormRPartA)

	reader, err := f.service.RenderPDF(context.Background(), workflows.FormRPartA, form.ID, "47165")
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(body[:5]))
}

func TestPublishUpdateWithoutTopic(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil, nil, notifications.NewSNSPublisher(nil, zap.NewNop()), nil, Topics{}, zap.NewNop())

	err := svc.PublishUpdate(context.Background(), &Form{ID: uuid.New(), Variant: workflows.LTFT}, "")

	assert.ErrorIs(t, err, notifications.ErrNoTopic)
}

func TestAssignAdminRejectsClosedForm(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)
	form := f.submit(t, f.draft(t, workflows.LTFT))

	_, err := f.service.Transition(context.Background(), TransitionRequest{
		FormID:  form.ID,
		Variant: workflows.LTFT,
		Target:  workflows.StateApproved,
		Actor:   *adminActor,
	})
	require.NoError(t, err)

	_, err = f.service.AssignAdmin(context.Background(), AssignRequest{
		FormID:  form.ID,
		Variant: workflows.LTFT,
		Admin:   Person{Email: "case.worker@example.com", Role: RoleAdmin},
		Actor:   *adminActor,
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, stateField, validation.Field)
}

func TestListByStatesPagesSubmittedForms(t *testing.T) {
	f := newServiceFixture()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.snapshots.On("Save", mock.Anything, mock.Anything).Return(nil)
	for range 3 {
		f.submit(t, f.draft(t, workflows.LTFT))
	}
	f.draft(t, workflows.LTFT)

	count, err := f.service.CountByStates(context.Background(), workflows.LTFT, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := f.service.ListByStates(context.Background(), workflows.LTFT, nil, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Content, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Size)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)

	page, err = f.service.ListByStates(context.Background(), workflows.LTFT, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.Size)
	assert.Len(t, page.Content, 3)

	count, err = f.service.CountByStates(context.Background(), workflows.LTFT, []workflows.LifecycleState{workflows.StateApproved})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListByStatesRejectsDrafts(t *testing.T) {
	f := newServiceFixture()
	var validation *ValidationError

	_, err := f.service.CountByStates(context.Background(), workflows.LTFT, []workflows.LifecycleState{workflows.StateDraft})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "state", validation.Field)

	_, err = f.service.ListByStates(context.Background(), workflows.LTFT, nil, -1, 10)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "page", validation.Field)
}

func TestGetFallsBackToArchive(t *testing.T) {
	f := newServiceFixture()
	archived := &Form{ID: uuid.New(), TraineeID: "47165", Variant: workflows.FormRPartB}
	archived.Status.RecordTransition(workflows.StateSubmitted, nil, traineeActor, 0)
	body, err := json.Marshal(archived)
	require.NoError(t, err)
	key := archiveKey("47165", workflows.FormRPartB, archived.ID)
	f.s3.On("Download", mock.Anything, "trainee-forms", key).Return(io.NopCloser(bytes.NewReader(body)), nil)

	got, err := f.service.Get(context.Background(), workflows.FormRPartB, archived.ID, "47165")
	require.NoError(t, err)
	assert.Equal(t, archived.ID, got.ID)
	assert.Equal(t, workflows.StateSubmitted, got.LifecycleState())

	_, err = f.service.Get(context.Background(), workflows.FormRPartB, archived.ID, "")
	assert.ErrorIs(t, err, ErrFormNotFound, "admins read the database only")

	_, err = f.service.Transition(context.Background(), TransitionRequest{
		FormID:    archived.ID,
		Variant:   workflows.FormRPartB,
		TraineeID: "47165",
		Target:    workflows.StateUnsubmitted,
		Detail:    &StatusDetail{Reason: "changes"},
		Actor:     *traineeActor,
	})
	assert.ErrorIs(t, err, ErrFormNotFound, "archived forms are read only")
	f.s3.AssertNumberOfCalls(t, "Download", 1)
}

func TestGetMissingFromArchive(t *testing.T) {
	f := newServiceFixture()
	f.s3.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil, storage.ErrObjectNotFound)

	_, err := f.service.Get(context.Background(), workflows.FormRPartA, uuid.New(), "47165")
	assert.ErrorIs(t, err, ErrFormNotFound)

	_, err = f.service.Get(context.Background(), workflows.LTFT, uuid.New(), "47165")
	assert.ErrorIs(t, err, ErrFormNotFound)
	f.s3.AssertNumberOfCalls(t, "Download", 1)
}
