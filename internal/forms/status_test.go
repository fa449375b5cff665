package forms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainee-forms/forms-backend/pkg/workflows"
)

var (
	traineeActor = &Person{Name: "Anthony Gilliam", Email: "anthony.gilliam@example.com", Role: RoleTrainee}
	adminActor   = &Person{Name: "Ad Min", Email: "ad.min@example.com", Role: RoleAdmin}
)

func TestRecordTransitionAppendsAndSetsCurrent(t *testing.T) {
	var status Status
	assert.Equal(t, workflows.StateNone, status.LifecycleState())

	status.RecordTransition(workflows.StateDraft, nil, traineeActor, 0)
	info := status.RecordTransition(workflows.StateSubmitted, nil, traineeActor, 1)

	require.Len(t, status.History, 2)
	assert.Equal(t, workflows.StateSubmitted, status.LifecycleState())
	assert.Equal(t, info, *status.Current)
	assert.Equal(t, info, status.History[1])
	assert.Equal(t, 1, status.Current.Revision)
	assert.Equal(t, time.UTC, status.Current.Timestamp.Location())
}

func TestRecordTransitionDoesNotMutateEarlierCopies(t *testing.T) {
	var status Status
	status.RecordTransition(workflows.StateDraft, nil, traineeActor, 0)
	before := status

	status.RecordTransition(workflows.StateSubmitted, nil, traineeActor, 1)
	status.Current.State = workflows.StateApproved

	assert.Len(t, before.History, 1)
	assert.Equal(t, workflows.StateDraft, before.Current.State)
	assert.Equal(t, workflows.StateSubmitted, status.History[1].State, "current is a copy of the last entry")
}

func TestAssignAdminRepeatsCurrentState(t *testing.T) {
	var status Status
	status.RecordTransition(workflows.StateDraft, nil, traineeActor, 0)
	status.RecordTransition(workflows.StateSubmitted, nil, traineeActor, 1)

	assigned := &Person{Name: "Case Worker", Email: "case.worker@example.com", Role: RoleAdmin}
	info := status.AssignAdmin(assigned, adminActor)

	assert.Equal(t, workflows.StateSubmitted, info.State)
	assert.Equal(t, 1, info.Revision)
	assert.Equal(t, assigned, info.AssignedAdmin)
	require.Len(t, status.History, 3)

	next := status.RecordTransition(workflows.StateApproved, nil, adminActor, 2)
	assert.Equal(t, assigned, next.AssignedAdmin, "assigned admin carries over")
}

func TestSubmittedAt(t *testing.T) {
	at := func(minute int) time.Time { return time.Date(2024, 5, 1, 10, minute, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		history []StatusInfo
		want    *time.Time
	}{
		{
			name: "empty history",
			want: nil,
		},
		{
			name:    "never submitted",
			history: []StatusInfo{{State: workflows.StateDraft, Timestamp: at(0)}},
			want:    nil,
		},
		{
			name: "single submission",
			history: []StatusInfo{
				{State: workflows.StateDraft, Timestamp: at(0), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(1), ModifiedBy: traineeActor},
			},
			want: ptr(at(1)),
		},
		{
			name: "resubmission wins",
			history: []StatusInfo{
				{State: workflows.StateDraft, Timestamp: at(0), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(1), ModifiedBy: traineeActor},
				{State: workflows.StateUnsubmitted, Timestamp: at(2), ModifiedBy: adminActor},
				{State: workflows.StateSubmitted, Timestamp: at(3), ModifiedBy: traineeActor},
			},
			want: ptr(at(3)),
		},
		{
			name: "admin assignment after submission is ignored",
			history: []StatusInfo{
				{State: workflows.StateDraft, Timestamp: at(0), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(1), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(5), ModifiedBy: adminActor, AssignedAdmin: adminActor},
			},
			want: ptr(at(1)),
		},
		{
			name: "admin assignment after resubmission is ignored",
			history: []StatusInfo{
				{State: workflows.StateSubmitted, Timestamp: at(1), ModifiedBy: traineeActor},
				{State: workflows.StateUnsubmitted, Timestamp: at(2), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(3), ModifiedBy: traineeActor},
				{State: workflows.StateSubmitted, Timestamp: at(4), ModifiedBy: adminActor},
			},
			want: ptr(at(3)),
		},
		{
			name: "unknown actor counts",
			history: []StatusInfo{
				{State: workflows.StateDraft, Timestamp: at(0)},
				{State: workflows.StateSubmitted, Timestamp: at(2)},
			},
			want: ptr(at(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := Status{History: tt.history}
			assert.Equal(t, tt.want, status.SubmittedAt())
		})
	}
}

func TestStatusJSONIncludesSubmitted(t *testing.T) {
	var status Status
	status.RecordTransition(workflows.StateDraft, nil, traineeActor, 0)
	status.RecordTransition(workflows.StateSubmitted, nil, traineeActor, 1)

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "submitted")
	assert.Contains(t, raw, "current")
	assert.Len(t, raw["history"], 2)

	var decoded Status
	require.NoError(t, decoded.Scan(data))
	assert.Equal(t, workflows.StateSubmitted, decoded.LifecycleState())
	assert.Len(t, decoded.History, 2)
}

func TestStatusScanRejectsUnknownType(t *testing.T) {
	var status Status
	assert.Error(t, status.Scan(42))
	assert.NoError(t, status.Scan(nil))
}

func ptr(t time.Time) *time.Time {
	return &t
}
