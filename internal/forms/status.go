package forms

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"trainee-forms/forms-backend/pkg/workflows"
)

// StatusInfo is a single audited status change.
type StatusInfo struct {
	State         workflows.LifecycleState `json:"state"`
	Detail        *StatusDetail            `json:"detail,omitempty"`
	AssignedAdmin *Person                  `json:"assignedAdmin,omitempty"`
	ModifiedBy    *Person                  `json:"modifiedBy,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
	Revision      int                      `json:"revision"`
}

// Status is the append-only status history of a form. Current is always a
// copy of the last History entry.
type Status struct {
	Current *StatusInfo
	History []StatusInfo
}

// RecordTransition appends a new status entry and makes it current. The
// transition must already have been validated by the caller, and revision is
// the form's next revision.
func (s *Status) RecordTransition(state workflows.LifecycleState, detail *StatusDetail, modifiedBy *Person, revision int) StatusInfo {
	info := StatusInfo{
		State:      state,
		Detail:     detail,
		ModifiedBy: modifiedBy,
		Timestamp:  time.Now().UTC(),
		Revision:   revision,
	}
	if s.Current != nil {
		info.AssignedAdmin = s.Current.AssignedAdmin
	}
	s.appendInfo(info)
	return info
}

// AssignAdmin appends an entry that repeats the current state with a new
// assigned admin.
func (s *Status) AssignAdmin(admin *Person, modifiedBy *Person) StatusInfo {
	info := StatusInfo{
		AssignedAdmin: admin,
		ModifiedBy:    modifiedBy,
		Timestamp:     time.Now().UTC(),
	}
	if s.Current != nil {
		info.State = s.Current.State
		info.Detail = s.Current.Detail
		info.Revision = s.Current.Revision
	}
	s.appendInfo(info)
	return info
}

// appendInfo copies the history so earlier Status values sharing the backing
// array never observe the new entry.
func (s *Status) appendInfo(info StatusInfo) {
	history := make([]StatusInfo, len(s.History), len(s.History)+1)
	copy(history, s.History)
	s.History = append(history, info)
	current := info
	s.Current = &current
}

// LifecycleState returns the current state, or StateNone for a new form.
func (s *Status) LifecycleState() workflows.LifecycleState {
	if s == nil || s.Current == nil {
		return workflows.StateNone
	}
	return s.Current.State
}

// SubmittedAt returns the time of the latest submission, nil if the form has
// never been submitted.
//
// Admin entries that repeat an already SUBMITTED state (such as assigning an
// admin) are not submissions and are skipped.
func (s *Status) SubmittedAt() *time.Time {
	if s == nil {
		return nil
	}
	var latest *time.Time
	for i := range s.History {
		info := s.History[i]
		if info.State != workflows.StateSubmitted || s.isAdminSideEffect(i) {
			continue
		}
		if latest == nil || info.Timestamp.After(*latest) {
			ts := info.Timestamp
			latest = &ts
		}
	}
	return latest
}

func (s *Status) isAdminSideEffect(i int) bool {
	if i == 0 {
		return false
	}
	info := s.History[i]
	return s.History[i-1].State == info.State &&
		info.ModifiedBy != nil && info.ModifiedBy.Role == RoleAdmin
}

type statusJSON struct {
	Current   *StatusInfo  `json:"current"`
	Submitted *time.Time   `json:"submitted,omitempty"`
	History   []StatusInfo `json:"history"`
}

// MarshalJSON includes the derived submitted timestamp for consumers.
func (s Status) MarshalJSON() ([]byte, error) {
	history := s.History
	if history == nil {
		history = []StatusInfo{}
	}
	return json.Marshal(statusJSON{
		Current:   s.Current,
		Submitted: s.SubmittedAt(),
		History:   history,
	})
}

// UnmarshalJSON ignores the stored submitted timestamp; it is always derived.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.History = raw.History
	s.Current = nil
	if n := len(raw.History); n > 0 {
		current := raw.History[n-1]
		s.Current = &current
	} else if raw.Current != nil {
		s.Current = raw.Current
	}
	return nil
}

// Value stores the status as a jsonb column.
func (s Status) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan reads the status from a jsonb column.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Status{}
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported status column type %T", src)
	}
}
