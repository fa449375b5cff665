package jobs

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trainee-forms/forms-backend/internal/forms"
	"trainee-forms/forms-backend/pkg/workflows"
)

// RefreshTrigger marks notifications sent by a refresh run.
const RefreshTrigger = "refresh"

// Job is a named refresh of one form variant.
type Job struct {
	Name    string
	Variant workflows.FormVariant
	States  []workflows.LifecycleState
}

// LockName is the lock a run of the job must hold.
func (j Job) LockName() string {
	return j.Name + ".execute"
}

// formRRefreshStates are the Form-R states downstream systems keep a copy of.
var formRRefreshStates = []workflows.LifecycleState{
	workflows.StateSubmitted,
	workflows.StateUnsubmitted,
	workflows.StateDeleted,
}

// DefaultJobs returns the refresh job of every form variant.
func DefaultJobs() []Job {
	return []Job{
		{Name: "formr-parta", Variant: workflows.FormRPartA, States: formRRefreshStates},
		{Name: "formr-partb", Variant: workflows.FormRPartB, States: formRRefreshStates},
		{Name: "ltft", Variant: workflows.LTFT, States: workflows.NonDraftStates},
	}
}

// Runner executes refresh jobs against the form store.
type Runner struct {
	repo     forms.Repository
	service  forms.Service
	pageSize int
	logger   *zap.Logger
}

func NewRunner(repo forms.Repository, service forms.Service, pageSize int, logger *zap.Logger) *Runner {
	return &Runner{repo: repo, service: service, pageSize: pageSize, logger: logger}
}

// Run streams the job's forms and republishes each one.
func (r *Runner) Run(ctx context.Context, job Job) (RefreshResult, error) {
	states := slices.DeleteFunc(slices.Clone(job.States), func(s workflows.LifecycleState) bool {
		return s == workflows.StateDraft
	})

	return PublishRefresh(ctx, r.logger, job.Name,
		func(f *forms.Form) uuid.UUID { return f.ID },
		r.repo.StreamByStates(ctx, job.Variant, states, r.pageSize),
		func(ctx context.Context, f *forms.Form) error {
			return r.service.PublishUpdate(ctx, f, RefreshTrigger)
		},
	)
}
