package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trainee-forms/forms-backend/pkg/storage"
	"trainee-forms/forms-backend/pkg/workflows"
)

var archiveTypes = map[workflows.FormVariant]string{
	workflows.FormRPartA: "formr-a",
	workflows.FormRPartB: "formr-b",
}

// Archiver copies Form-R forms to S3 as JSON objects for downstream
// document services.
type Archiver struct {
	s3     storage.S3Client
	bucket string
}

func NewArchiver(s3 storage.S3Client, bucket string) *Archiver {
	return &Archiver{s3: s3, bucket: bucket}
}

// ArchiveKey is the object key of an archived form.
func ArchiveKey(form *Form) string {
	return archiveKey(form.TraineeID, form.Variant, form.ID)
}

func archiveKey(traineeID string, variant workflows.FormVariant, id uuid.UUID) string {
	return fmt.Sprintf("%s/forms/%s/%s.json", traineeID, archiveTypes[variant], id)
}

// Archive uploads the form. Variants without an archive type are skipped.
func (a *Archiver) Archive(ctx context.Context, form *Form) error {
	formType, ok := archiveTypes[form.Variant]
	if !ok {
		return nil
	}

	body, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("marshal form %s: %w", form.ID, err)
	}

	metadata := map[string]string{
		"id":             form.ID.String(),
		"name":           form.ID.String() + ".json",
		"type":           "json",
		"formtype":       formType,
		"lifecyclestate": string(form.LifecycleState()),
		"traineeid":      form.TraineeID,
	}
	if submitted := form.Status.SubmittedAt(); submitted != nil {
		metadata["submissiondate"] = submitted.Format(time.DateOnly)
	}

	return a.s3.Upload(ctx, a.bucket, ArchiveKey(form), bytes.NewReader(body), metadata)
}

// Restore reads an archived form back. It returns ErrFormNotFound when the
// trainee has no archived form with that id.
func (a *Archiver) Restore(ctx context.Context, traineeID string, variant workflows.FormVariant, id uuid.UUID) (*Form, error) {
	if _, ok := archiveTypes[variant]; !ok {
		return nil, ErrFormNotFound
	}

	body, err := a.s3.Download(ctx, a.bucket, archiveKey(traineeID, variant, id))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var form Form
	if err := json.NewDecoder(body).Decode(&form); err != nil {
		return nil, fmt.Errorf("decode archived form %s: %w", id, err)
	}
	if form.ID != id || form.TraineeID != traineeID || form.Variant != variant {
		return nil, ErrFormNotFound
	}
	return &form, nil
}
