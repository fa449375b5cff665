package forms

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"trainee-forms/forms-backend/pkg/pdf"
	"trainee-forms/forms-backend/pkg/workflows"
)

var formTitles = map[workflows.FormVariant]string{
	workflows.FormRPartA: "Form R (Part A)",
	workflows.FormRPartB: "Form R (Part B)",
	workflows.LTFT:       "Changing hours (LTFT)",
}

const pdfTimeFormat = "2006-01-02 15:04 MST"

// summaryDocument lays out a form for PDF rendering: a status summary, the
// audit history and the top-level content fields in name order.
func summaryDocument(form *Form) (pdf.Document, error) {
	title, ok := formTitles[form.Variant]
	if !ok {
		title = string(form.Variant)
	}

	submitted := "Not submitted"
	if at := form.Status.SubmittedAt(); at != nil {
		submitted = at.Format(pdfTimeFormat)
	}
	summary := pdf.Section{
		Heading: "Summary",
		Rows: []pdf.Row{
			{Label: "Reference", Value: orDash(form.FormRef)},
			{Label: "Trainee", Value: form.TraineeID},
			{Label: "Status", Value: string(form.LifecycleState())},
			{Label: "Submitted", Value: submitted},
			{Label: "Last modified", Value: form.LastModified.Format(pdfTimeFormat)},
		},
	}
	if current := form.Status.Current; current != nil && current.AssignedAdmin != nil {
		summary.Rows = append(summary.Rows, pdf.Row{Label: "Assigned admin", Value: current.AssignedAdmin.Name})
	}

	history := pdf.Section{Heading: "History"}
	for _, info := range form.Status.History {
		value := string(info.State)
		if info.ModifiedBy != nil && info.ModifiedBy.Name != "" {
			value += " by " + info.ModifiedBy.Name
		}
		if info.Detail != nil && info.Detail.Reason != "" {
			value += " (" + info.Detail.Reason + ")"
		}
		history.Rows = append(history.Rows, pdf.Row{Label: info.Timestamp.Format(pdfTimeFormat), Value: value})
	}

	content, err := contentSection(form)
	if err != nil {
		return pdf.Document{}, err
	}

	return pdf.Document{
		Title:    title,
		Subtitle: form.FormRef,
		Sections: []pdf.Section{summary, history, content},
	}, nil
}

func contentSection(form *Form) (pdf.Section, error) {
	section := pdf.Section{Heading: "Form details"}
	if len(form.Content) == 0 {
		return section, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(form.Content, &fields); err != nil {
		return section, fmt.Errorf("decode content of form %s: %w", form.ID, err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		section.Rows = append(section.Rows, pdf.Row{Label: name, Value: formatValue(fields[name])})
	}
	return section, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.Format(time.DateOnly)
		}
		return orDash(val)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
