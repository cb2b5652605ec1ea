package http

import (
	"fmt"

	"mammo-assist/pkg"
)

// Overlay positions the Grad-CAM circle over the image.  Values are CSS
// percentages of the image box; Left and Top address the circle's centre.
type Overlay struct {
	Left     string `json:"left"`
	Top      string `json:"top"`
	Diameter string `json:"diameter"`
}

// Feature is one ranked SHAP feature, ranks starting at 1.
type Feature struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// CaseView is everything the templates need to render a case.  It is derived
// from the case alone.
type CaseView struct {
	ID         string `json:"id"`
	PatientID  string `json:"patientId"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	PreviewURL string `json:"previewUrl,omitempty"`

	HasResult     bool      `json:"hasResult"`
	Diagnosis     string    `json:"diagnosis,omitempty"`
	Malignant     bool      `json:"malignant"`
	Confidence    string    `json:"confidence,omitempty"`
	Lime          string    `json:"lime,omitempty"`
	Features      []Feature `json:"features,omitempty"`
	Overlay       *Overlay  `json:"overlay,omitempty"`
	Notes         string    `json:"notes"`
	NotesEditable bool      `json:"notesEditable"`
	ChatEnabled   bool      `json:"chatEnabled"`

	Chat []pkg.ChatMessage `json:"chat"`

	// PendingText is shown instead of the report while there is no result.
	PendingText string `json:"pendingText,omitempty"`
	// NotesText is the read-only rendering of Notes.
	NotesText string `json:"notesText"`
}

// presentCase builds the radiologist's view of c.
func presentCase(c *pkg.PatientCase) CaseView {
	v := CaseView{
		ID:         c.ID,
		PatientID:  c.PatientID,
		Date:       c.Date,
		Status:     string(c.Status),
		PreviewURL: c.PreviewURL,
		Notes:      c.Notes,
		NotesText:  c.Notes,
		Chat:       c.ChatHistory,
	}
	if v.Chat == nil {
		v.Chat = []pkg.ChatMessage{}
	}
	r := c.AnalysisResult
	if r == nil {
		v.PendingText = `Pending analysis. Click "Analyze Image" to generate the report.`
		return v
	}
	v.HasResult = true
	v.Diagnosis = string(r.Diagnosis)
	v.Malignant = r.Diagnosis == pkg.DiagnosisMalignant
	v.Confidence = fmt.Sprintf("%.1f%%", r.Confidence*100)
	v.Lime = r.LimeExplanation
	for i, f := range r.ShapExplanation {
		v.Features = append(v.Features, Feature{Rank: i + 1, Name: f})
	}
	v.Overlay = &Overlay{
		Left:     percent(r.GradCamRegion.X),
		Top:      percent(r.GradCamRegion.Y),
		Diameter: percent(2 * r.GradCamRegion.R),
	}
	v.NotesEditable = true
	v.ChatEnabled = true
	return v
}

// presentPatientCase is the patient-facing variant: confidence and SHAP
// ranking are hidden, notes are read-only and chat is off.
func presentPatientCase(c *pkg.PatientCase) CaseView {
	v := presentCase(c)
	v.Confidence = ""
	v.Features = nil
	v.NotesEditable = false
	v.ChatEnabled = false
	if !v.HasResult {
		v.PendingText = "Your report is not yet available."
	}
	if v.NotesText == "" {
		v.NotesText = "No notes available."
	}
	return v
}

func percent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
