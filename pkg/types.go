package pkg

// CaseStatus describes where a case sits in the review workflow.  Cases move
// Pending -> Analyzed -> In Review and never skip Analyzed.
type CaseStatus string

const (
	StatusPending  CaseStatus = "Pending"
	StatusAnalyzed CaseStatus = "Analyzed"
	StatusInReview CaseStatus = "In Review"
)

// Diagnosis is the binary label returned by the diagnostic model.
type Diagnosis string

const (
	DiagnosisMalignant Diagnosis = "Malignant"
	DiagnosisBenign    Diagnosis = "Benign"
)

// MessageRole describes who authored a chat message.  In the follow-up chat
// there are only two roles: the radiologist and the model.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleModel MessageRole = "model"
)

// GradCamRegion is a normalised circle (0,0 is the top-left corner) marking
// the area the model attended to.  It is only used for overlay rendering.
type GradCamRegion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// AnalysisResult is the structured report returned by the diagnostic model.
// It is never modified after it has been attached to a case.
type AnalysisResult struct {
	Diagnosis       Diagnosis     `json:"diagnosis"`
	Confidence      float64       `json:"confidence"`
	LimeExplanation string        `json:"limeExplanation"`
	ShapExplanation []string      `json:"shapExplanation"`
	GradCamRegion   GradCamRegion `json:"gradCamRegion"`
}

// ChatMessage is one turn of the follow-up conversation attached to a case.
type ChatMessage struct {
	Role MessageRole `json:"role"`
	Text string      `json:"text"`
}

// PatientCase is one uploaded study.  ImageFile and ImageMIME hold the raw
// upload for the current process only and are never serialised.
type PatientCase struct {
	ID             string          `json:"id"`
	PatientID      string          `json:"patientId"`
	Date           string          `json:"date"`
	Status         CaseStatus      `json:"status"`
	ImageFile      []byte          `json:"-"`
	ImageMIME      string          `json:"-"`
	PreviewURL     string          `json:"previewUrl,omitempty"`
	AnalysisResult *AnalysisResult `json:"analysisResult,omitempty"`
	ChatHistory    []ChatMessage   `json:"chatHistory"`
	Notes          string          `json:"notes"`
}

// Clone returns a copy that shares no slices with c, so callers can hand it
// out without exposing the store's internal state.
func (c *PatientCase) Clone() *PatientCase {
	if c == nil {
		return nil
	}
	out := *c
	if c.ImageFile != nil {
		out.ImageFile = append([]byte(nil), c.ImageFile...)
	}
	out.ChatHistory = append([]ChatMessage{}, c.ChatHistory...)
	if c.AnalysisResult != nil {
		r := *c.AnalysisResult
		r.ShapExplanation = append([]string(nil), c.AnalysisResult.ShapExplanation...)
		out.AnalysisResult = &r
	}
	return &out
}

// User is the logged-in radiologist.  It lives only as long as the browser
// session that created it.
type User struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Specialization string `json:"specialization"`
}

// CreateCaseResponse is returned after an upload has been assigned to a
// patient.
type CreateCaseResponse struct {
	Case     *PatientCase `json:"case"`
	Selected string       `json:"selected"`
}

// NotesRequest carries the radiologist's free-text notes for a case.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// ChatRequest represents a follow-up question from the radiologist.
type ChatRequest struct {
	Text string `json:"text"`
}
