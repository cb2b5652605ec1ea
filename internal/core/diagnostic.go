package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"mammo-assist/internal/llm"
	"mammo-assist/pkg"
)

// Diagnoser is what the case store needs from the diagnostic model.
type Diagnoser interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*pkg.AnalysisResult, error)
	StartFollowUp(ctx context.Context, result pkg.AnalysisResult, history []pkg.ChatMessage, text string) (llm.Stream, error)
}

// Diagnostician turns an image into an AnalysisResult and opens follow-up
// conversations about it.  All intelligence lives behind the LLM client.
type Diagnostician struct {
	LLM llm.Client
}

// NewDiagnostician constructs a Diagnostician with the given LLM client.
func NewDiagnostician(client llm.Client) *Diagnostician {
	return &Diagnostician{LLM: client}
}

// AnalysisSchema is the response shape declared to the model.
var AnalysisSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"diagnosis":       {Type: jsonschema.String, Enum: []string{string(pkg.DiagnosisMalignant), string(pkg.DiagnosisBenign)}},
		"confidence":      {Type: jsonschema.Number},
		"limeExplanation": {Type: jsonschema.String},
		"shapExplanation": {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
		"gradCamRegion": {
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"x": {Type: jsonschema.Number},
				"y": {Type: jsonschema.Number},
				"r": {Type: jsonschema.Number},
			},
			Required: []string{"x", "y", "r"},
		},
	},
	Required: []string{"diagnosis", "confidence", "limeExplanation", "shapExplanation", "gradCamRegion"},
}

// Analyze sends the image with the fixed instruction prompt and parses the
// reply.  No partial result is ever returned: the caller either gets a
// complete result or an error wrapping ErrUpstream or ErrIncompleteResult.
func (d *Diagnostician) Analyze(ctx context.Context, image []byte, mimeType string) (*pkg.AnalysisResult, error) {
	if len(image) == 0 {
		return nil, ErrNoImage
	}
	resp, err := d.LLM.Complete(ctx, llm.Request{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: AnalysisPrompt}},
		Image:      &llm.Image{Data: image, MIMEType: mimeType},
		Schema:     &AnalysisSchema,
		SchemaName: "analysis_result",
	})
	if err != nil {
		log.Printf("diagnostic analyze mime=%s size=%d err=%v", mimeType, len(image), err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	result, err := ParseAnalysis(resp)
	if err != nil {
		log.Printf("diagnostic analyze mime=%s size=%d parse err=%v", mimeType, len(image), err)
		return nil, err
	}
	log.Printf("diagnostic analyze diagnosis=%s confidence=%.4f", result.Diagnosis, result.Confidence)
	return result, nil
}

// StartFollowUp opens a conversation seeded with the analysis result and the
// prior history, sends text and returns the reply as a stream.
func (d *Diagnostician) StartFollowUp(ctx context.Context, result pkg.AnalysisResult, history []pkg.ChatMessage, text string) (llm.Stream, error) {
	msgs, err := FollowUpMessages(result, history, text)
	if err != nil {
		return nil, err
	}
	stream, err := d.LLM.Stream(ctx, llm.Request{System: FollowUpSystemPrompt, Messages: msgs})
	if err != nil {
		log.Printf("diagnostic follow-up history=%d err=%v", len(history), err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return stream, nil
}

// FollowUpMessages builds the conversation: a user turn embedding the
// result, a model acknowledgement, the real history, then the new message.
func FollowUpMessages(result pkg.AnalysisResult, history []pkg.ChatMessage, text string) ([]llm.Message, error) {
	contextJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis context: %w", err)
	}
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleUser, Content: FollowUpContextPrefix + string(contextJSON) + FollowUpContextSuffix},
		llm.Message{Role: llm.RoleAssistant, Content: FollowUpAcknowledgement},
	)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == pkg.RoleModel {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
	return msgs, nil
}

type rawRegion struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	R *float64 `json:"r"`
}

type rawAnalysis struct {
	Diagnosis       string     `json:"diagnosis"`
	Confidence      *float64   `json:"confidence"`
	LimeExplanation string     `json:"limeExplanation"`
	ShapExplanation []string   `json:"shapExplanation"`
	GradCamRegion   *rawRegion `json:"gradCamRegion"`
}

// ParseAnalysis decodes the model's reply.  Values outside their nominal
// ranges are passed through untouched; only presence is checked.
func ParseAnalysis(text string) (*pkg.AnalysisResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing analysis response: %v", ErrUpstream, err)
	}
	var missing []string
	if strings.TrimSpace(raw.Diagnosis) == "" {
		missing = append(missing, "diagnosis")
	}
	if raw.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if raw.GradCamRegion == nil || raw.GradCamRegion.X == nil || raw.GradCamRegion.Y == nil || raw.GradCamRegion.R == nil {
		missing = append(missing, "gradCamRegion")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteResult, strings.Join(missing, ", "))
	}
	shap := raw.ShapExplanation
	if shap == nil {
		shap = []string{}
	}
	return &pkg.AnalysisResult{
		Diagnosis:       pkg.Diagnosis(raw.Diagnosis),
		Confidence:      *raw.Confidence,
		LimeExplanation: raw.LimeExplanation,
		ShapExplanation: shap,
		GradCamRegion: pkg.GradCamRegion{
			X: *raw.GradCamRegion.X,
			Y: *raw.GradCamRegion.Y,
			R: *raw.GradCamRegion.R,
		},
	}, nil
}
