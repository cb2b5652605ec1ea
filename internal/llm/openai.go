package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the OpenAI chat completion API.  Images travel as
// base64 data URLs inside a multi-part user message.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient constructs an OpenAI-backed client.
func NewOpenAIClient(opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: opts.MaxTokens,
	}
}

// Complete sends the request and returns the assistant's full response.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in OpenAI response")
	}
	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(resp.Choices[0].Message.Content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	if c.client == nil {
		return nil, errors.New("openai client not initialized")
	}
	oaReq := c.buildRequest(req)
	oaReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, oaReq)
	if err != nil {
		log.Printf("llm openai stream error: %v", err)
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	imageAt := -1
	if req.Image != nil {
		imageAt = lastUserIndex(req.Messages)
	}
	for i, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		if i == imageAt {
			oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{
				Role: role,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(req.Image),
							Detail: openai.ImageURLDetailAuto,
						},
					},
					{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				},
			})
			continue
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: 0.2,
		MaxTokens:   c.maxTokens,
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
			},
		}
	}
	return out
}

func dataURL(img *Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
