package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient calls the Anthropic Messages API.  There is no native
// response schema, so the schema is appended to the system prompt and the
// caller parses the reply.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient constructs an Anthropic-backed client.
func NewAnthropicClient(opts Options) *AnthropicClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: maxTokens,
	}
}

// Complete sends the request and returns the first text block of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return "", err
	}
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

// Stream opens a streaming message.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Stream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{stream: c.client.Messages.NewStreaming(ctx, params)}, nil
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	system, err := anthropicSystemPrompt(req)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	imageAt := -1
	if req.Image != nil {
		imageAt = lastUserIndex(req.Messages)
	}
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for i, m := range req.Messages {
		blocks := []anthropic.ContentBlockParamUnion{}
		if i == imageAt {
			blocks = append(blocks, anthropic.NewImageBlockBase64(req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data)))
		}
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

// anthropicSystemPrompt folds the response schema into the system prompt.
func anthropicSystemPrompt(req Request) (string, error) {
	if req.Schema == nil {
		return req.System, nil
	}
	schema, err := json.Marshal(req.Schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	prompt := "Respond with a single JSON object only (no markdown) that matches this JSON schema:\n" + string(schema)
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	return prompt, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return delta.Text, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
