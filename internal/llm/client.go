package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Roles accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a minimal chat message used by the diagnostic client.
// Role must be one of: "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Image is attached to the last user message of a request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a provider-neutral completion request.  When Schema is set the
// provider is asked to answer with a single JSON object of that shape.
type Request struct {
	System     string
	Messages   []Message
	Image      *Image
	Schema     *jsonschema.Definition
	SchemaName string
}

// Stream yields text increments.  It is lazy, finite and cannot be
// restarted: Recv returns io.EOF once the upstream session is finished.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client defines the methods required by the diagnostic client.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Options configures a provider client.
type Options struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// New returns the client for opts.Provider.
func New(opts Options) (Client, error) {
	switch opts.Provider {
	case "openai", "":
		return NewOpenAIClient(opts), nil
	case "anthropic":
		return NewAnthropicClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// lastUserIndex returns the index of the message an image should be attached
// to, or -1 if there is no user message.
func lastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
