// Package llm talks to chat model backends. Every supported provider speaks
// the OpenAI chat completions dialect and differs only in endpoint, key and
// default model.
package llm

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrEmptyResponse   = errors.New("empty response")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// ToolSpec describes a function the model may call. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
	// JSONOnly asks the backend for a bare JSON object.
	JSONOnly bool
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Backend answers chat requests.
type Backend interface {
	Name() string
	// Model is the model used when a request leaves it empty.
	Model() string
	// SupportsTools reports whether the backend honours Request.Tools.
	SupportsTools() bool
	Chat(ctx context.Context, req Request) (Response, error)
}

// Options configure a backend instance.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}
