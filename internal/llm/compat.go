package llm

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// Compat is a backend speaking the OpenAI chat completions API.
type Compat struct {
	name   string
	model  string
	tools  bool
	client openai.Client
}

// NewCompat builds a chat completions client. baseURL may be empty for the
// SDK default endpoint.
func NewCompat(name string, tools bool, opts Options, extra ...option.RequestOption) *Compat {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	reqOpts = append(reqOpts, extra...)

	return &Compat{
		name:   name,
		model:  opts.Model,
		tools:  tools,
		client: openai.NewClient(reqOpts...),
	}
}

func (c *Compat) Name() string        { return c.name }
func (c *Compat) Model() string       { return c.model }
func (c *Compat) SupportsTools() bool { return c.tools }

func (c *Compat) Chat(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toMessages(req),
	}

	if c.tools && len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: param.NewOpt("auto"),
		}
	}

	if req.JSONOnly {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("%s chat completion: %w", c.name, err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: no choices: %w", c.name, ErrEmptyResponse)
	}

	msg := resp.Choices[0].Message
	out := Response{Content: msg.Content}

	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: DecodeArguments(tc.Function.Arguments),
		})
	}

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return Response{}, fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}

	log.Debug("Model answered", "backend", c.name, "model", model, "tool_calls", len(out.ToolCalls))

	return out, nil
}

func toMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return msgs
}

func toTools(specs []ToolSpec) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        s.Name,
					Description: param.NewOpt(s.Description),
					Parameters:  shared.FunctionParameters(params),
				},
			},
		})
	}
	return tools
}

// DecodeArguments parses tool call arguments, repairing sloppy JSON. It
// never returns nil.
func DecodeArguments(raw string) map[string]any {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}

	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		// "null" resets the map
		if args == nil {
			args = map[string]any{}
		}
		return args
	}

	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		log.Warn("Unparseable tool arguments", "raw", raw, "err", err)
		return map[string]any{}
	}

	args = map[string]any{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		log.Warn("Unparseable tool arguments", "raw", raw, "err", err)
		return map[string]any{}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
