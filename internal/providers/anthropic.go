package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicProvider talks to the Messages API through the official SDK
// instead of hand-rolled HTTP, so retries, SSE framing, and request
// signing all come from the client library.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures an AnthropicProvider. APIKey and AuthToken are
// mutually exclusive: AuthToken (a Claude subscription OAuth token) is sent
// as a Bearer header instead of x-api-key.
type AnthropicConfig struct {
	APIKey    string
	AuthToken func() (string, error)
	BaseURL   string
	Model     string
	MaxTokens int64
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	var opts []option.RequestOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.AuthToken != nil:
		opts = append(opts, option.WithMiddleware(oauthBearerMiddleware(cfg.AuthToken)))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(p.Name(), p.modelOf(req), err)
	}
	out := parseAnthropicResponse(resp)
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, NewError(ErrEmptyResponse, p.Name(), p.modelOf(req), nil)
	}
	return out, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, classifyAnthropicErr(p.Name(), p.modelOf(req), err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onChunk(StreamChunk{Content: delta.Text})
			case anthropic.ThinkingDelta:
				onChunk(StreamChunk{Thinking: delta.Thinking})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicErr(p.Name(), p.modelOf(req), err)
	}
	onChunk(StreamChunk{Done: true})

	out := parseAnthropicResponse(&acc)
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, NewError(ErrEmptyResponse, p.Name(), p.modelOf(req), nil)
	}
	return out, nil
}

func (p *AnthropicProvider) modelOf(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *AnthropicProvider) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "user":
			if m.ToolCallID != "" {
				messages = append(messages, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
			} else {
				messages = append(messages, anthropic.NewUserMessage(userContentBlocks(m)...))
			}
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(assistantContentBlocks(m)...))
		case "tool":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	maxTokens := p.maxTokens
	if v, ok := req.Options["max_tokens"].(int); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelOf(req)),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if t, ok := req.Options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(t)
	}
	if len(req.Tools) > 0 {
		params.Tools = translateToolsForAnthropic(req.Tools)
	}
	return params, nil
}

func userContentBlocks(m Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, img := range m.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
	}
	if m.Content != "" || len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	return blocks
}

func assistantContentBlocks(m Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return blocks
}

func translateToolsForAnthropic(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Function.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Function.Parameters["properties"],
			},
		}
		if t.Function.Description != "" {
			tool.Description = anthropic.String(t.Function.Description)
		}
		if req, ok := t.Function.Parameters["required"].([]interface{}); ok {
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			tool.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func parseAnthropicResponse(resp *anthropic.Message) *ChatResponse {
	var content string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]interface{}
			if err := json.Unmarshal(tu.Input, &args); err != nil {
				args = map[string]interface{}{"raw": string(tu.Input)}
			}
			toolCalls = append(toolCalls, ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	finish := "stop"
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		finish = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		finish = "length"
	}

	return &ChatResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: &Usage{
			PromptTokens:        int(resp.Usage.InputTokens),
			CompletionTokens:    int(resp.Usage.OutputTokens),
			TotalTokens:         int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}
}

func classifyAnthropicErr(provider, model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return NewError(ErrAuth, provider, model, err)
		case 429:
			return NewError(ErrRateLimit, provider, model, err)
		case 400, 422:
			return NewError(ErrBadRequest, provider, model, err)
		case 408:
			return NewError(ErrTimeout, provider, model, err)
		case 500, 502, 503, 504:
			return NewError(ErrUnavailable, provider, model, err)
		}
	}
	return NewError(ErrUnavailable, provider, model, err)
}
