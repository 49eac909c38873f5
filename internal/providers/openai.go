package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat-completions
// APIs (OpenAI itself, plus Groq/OpenRouter/DeepSeek/vLLM-style endpoints
// that speak the same wire format at a different base URL).
type OpenAIProvider struct {
	name         string
	client       openai.Client
	defaultModel string
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIProvider{
		name:         name,
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) modelOf(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIErr(p.Name(), p.modelOf(req), err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ErrEmptyResponse, p.Name(), p.modelOf(req), nil)
	}
	return parseOpenAIResponse(resp), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onChunk(StreamChunk{Content: choice.Delta.Content})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyOpenAIErr(p.Name(), p.modelOf(req), err)
	}
	onChunk(StreamChunk{Done: true})

	if len(acc.Choices) == 0 {
		return nil, NewError(ErrEmptyResponse, p.Name(), p.modelOf(req), nil)
	}
	return parseOpenAIResponse(&acc.ChatCompletion), nil
}

func (p *OpenAIProvider) buildParams(req ChatRequest) (openai.ChatCompletionNewParams, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "assistant":
			msg := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				},
			}
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case "tool":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.modelOf(req)),
		Messages: messages,
	}
	if mt, ok := req.Options["max_tokens"].(int); ok && mt > 0 {
		params.MaxTokens = openai.Int(int64(mt))
	}
	if t, ok := req.Options["temperature"].(float64); ok {
		params.Temperature = openai.Float(t)
	}
	if len(req.Tools) > 0 {
		params.Tools = translateToolsForOpenAI(req.Tools)
	}
	return params, nil
}

func translateToolsForOpenAI(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  t.Function.Parameters,
		}))
	}
	return out
}

func parseOpenAIResponse(resp *openai.ChatCompletion) *ChatResponse {
	choice := resp.Choices[0]
	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"raw": tc.Function.Arguments}
		}
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	finish := "stop"
	switch choice.FinishReason {
	case "tool_calls":
		finish = "tool_calls"
	case "length":
		finish = "length"
	}

	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
}

func classifyOpenAIErr(provider, model string, err error) error {
	var apiErr *openai.Error
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

// OpenAIEmbedder wraps the embeddings endpoint for the memory engine.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(apiKey, apiBase, model string, dim int) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts...), model: model, dim: dim}
}

func (e *OpenAIEmbedder) EmbedModel() string  { return e.model }
func (e *OpenAIEmbedder) EmbedDimension() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: shared.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classifyOpenAIErr("openai", e.model, err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
