package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const defaultBedrockModel = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"

// BedrockProvider invokes Claude models through AWS Bedrock's InvokeModel
// API using Anthropic's own wire format (anthropic_version/messages/tools),
// so request/response shaping is shared with AnthropicProvider conceptually
// even though the transport is a different AWS SDK client entirely.
type BedrockProvider struct {
	client    *bedrockruntime.Client
	modelID   string
	maxTokens int
}

// BedrockConfig configures a BedrockProvider. Region/credentials resolve
// through the standard AWS SDK chain (env vars, shared config, IAM role)
// when AccessKeyID/SecretAccessKey are left blank.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ModelID         string
	MaxTokens       int
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-west-2"
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultBedrockModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AccessKeyID,
					SecretAccessKey: cfg.SecretAccessKey,
					SessionToken:    cfg.SessionToken,
				}, nil
			}),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		modelID:   modelID,
		maxTokens: maxTokens,
	}, nil
}

func (p *BedrockProvider) Name() string         { return "bedrock" }
func (p *BedrockProvider) DefaultModel() string { return p.modelID }

func (p *BedrockProvider) modelOf(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.modelID
}

// ChatStream is unsupported: Bedrock's streaming API does not reliably
// deliver tool_use input deltas for Claude models, so every call goes
// through InvokeModel and this just replays the full response as one chunk.
func (p *BedrockProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	onChunk(StreamChunk{Content: resp.Content, Done: true})
	return resp, nil
}

func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.buildBody(req)
	if err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelOf(req)),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, NewError(ErrUnavailable, p.Name(), p.modelOf(req), err)
	}

	var parsed bedrockMessage
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, NewError(ErrBadRequest, p.Name(), p.modelOf(req), err)
	}

	resp := parsed.toChatResponse()
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, NewError(ErrEmptyResponse, p.Name(), p.modelOf(req), nil)
	}
	return resp, nil
}

func (p *BedrockProvider) buildBody(req ChatRequest) ([]byte, error) {
	var system string
	var messages []map[string]any

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "user":
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": []map[string]any{{"type": "text", "text": m.Content}},
			})
		case "assistant":
			var content []map[string]any
			if m.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, map[string]any{
					"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": args,
				})
			}
			messages = append(messages, map[string]any{"role": "assistant", "content": content})
		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type": "tool_result", "tool_use_id": m.ToolCallID, "content": m.Content,
				}},
			})
		}
	}

	body := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        p.maxTokens,
		"messages":          messages,
	}
	if system != "" {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": t.Function.Parameters,
			})
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

type bedrockMessage struct {
	Content    []map[string]any `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (m *bedrockMessage) toChatResponse() *ChatResponse {
	var text string
	var toolCalls []ToolCall
	for _, block := range m.Content {
		switch block["type"] {
		case "text":
			if s, ok := block["text"].(string); ok {
				text += s
			}
		case "tool_use":
			tc := ToolCall{}
			if s, ok := block["id"].(string); ok {
				tc.ID = s
			}
			if s, ok := block["name"].(string); ok {
				tc.Name = s
			}
			if args, ok := block["input"].(map[string]any); ok {
				tc.Arguments = args
			}
			toolCalls = append(toolCalls, tc)
		}
	}

	finish := "stop"
	if m.StopReason == "tool_use" {
		finish = "tool_calls"
	} else if m.StopReason == "max_tokens" {
		finish = "length"
	}

	return &ChatResponse{
		Content:      text,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: &Usage{
			PromptTokens:     m.Usage.InputTokens,
			CompletionTokens: m.Usage.OutputTokens,
			TotalTokens:      m.Usage.InputTokens + m.Usage.OutputTokens,
		},
	}
}
