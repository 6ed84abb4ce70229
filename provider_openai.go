package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIModel speaks the Chat Completions API, which OpenAI and every backend
// in the compatible catalog accept.
type OpenAIModel struct {
	client    *openai.Client
	backend   string
	model     string
	maxTokens int
}

func NewOpenAIModel(backend string, cfg ProviderConfig) (*OpenAIModel, error) {
	ep, ok := compatCatalog[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported openai-compatible backend: %s", backend)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		if ep.needsKey {
			return nil, fmt.Errorf("%s api_key not set (set %s or providers.%s.api_key in config)", backend, ep.envKey, backend)
		}
		apiKey = backend
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	url := cfg.URL
	if url == "" {
		url = ep.baseURL
	}
	if url != "" {
		opts = append(opts, option.WithBaseURL(url))
	}

	client := openai.NewClient(opts...)
	return &OpenAIModel{client: &client, backend: backend, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (p *OpenAIModel) Name() string { return p.backend }

// MaxContext is the context window assumed for the backend.
func (p *OpenAIModel) MaxContext() int { return compatCatalog[p.backend].maxContext }

func (p *OpenAIModel) params(opts ModelOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toOpenAIMessages(opts),
	}
	if maxTokens := firstPositive(opts.MaxOutputTokens, p.maxTokens); maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = param.NewOpt(*opts.TopP)
	}
	if len(opts.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopSequences}
	}
	if opts.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(opts.ReasoningEffort)
	}
	if tools := toOpenAITools(opts.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if schema := schemaMap(opts.Schema); schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName(schema),
					Schema: schema,
					Strict: param.NewOpt(false),
				},
			},
		}
	}
	return params
}

func (p *OpenAIModel) Generate(ctx context.Context, opts ModelOptions) (*Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(opts))
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return &Response{Usage: openAIUsage(resp.Usage)}, nil
	}
	return &Response{
		Contents: openAIContents(resp.Choices[0].Message),
		Usage:    openAIUsage(resp.Usage),
	}, nil
}

func (p *OpenAIModel) Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error) {
	params := p.params(opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := &openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaText, Text: choice.Delta.Content})) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					d := Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{
						Index: int(tc.Index),
						ID:    tc.ID,
						Name:  tc.Function.Name,
						Args:  tc.Function.Arguments,
					}}
					if !sendChunk(ctx, ch, deltaChunk(d)) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, ch, StreamChunk{Err: p.wrapError(err)})
			return
		}

		var contents []Content
		if len(acc.Choices) > 0 {
			contents = openAIContents(acc.Choices[0].Message)
		}
		finishRound(ctx, ch, contents, openAIUsage(acc.Usage))
	}()
	return ch, nil
}

func (p *OpenAIModel) wrapError(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return wrapProviderError(p.backend, status, err)
}

func openAIContents(msg openai.ChatCompletionMessage) []Content {
	var out []Content
	if msg.Content != "" {
		out = append(out, TextContent(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		out = append(out, ToolCallContent(ToolCallInfo{Name: tc.Function.Name, ID: tc.ID, Input: input}))
	}
	return out
}

func openAIUsage(u openai.CompletionUsage) *Usage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &Usage{
		InputTokens:     Tokens(int(u.PromptTokens)),
		OutputTokens:    Tokens(int(u.CompletionTokens)),
		ReasoningTokens: Tokens(int(u.CompletionTokensDetails.ReasoningTokens)),
		CachedTokens:    Tokens(int(u.PromptTokensDetails.CachedTokens)),
		TotalTokens:     Tokens(int(u.TotalTokens)),
	}
}

func toOpenAIMessages(opts ModelOptions) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		out = append(out, openai.SystemMessage(opts.System))
	}

	for _, m := range wireMessages(opts.Messages) {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleDeveloper:
			out = append(out, openai.DeveloperMessage(m.Text))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case RoleAssistant:
			switch m.Content.Type {
			case ContentText:
				out = append(out, openai.AssistantMessage(m.Content.Text))
			case ContentToolCall:
				tc := m.Content.ToolCall
				args := string(tc.Input)
				if args == "" {
					args = "{}"
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: args,
							},
						}},
					},
				})
			}
		case RoleTool:
			out = append(out, openai.ToolMessage(m.ToolResult.OutputString(), m.ToolResult.ID))
		}
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

var _ LanguageModel = (*OpenAIModel)(nil)
