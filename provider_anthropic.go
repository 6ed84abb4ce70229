package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/liushuangls/go-anthropic/v2/jsonschema"
)

const anthropicDefaultMaxTokens = 8192

type AnthropicModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

func NewAnthropicModel(cfg ProviderConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api_key not set (set ANTHROPIC_API_KEY or providers.anthropic.api_key in config)")
	}
	var opts []anthropic.ClientOption
	if cfg.URL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.URL))
	}
	client := anthropic.NewClient(cfg.APIKey, opts...)
	return &AnthropicModel{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (p *AnthropicModel) Name() string { return "anthropic" }

func (p *AnthropicModel) MaxContext() int { return 200000 }

func (p *AnthropicModel) request(opts ModelOptions) anthropic.MessagesRequest {
	req := anthropic.MessagesRequest{
		Model:         anthropic.Model(p.model),
		Messages:      toAnthropicMessages(wireMessages(opts.Messages)),
		MaxTokens:     firstPositive(opts.MaxOutputTokens, p.maxTokens, anthropicDefaultMaxTokens),
		System:        withSchemaInstruction(opts.System, opts.Schema),
		StopSequences: opts.StopSequences,
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		req.Temperature = &t
	}
	if opts.TopP != nil {
		t := float32(*opts.TopP)
		req.TopP = &t
	}
	if tools := toAnthropicTools(opts.Tools); len(tools) > 0 {
		req.Tools = tools
	}
	if budget, ok := anthropicThinkingBudgets[opts.ReasoningEffort]; ok {
		req.Thinking = &anthropic.Thinking{Type: anthropic.ThinkingTypeEnabled, BudgetTokens: budget}
		// max_tokens must exceed the budget, and sampling knobs are rejected
		// while thinking is on.
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + anthropicDefaultMaxTokens
		}
		req.Temperature, req.TopP = nil, nil
	}
	return req
}

var anthropicThinkingBudgets = map[ReasoningEffort]int{
	ReasoningLow:    2048,
	ReasoningMedium: 8192,
	ReasoningHigh:   16384,
}

func (p *AnthropicModel) Generate(ctx context.Context, opts ModelOptions) (*Response, error) {
	resp, err := p.client.CreateMessages(ctx, p.request(opts))
	if err != nil {
		return nil, p.wrapError(err)
	}
	return &Response{Contents: anthropicContents(resp.Content), Usage: anthropicUsage(resp.Usage)}, nil
}

func (p *AnthropicModel) Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)

		// index of each tool_use block, for args deltas
		toolIDs := make(map[int]string)
		req := anthropic.MessagesStreamRequest{
			MessagesRequest: p.request(opts),
			OnContentBlockStart: func(data anthropic.MessagesEventContentBlockStartData) {
				if data.ContentBlock.Type != anthropic.MessagesContentTypeToolUse {
					return
				}
				tu := data.ContentBlock.MessageContentToolUse
				toolIDs[data.Index] = tu.ID
				sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{
					Index: data.Index,
					ID:    tu.ID,
					Name:  tu.Name,
				}}))
			},
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				switch data.Delta.Type {
				case anthropic.MessagesContentTypeTextDelta:
					sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaText, Text: data.Delta.GetText()}))
				case anthropic.MessagesContentTypeThinkingDelta:
					if th := data.Delta.MessageContentThinking; th != nil && th.Thinking != "" {
						sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaReasoning, Text: th.Thinking}))
					}
				case anthropic.MessagesContentTypeInputJsonDelta:
					if data.Delta.PartialJson == nil {
						return
					}
					sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{
						Index: data.Index,
						ID:    toolIDs[data.Index],
						Args:  *data.Delta.PartialJson,
					}}))
				}
			},
		}

		resp, err := p.client.CreateMessagesStream(ctx, req)
		if err != nil {
			sendChunk(ctx, ch, StreamChunk{Err: p.wrapError(err)})
			return
		}
		finishRound(ctx, ch, anthropicContents(resp.Content), anthropicUsage(resp.Usage))
	}()

	return ch, nil
}

func (p *AnthropicModel) wrapError(err error) error {
	status := 0
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode
	}
	return wrapProviderError("anthropic", status, err)
}

func anthropicContents(blocks []anthropic.MessageContent) []Content {
	var out []Content
	for _, b := range blocks {
		switch b.Type {
		case anthropic.MessagesContentTypeText:
			out = append(out, TextContent(b.GetText()))
		case anthropic.MessagesContentTypeToolUse:
			tu := b.MessageContentToolUse
			if tu == nil {
				continue
			}
			out = append(out, ToolCallContent(ToolCallInfo{Name: tu.Name, ID: tu.ID, Input: tu.Input}))
		case anthropic.MessagesContentTypeThinking:
			if b.MessageContentThinking == nil {
				continue
			}
			// the signed block is replayed on the next turn
			c := ReasoningContent(b.MessageContentThinking.Thinking)
			c.Raw, _ = json.Marshal(b)
			out = append(out, c)
		default:
			raw, _ := json.Marshal(b)
			out = append(out, Content{Type: ContentUnsupported, Raw: raw})
		}
	}
	return out
}

func anthropicUsage(u anthropic.MessagesUsage) *Usage {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return &Usage{
		InputTokens:  Tokens(u.InputTokens),
		OutputTokens: Tokens(u.OutputTokens),
		CachedTokens: Tokens(u.CacheReadInputTokens),
		TotalTokens:  Tokens(u.InputTokens + u.OutputTokens),
	}
}

// toAnthropicMessages folds consecutive same-role items into one message, as
// the API expects one assistant turn per response.
func toAnthropicMessages(msgs []Message) []anthropic.Message {
	var out []anthropic.Message
	push := func(role anthropic.ChatRole, c anthropic.MessageContent) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, c)
			return
		}
		out = append(out, anthropic.Message{Role: role, Content: []anthropic.MessageContent{c}})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleDeveloper, RoleSystem:
			text := m.Text
			if text == "" {
				text = " "
			}
			push(anthropic.RoleUser, anthropic.MessageContent{Type: anthropic.MessagesContentTypeText, Text: &text})
		case RoleAssistant:
			switch m.Content.Type {
			case ContentText:
				if text := m.Content.Text; text != "" {
					push(anthropic.RoleAssistant, anthropic.MessageContent{Type: anthropic.MessagesContentTypeText, Text: &text})
				}
			case ContentReasoning:
				var block anthropic.MessageContent
				if len(m.Content.Raw) > 0 && json.Unmarshal(m.Content.Raw, &block) == nil {
					push(anthropic.RoleAssistant, block)
				}
			case ContentToolCall:
				tc := m.Content.ToolCall
				input := tc.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				push(anthropic.RoleAssistant, anthropic.MessageContent{
					Type:                  anthropic.MessagesContentTypeToolUse,
					MessageContentToolUse: &anthropic.MessageContentToolUse{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
		case RoleTool:
			r := m.ToolResult
			text := r.OutputString()
			if text == "" {
				text = "(no output)"
			}
			for _, c := range anthropic.NewToolResultsMessage(r.ID, text, r.Err != nil).Content {
				push(anthropic.RoleUser, c)
			}
		}
	}
	return out
}

func toAnthropicTools(defs []ToolDefinition) []anthropic.ToolDefinition {
	var out []anthropic.ToolDefinition
	for _, t := range defs {
		out = append(out, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toJSONSchema(t.Parameters),
		})
	}
	return out
}

func toJSONSchema(params map[string]any) jsonschema.Definition {
	def := jsonschema.Definition{Type: jsonschema.Object, Required: requiredFields(params)}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return def
	}
	def.Properties = make(map[string]jsonschema.Definition)
	for name, v := range props {
		propMap, ok := v.(map[string]any)
		if !ok {
			continue
		}
		def.Properties[name] = toJSONSchemaProperty(propMap)
	}
	return def
}

func toJSONSchemaProperty(m map[string]any) jsonschema.Definition {
	prop := jsonschema.Definition{}
	if t, ok := m["type"].(string); ok {
		prop.Type = jsonschema.DataType(t)
	}
	if prop.Type == jsonschema.Object {
		prop = toJSONSchema(m)
	}
	if d, ok := m["description"].(string); ok {
		prop.Description = d
	}
	if items, ok := m["items"].(map[string]any); ok {
		item := toJSONSchemaProperty(items)
		prop.Items = &item
	}
	return prop
}

// withSchemaInstruction appends the output schema to the system prompt for
// providers without a native structured-output switch.
func withSchemaInstruction(system string, schema json.RawMessage) string {
	if len(schema) == 0 {
		return system
	}
	var sb strings.Builder
	sb.WriteString(system)
	if system != "" {
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond only with a JSON value matching this JSON schema:\n")
	sb.Write(schema)
	return sb.String()
}

var _ LanguageModel = (*AnthropicModel)(nil)
