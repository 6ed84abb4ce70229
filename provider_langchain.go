package aisdk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChainModel adapts any langchaingo llms.Model. langchaingo reports
// streamed tool-call fragments through the same callback as text, so when
// tools are offered only the finished content is streamed.
type LangChainModel struct {
	llm  llms.Model
	name string
}

func NewLangChainModel(name string, llm llms.Model) *LangChainModel {
	return &LangChainModel{llm: llm, name: name}
}

// newLangChainOpenAI builds the langchaingo OpenAI client, which also serves
// any endpoint set through cfg.URL.
func newLangChainOpenAI(cfg ProviderConfig) (*LangChainModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("langchain api_key not set (set OPENAI_API_KEY or providers.langchain.api_key in config)")
	}
	opts := []lcopenai.Option{lcopenai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, lcopenai.WithModel(cfg.Model))
	}
	if cfg.URL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.URL))
	}
	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating langchain client: %w", err)
	}
	return NewLangChainModel("langchain", llm), nil
}

func (p *LangChainModel) Name() string { return p.name }

func (p *LangChainModel) callOptions(opts ModelOptions) []llms.CallOption {
	var out []llms.CallOption
	if opts.MaxOutputTokens > 0 {
		out = append(out, llms.WithMaxTokens(opts.MaxOutputTokens))
	}
	if opts.Temperature != nil {
		out = append(out, llms.WithTemperature(*opts.Temperature))
	}
	if opts.TopP != nil {
		out = append(out, llms.WithTopP(*opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		out = append(out, llms.WithStopWords(opts.StopSequences))
	}
	if len(opts.Schema) > 0 {
		out = append(out, llms.WithJSONMode())
	}
	if len(opts.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		out = append(out, llms.WithTools(tools))
	}
	return out
}

func (p *LangChainModel) Generate(ctx context.Context, opts ModelOptions) (*Response, error) {
	resp, err := p.llm.GenerateContent(ctx, toLangChainMessages(opts), p.callOptions(opts)...)
	if err != nil {
		return nil, wrapProviderError(p.name, 0, err)
	}
	return langChainResponse(resp), nil
}

func (p *LangChainModel) Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 64)
	callOpts := p.callOptions(opts)
	if len(opts.Tools) == 0 {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) > 0 && !sendChunk(ctx, ch, deltaChunk(Delta{Type: DeltaText, Text: string(chunk)})) {
				return ctx.Err()
			}
			return nil
		}))
	}

	go func() {
		defer close(ch)
		resp, err := p.llm.GenerateContent(ctx, toLangChainMessages(opts), callOpts...)
		if err != nil {
			sendChunk(ctx, ch, StreamChunk{Err: wrapProviderError(p.name, 0, err)})
			return
		}
		r := langChainResponse(resp)
		finishRound(ctx, ch, r.Contents, r.Usage)
	}()
	return ch, nil
}

func langChainResponse(resp *llms.ContentResponse) *Response {
	out := &Response{}
	if resp == nil || len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	if choice.ReasoningContent != "" {
		out.Contents = append(out.Contents, ReasoningContent(choice.ReasoningContent))
	}
	if choice.Content != "" {
		out.Contents = append(out.Contents, TextContent(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		input := json.RawMessage(tc.FunctionCall.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		out.Contents = append(out.Contents, ToolCallContent(ToolCallInfo{Name: tc.FunctionCall.Name, ID: tc.ID, Input: input}))
	}
	out.Usage = langChainUsage(choice.GenerationInfo)
	return out
}

func langChainUsage(info map[string]any) *Usage {
	in, okIn := intInfo(info, "PromptTokens")
	outTok, okOut := intInfo(info, "CompletionTokens")
	if !okIn && !okOut {
		return nil
	}
	u := &Usage{InputTokens: Tokens(in), OutputTokens: Tokens(outTok)}
	if total, ok := intInfo(info, "TotalTokens"); ok {
		u.TotalTokens = Tokens(total)
	}
	if r, ok := intInfo(info, "ReasoningTokens"); ok {
		u.ReasoningTokens = Tokens(r)
	}
	return u
}

func intInfo(info map[string]any, key string) (int, bool) {
	switch v := info[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func toLangChainMessages(opts ModelOptions) []llms.MessageContent {
	var out []llms.MessageContent
	push := func(role llms.ChatMessageType, part llms.ContentPart) {
		if n := len(out); n > 0 && out[n-1].Role == role && role != llms.ChatMessageTypeTool {
			out[n-1].Parts = append(out[n-1].Parts, part)
			return
		}
		out = append(out, llms.MessageContent{Role: role, Parts: []llms.ContentPart{part}})
	}
	if opts.System != "" {
		push(llms.ChatMessageTypeSystem, llms.TextPart(opts.System))
	}

	msgs := wireMessages(opts.Messages)
	names := toolCallNames(msgs)
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleDeveloper:
			push(llms.ChatMessageTypeSystem, llms.TextPart(m.Text))
		case RoleUser:
			push(llms.ChatMessageTypeHuman, llms.TextPart(m.Text))
		case RoleAssistant:
			switch m.Content.Type {
			case ContentText:
				push(llms.ChatMessageTypeAI, llms.TextPart(m.Content.Text))
			case ContentToolCall:
				tc := m.Content.ToolCall
				args := string(tc.Input)
				if args == "" {
					args = "{}"
				}
				push(llms.ChatMessageTypeAI, llms.ToolCall{
					ID:           tc.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
		case RoleTool:
			r := m.ToolResult
			name := r.Name
			if name == "" {
				name = names[r.ID]
			}
			push(llms.ChatMessageTypeTool, llms.ToolCallResponse{ToolCallID: r.ID, Name: name, Content: r.OutputString()})
		}
	}
	return out
}

var _ LanguageModel = (*LangChainModel)(nil)
