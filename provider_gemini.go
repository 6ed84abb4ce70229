package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

type GeminiModel struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiModel(ctx context.Context, cfg ProviderConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api_key not set (set GEMINI_API_KEY or providers.gemini.api_key in config)")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.URL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.URL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (p *GeminiModel) Name() string { return "gemini" }

func (p *GeminiModel) MaxContext() int {
	if strings.Contains(p.model, "pro") {
		return 2000000
	}
	return 1000000
}

func (p *GeminiModel) config(opts ModelOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{StopSequences: opts.StopSequences}
	if opts.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(opts.System)}}
	}
	if maxTokens := firstPositive(opts.MaxOutputTokens, p.maxTokens); maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		config.Temperature = &t
	}
	if opts.TopP != nil {
		t := float32(*opts.TopP)
		config.TopP = &t
	}
	if level, ok := geminiThinkingLevels[opts.ReasoningEffort]; ok {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingLevel: level}
	}
	if schema := schemaMap(opts.Schema); schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = schema
	}
	if len(opts.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

var geminiThinkingLevels = map[ReasoningEffort]genai.ThinkingLevel{
	ReasoningLow:    genai.ThinkingLevelLow,
	ReasoningMedium: genai.ThinkingLevelMedium,
	ReasoningHigh:   genai.ThinkingLevelHigh,
}

func (p *GeminiModel) Generate(ctx context.Context, opts ModelOptions) (*Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, toGeminiContents(wireMessages(opts.Messages)), p.config(opts))
	if err != nil {
		return nil, p.wrapError(err)
	}
	var acc geminiAccumulator
	acc.add(resp, nil)
	return &Response{Contents: acc.contents(), Usage: acc.usage}, nil
}

func (p *GeminiModel) Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error) {
	contents := toGeminiContents(wireMessages(opts.Messages))
	config := p.config(opts)
	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)

		var acc geminiAccumulator
		for result, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				sendChunk(ctx, ch, StreamChunk{Err: p.wrapError(err)})
				return
			}
			if !acc.add(result, func(d Delta) bool { return sendChunk(ctx, ch, deltaChunk(d)) }) {
				return
			}
		}
		finishRound(ctx, ch, acc.contents(), acc.usage)
	}()

	return ch, nil
}

func (p *GeminiModel) wrapError(err error) error {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	return wrapProviderError("gemini", status, err)
}

// geminiAccumulator folds response chunks into whole content items.
type geminiAccumulator struct {
	reasoning strings.Builder
	text      strings.Builder
	calls     []ToolCallInfo
	usage     *Usage
}

// add folds resp in, reporting each new part to emit. It returns false once
// emit does.
func (a *geminiAccumulator) add(resp *genai.GenerateContentResponse, emit func(Delta) bool) bool {
	if resp == nil {
		return true
	}
	if u := resp.UsageMetadata; u != nil {
		a.usage = &Usage{
			InputTokens:     Tokens(int(u.PromptTokenCount)),
			OutputTokens:    Tokens(int(u.CandidatesTokenCount)),
			ReasoningTokens: Tokens(int(u.ThoughtsTokenCount)),
			CachedTokens:    Tokens(int(u.CachedContentTokenCount)),
			TotalTokens:     Tokens(int(u.TotalTokenCount)),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return true
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		var d Delta
		switch {
		case part.FunctionCall != nil:
			fc := part.FunctionCall
			id := fc.ID
			if id == "" {
				id = uuid.NewString()
			}
			args, _ := json.Marshal(fc.Args)
			if fc.Args == nil {
				args = json.RawMessage("{}")
			}
			d = Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{Index: len(a.calls), ID: id, Name: fc.Name, Args: string(args)}}
			a.calls = append(a.calls, ToolCallInfo{Name: fc.Name, ID: id, Input: args})
		case part.Text == "":
			continue
		case part.Thought:
			d = Delta{Type: DeltaReasoning, Text: part.Text}
			a.reasoning.WriteString(part.Text)
		default:
			d = Delta{Type: DeltaText, Text: part.Text}
			a.text.WriteString(part.Text)
		}
		if emit != nil && !emit(d) {
			return false
		}
	}
	return true
}

func (a *geminiAccumulator) contents() []Content {
	var out []Content
	if a.reasoning.Len() > 0 {
		out = append(out, ReasoningContent(a.reasoning.String()))
	}
	if a.text.Len() > 0 {
		out = append(out, TextContent(a.text.String()))
	}
	for _, c := range a.calls {
		out = append(out, ToolCallContent(c))
	}
	return out
}

func toGeminiContents(msgs []Message) []*genai.Content {
	var out []*genai.Content
	push := func(role string, part *genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	names := toolCallNames(msgs)

	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleDeveloper, RoleSystem:
			push(genai.RoleUser, genai.NewPartFromText(m.Text))
		case RoleAssistant:
			switch m.Content.Type {
			case ContentText:
				push(genai.RoleModel, genai.NewPartFromText(m.Content.Text))
			case ContentToolCall:
				tc := m.Content.ToolCall
				push(genai.RoleModel, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: inputMap(tc.Input),
				}})
			}
		case RoleTool:
			r := m.ToolResult
			response := map[string]any{"output": r.OutputString()}
			if r.Err != nil {
				response = map[string]any{"error": r.Err.Error()}
			}
			name := r.Name
			if name == "" {
				name = names[r.ID]
			}
			push(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       r.ID,
				Name:     name,
				Response: response,
			}})
		}
	}
	return out
}

var _ LanguageModel = (*GeminiModel)(nil)
