package aisdk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// LanguageModel is the capability each LLM backend implements. Adapters own
// transport, auth and wire-format translation; the orchestration loop only
// sees ModelOptions in and content out.
type LanguageModel interface {
	Name() string
	Generate(ctx context.Context, opts ModelOptions) (*Response, error)
	// Stream runs one streaming round. The channel is closed when the round
	// ends; a chunk with Err set reports a mid-stream failure.
	Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error)
}

type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// ModelOptions is the read-only snapshot of a run handed to an adapter.
type ModelOptions struct {
	System          string
	Messages        Conversation
	Tools           []ToolDefinition
	Schema          json.RawMessage
	StopSequences   []string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int
	ReasoningEffort ReasoningEffort
}

// Response is the result of one non-streaming round.
type Response struct {
	Contents []Content
	Usage    *Usage
}

type ChunkKind int

const (
	ChunkDelta ChunkKind = iota
	ChunkDone
)

type DeltaType string

const (
	DeltaText      DeltaType = "text"
	DeltaReasoning DeltaType = "reasoning"
	DeltaToolCall  DeltaType = "tool_call"
)

type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string // incremental JSON fragment
}

// Delta is a partial piece of content, forwarded to stream consumers as is.
type Delta struct {
	Type     DeltaType
	Text     string
	ToolCall *ToolCallDelta
}

// StreamChunk is one item of a streaming round: a Delta, or a Done carrying
// one finished content item. Adapters put the round's usage on the first Done.
type StreamChunk struct {
	Kind  ChunkKind
	Delta Delta
	Final Content
	Usage *Usage
	Err   error
}

func deltaChunk(d Delta) StreamChunk { return StreamChunk{Kind: ChunkDelta, Delta: d} }

// sendChunk delivers c unless ctx is done first.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, c StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishRound emits one Done per content item, usage on the first.
func finishRound(ctx context.Context, ch chan<- StreamChunk, contents []Content, usage *Usage) {
	for i, c := range contents {
		done := StreamChunk{Kind: ChunkDone, Final: c}
		if i == 0 {
			done.Usage = usage
		}
		if !sendChunk(ctx, ch, done) {
			return
		}
	}
}

// ProviderConfig holds per-provider LLM settings.
type ProviderConfig struct {
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
	URL       string `json:"url,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// compatEndpoint is an OpenAI Chat Completions compatible service.
type compatEndpoint struct {
	baseURL    string
	envKey     string
	needsKey   bool
	maxContext int
}

var compatCatalog = map[string]compatEndpoint{
	"openai":     {baseURL: "", envKey: "OPENAI_API_KEY", needsKey: true, maxContext: 128000},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", envKey: "OPENROUTER_API_KEY", needsKey: true, maxContext: 200000},
	"ollama":     {baseURL: "http://localhost:11434/v1/", envKey: "", needsKey: false, maxContext: 32000},
	"groq":       {baseURL: "https://api.groq.com/openai/v1", envKey: "GROQ_API_KEY", needsKey: true, maxContext: 128000},
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", envKey: "DEEPSEEK_API_KEY", needsKey: true, maxContext: 64000},
	"mistral":    {baseURL: "https://api.mistral.ai/v1", envKey: "MISTRAL_API_KEY", needsKey: true, maxContext: 128000},
	"togetherai": {baseURL: "https://api.together.xyz/v1", envKey: "TOGETHER_API_KEY", needsKey: true, maxContext: 128000},
	"xai":        {baseURL: "https://api.x.ai/v1", envKey: "XAI_API_KEY", needsKey: true, maxContext: 128000},
}

// Providers lists every backend NewLanguageModel knows, sorted.
func Providers() []string {
	names := []string{"anthropic", "gemini", "bedrock", "langchain"}
	for name := range compatCatalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderEnvKey returns the environment variable holding the API key of a
// provider, or "" when it takes none.
func ProviderEnvKey(name string) string {
	switch name {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "bedrock":
		return ""
	case "langchain":
		return "OPENAI_API_KEY"
	}
	return compatCatalog[name].envKey
}

// NewLanguageModel builds the adapter for a named provider. An empty API key
// falls back to the provider's environment variable.
func NewLanguageModel(ctx context.Context, name string, cfg ProviderConfig) (LanguageModel, error) {
	if cfg.APIKey == "" {
		if env := ProviderEnvKey(name); env != "" {
			cfg.APIKey = os.Getenv(env)
		}
	}
	switch name {
	case "anthropic":
		return NewAnthropicModel(cfg)
	case "gemini":
		return NewGeminiModel(ctx, cfg)
	case "bedrock":
		return NewBedrockModel(ctx, cfg)
	case "langchain":
		return newLangChainOpenAI(cfg)
	}
	if _, ok := compatCatalog[name]; ok {
		return NewOpenAIModel(name, cfg)
	}
	return nil, fmt.Errorf("unknown provider: %s", name)
}

// schemaMap decodes a JSON schema into the generic map most SDKs expect.
func schemaMap(schema json.RawMessage) map[string]any {
	if len(schema) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return nil
	}
	return m
}

// schemaName is the schema title, used where a provider requires a name.
func schemaName(schema map[string]any) string {
	if t, ok := schema["title"].(string); ok && t != "" {
		return t
	}
	return "response_schema"
}

func requiredFields(params map[string]any) []string {
	switch req := params["required"].(type) {
	case []string:
		return req
	case []any:
		var out []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// inputMap decodes tool call input, defaulting to an empty object.
func inputMap(input json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// wireMessages is the log as a provider sees it. An answered approval request
// becomes the tool call it wraps; unanswered requests and approval responses
// have no wire form and are dropped.
func wireMessages(c Conversation) []Message {
	answered := make(map[string]bool)
	for _, r := range c.ToolApprovalResponses() {
		answered[r.ApprovalID] = true
	}
	var out []Message
	for _, tm := range c {
		m := tm.Message
		switch {
		case m.Role == RoleToolApproval:
			continue
		case m.Role == RoleAssistant && m.Content.Type == ContentToolApprovalRequest:
			if !answered[m.Content.ApprovalRequest.ApprovalID] {
				continue
			}
			m.Content = ToolCallContent(m.Content.ApprovalRequest.ToolCall)
		case m.Role == RoleAssistant && m.Content.Type == ContentUnsupported:
			continue
		}
		out = append(out, m)
	}
	return out
}

// toolCallNames maps tool call ids to names, for providers that key results
// by function name.
func toolCallNames(msgs []Message) map[string]string {
	names := make(map[string]string)
	for _, c := range toolCallsOf(msgs) {
		names[c.ID] = c.Name
	}
	return names
}
