package aisdk

import "encoding/json"

type Role string

const (
	RoleSystem       Role = "system"
	RoleDeveloper    Role = "developer"
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleTool         Role = "tool"
	RoleToolApproval Role = "tool_approval"
)

type ContentType string

const (
	ContentText                ContentType = "text"
	ContentReasoning           ContentType = "reasoning"
	ContentToolCall            ContentType = "tool_call"
	ContentToolApprovalRequest ContentType = "tool_approval_request"
	ContentUnsupported         ContentType = "unsupported"
)

// Content is one item of model output. Text carries the payload for text and
// reasoning, Raw the provider JSON for unsupported items.
type Content struct {
	Type            ContentType         `json:"type"`
	Text            string              `json:"text,omitempty"`
	ToolCall        ToolCallInfo        `json:"tool_call,omitzero"`
	ApprovalRequest ToolApprovalRequest `json:"approval_request,omitzero"`
	Raw             json.RawMessage     `json:"raw,omitempty"`
}

func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

func ReasoningContent(text string) Content {
	return Content{Type: ContentReasoning, Text: text}
}

func ToolCallContent(call ToolCallInfo) Content {
	return Content{Type: ContentToolCall, ToolCall: call}
}

func ApprovalRequestContent(req ToolApprovalRequest) Content {
	return Content{Type: ContentToolApprovalRequest, ApprovalRequest: req}
}

// Message is one entry of a conversation. Which payload field is set depends on
// Role; use the constructors below rather than building it by hand.
type Message struct {
	Role       Role                  `json:"role"`
	Text       string                `json:"text,omitempty"`
	Content    Content               `json:"content,omitzero"`
	Usage      *Usage                `json:"usage,omitempty"`
	ToolResult *ToolResultInfo       `json:"tool_result,omitempty"`
	Approval   *ToolApprovalResponse `json:"approval,omitempty"`
}

func SystemMessage(text string) Message    { return Message{Role: RoleSystem, Text: text} }
func DeveloperMessage(text string) Message { return Message{Role: RoleDeveloper, Text: text} }
func UserMessage(text string) Message      { return Message{Role: RoleUser, Text: text} }

func AssistantMessage(c Content, usage *Usage) Message {
	return Message{Role: RoleAssistant, Content: c, Usage: usage.clone()}
}

func ToolMessage(result ToolResultInfo) Message {
	return Message{Role: RoleTool, ToolResult: &result}
}

func ToolApprovalMessage(resp ToolApprovalResponse) Message {
	return Message{Role: RoleToolApproval, Approval: &resp}
}

// ToolCallInfo is a tool invocation requested by the model.
type ToolCallInfo struct {
	Name  string          `json:"name"`
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultInfo is the outcome of one tool call. Exactly one of Output and Err
// is meaningful: a failed call keeps Err and leaves Output empty.
type ToolResultInfo struct {
	Name   string
	ID     string
	Output json.RawMessage
	Err    error
}

// OutputString returns the output as text, unquoting JSON strings. Failed calls
// return the error message.
func (r ToolResultInfo) OutputString() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	var s string
	if err := json.Unmarshal(r.Output, &s); err == nil {
		return s
	}
	return string(r.Output)
}

type toolResultJSON struct {
	Name   string          `json:"name"`
	ID     string          `json:"id,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (r ToolResultInfo) MarshalJSON() ([]byte, error) {
	out := toolResultJSON{Name: r.Name, ID: r.ID, Output: r.Output}
	if r.Err != nil {
		out.Output = nil
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

func (r *ToolResultInfo) UnmarshalJSON(data []byte) error {
	var in toolResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = ToolResultInfo{Name: in.Name, ID: in.ID, Output: in.Output}
	if in.Error != "" {
		r.Err = &ToolCallError{Tool: in.Name, Message: in.Error}
	}
	return nil
}

// Usage is token accounting for one model response. Nil fields were not
// reported by the provider.
type Usage struct {
	InputTokens     *int `json:"input_tokens,omitempty"`
	OutputTokens    *int `json:"output_tokens,omitempty"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
	CachedTokens    *int `json:"cached_tokens,omitempty"`
	TotalTokens     *int `json:"total_tokens,omitempty"`
}

// Add sums two usages field by field. A nil field counts as zero; the sum stays
// nil only when neither side reported it.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:     addTokens(u.InputTokens, o.InputTokens),
		OutputTokens:    addTokens(u.OutputTokens, o.OutputTokens),
		ReasoningTokens: addTokens(u.ReasoningTokens, o.ReasoningTokens),
		CachedTokens:    addTokens(u.CachedTokens, o.CachedTokens),
		TotalTokens:     addTokens(u.TotalTokens, o.TotalTokens),
	}
}

func (u *Usage) clone() *Usage {
	if u == nil {
		return nil
	}
	c := Usage{}.Add(*u)
	return &c
}

func addTokens(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	n := 0
	if a != nil {
		n += *a
	}
	if b != nil {
		n += *b
	}
	return &n
}

// Tokens returns a pointer to n, for building Usage literals.
func Tokens(n int) *int { return &n }

type StopKind string

const (
	StopFinish StopKind = "finish"
	StopHook   StopKind = "hook"
	StopError  StopKind = "error"
	StopOther  StopKind = "other"
)

// WaitingForApproval is the StopReason message recorded when a run halts on an
// unanswered approval request.
const WaitingForApproval = "Waiting for tool approval"

// StopReason records why a run halted.
type StopReason struct {
	Kind    StopKind
	Message string
	Err     error
}

func (r StopReason) String() string {
	switch {
	case r.Err != nil:
		return string(r.Kind) + ": " + r.Err.Error()
	case r.Message != "":
		return string(r.Kind) + ": " + r.Message
	default:
		return string(r.Kind)
	}
}

// IsWaitingForApproval reports whether the run halted on a pending approval.
func (r StopReason) IsWaitingForApproval() bool {
	return r.Kind == StopOther && r.Message == WaitingForApproval
}

func stopError(err error) *StopReason {
	return &StopReason{Kind: StopError, Message: err.Error(), Err: err}
}

func stopWaiting() *StopReason {
	return &StopReason{Kind: StopOther, Message: WaitingForApproval}
}
