package aisdk

import (
	"slices"

	"github.com/samber/lo"
)

// TaggedMessage is a message plus the step that produced it.
type TaggedMessage struct {
	StepID  int     `json:"step_id"`
	Message Message `json:"message"`
}

func Tag(stepID int, m Message) TaggedMessage {
	return TaggedMessage{StepID: stepID, Message: m}
}

// NewConversation tags msgs as step 0, the caller-supplied input.
func NewConversation(msgs ...Message) Conversation {
	return lo.Map(msgs, func(m Message, _ int) TaggedMessage { return Tag(0, m) })
}

// Conversation is the append-only, step-tagged message log of a run. Step ids
// never decrease in log order.
type Conversation []TaggedMessage

// Step is every message of one generation round, in log order.
type Step struct {
	StepID   int
	Messages []Message
}

func (s Step) Usage() Usage { return usageOf(s.Messages) }

func (s Step) ToolCalls() []ToolCallInfo { return toolCallsOf(s.Messages) }

func (s Step) ToolResults() []ToolResultInfo { return toolResultsOf(s.Messages) }

func (s Step) Text() (string, bool) { return textOf(s.Messages) }

func (c Conversation) Messages() []Message {
	return lo.Map(c, func(tm TaggedMessage, _ int) Message { return tm.Message })
}

func (c Conversation) StepIDs() []int {
	return lo.Map(c, func(tm TaggedMessage, _ int) int { return tm.StepID })
}

// MaxStepID returns the highest step id in the log, 0 when empty.
func (c Conversation) MaxStepID() int {
	return lo.Max(c.StepIDs())
}

func (c Conversation) Step(id int) (Step, bool) {
	msgs := lo.FilterMap(c, func(tm TaggedMessage, _ int) (Message, bool) {
		return tm.Message, tm.StepID == id
	})
	if len(msgs) == 0 {
		return Step{}, false
	}
	return Step{StepID: id, Messages: msgs}, true
}

// Steps groups the log by step id in ascending order.
func (c Conversation) Steps() []Step {
	groups := lo.GroupBy(c, func(tm TaggedMessage) int { return tm.StepID })
	ids := lo.Uniq(c.StepIDs())
	slices.Sort(ids)
	steps := make([]Step, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, Step{
			StepID:   id,
			Messages: lo.Map(groups[id], func(tm TaggedMessage, _ int) Message { return tm.Message }),
		})
	}
	return steps
}

func (c Conversation) LastStep() (Step, bool) {
	if len(c) == 0 {
		return Step{}, false
	}
	return c.Step(c.MaxStepID())
}

// Usage sums the usage of every assistant message.
func (c Conversation) Usage() Usage { return usageOf(c.Messages()) }

// Content returns the content of the most recent assistant message.
func (c Conversation) Content() (Content, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Message.Role == RoleAssistant {
			return c[i].Message.Content, true
		}
	}
	return Content{}, false
}

// Text returns the most recent assistant text.
func (c Conversation) Text() (string, bool) { return textOf(c.Messages()) }

// ToolCalls returns every tool call in the log, across all steps.
func (c Conversation) ToolCalls() []ToolCallInfo { return toolCallsOf(c.Messages()) }

// ToolResults returns every tool result in the log, across all steps.
func (c Conversation) ToolResults() []ToolResultInfo { return toolResultsOf(c.Messages()) }

func (c Conversation) ToolApprovalRequests() []ToolApprovalRequest {
	return nilIfEmpty(lo.FilterMap(c, func(tm TaggedMessage, _ int) (ToolApprovalRequest, bool) {
		m := tm.Message
		ok := m.Role == RoleAssistant && m.Content.Type == ContentToolApprovalRequest
		return m.Content.ApprovalRequest, ok
	}))
}

func (c Conversation) ToolApprovalResponses() []ToolApprovalResponse {
	return nilIfEmpty(lo.FilterMap(c, func(tm TaggedMessage, _ int) (ToolApprovalResponse, bool) {
		m := tm.Message
		if m.Role != RoleToolApproval || m.Approval == nil {
			return ToolApprovalResponse{}, false
		}
		return *m.Approval, true
	}))
}

// PendingToolApprovals returns the approval requests that have no response.
func (c Conversation) PendingToolApprovals() []ToolApprovalRequest {
	answered := lo.SliceToMap(c.ToolApprovalResponses(), func(r ToolApprovalResponse) (string, struct{}) {
		return r.ApprovalID, struct{}{}
	})
	return nilIfEmpty(lo.Filter(c.ToolApprovalRequests(), func(r ToolApprovalRequest, _ int) bool {
		_, ok := answered[r.ApprovalID]
		return !ok
	}))
}

func (c Conversation) HasPendingApprovals() bool {
	return len(c.PendingToolApprovals()) > 0
}

// Clone copies the log so later appends to either side do not alias.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

func usageOf(msgs []Message) Usage {
	return lo.Reduce(msgs, func(acc Usage, m Message, _ int) Usage {
		if m.Role != RoleAssistant || m.Usage == nil {
			return acc
		}
		return acc.Add(*m.Usage)
	}, Usage{})
}

func textOf(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == RoleAssistant && m.Content.Type == ContentText {
			return m.Content.Text, true
		}
	}
	return "", false
}

func toolCallsOf(msgs []Message) []ToolCallInfo {
	return nilIfEmpty(lo.FilterMap(msgs, func(m Message, _ int) (ToolCallInfo, bool) {
		return m.Content.ToolCall, m.Role == RoleAssistant && m.Content.Type == ContentToolCall
	}))
}

func toolResultsOf(msgs []Message) []ToolResultInfo {
	return nilIfEmpty(lo.FilterMap(msgs, func(m Message, _ int) (ToolResultInfo, bool) {
		if m.Role != RoleTool || m.ToolResult == nil {
			return ToolResultInfo{}, false
		}
		return *m.ToolResult, true
	}))
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
