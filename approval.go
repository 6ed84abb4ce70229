package aisdk

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ToolApprovalRequest withholds a tool call until a matching response arrives.
// Requests and responses are correlated by ApprovalID only.
type ToolApprovalRequest struct {
	ApprovalID string       `json:"approval_id"`
	ToolCall   ToolCallInfo `json:"tool_call"`
}

func NewToolApprovalRequest(call ToolCallInfo) ToolApprovalRequest {
	return ToolApprovalRequest{ApprovalID: uuid.New().String(), ToolCall: call}
}

type ToolApprovalResponse struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

func Approve(approvalID string) ToolApprovalResponse {
	return ToolApprovalResponse{ApprovalID: approvalID, Approved: true}
}

func Deny(approvalID, reason string) ToolApprovalResponse {
	return ToolApprovalResponse{ApprovalID: approvalID, Reason: reason}
}

const defaultDenialReason = "Tool execution was denied by user"

// denialResult is the synthetic Tool message content for a denied call.
func denialResult(req ToolApprovalRequest, resp ToolApprovalResponse) ToolResultInfo {
	reason := resp.Reason
	if reason == "" {
		reason = defaultDenialReason
	}
	out, _ := json.Marshal("Tool execution denied: " + reason)
	return ToolResultInfo{Name: req.ToolCall.Name, ID: req.ToolCall.ID, Output: out}
}

// ApprovalContext is what a dynamic approval policy sees besides the input.
type ApprovalContext struct {
	ToolCallID string
	Messages   []Message
}

type ApprovalFunc func(input json.RawMessage, ac ApprovalContext) bool

type approvalMode int

const (
	approvalNever approvalMode = iota
	approvalAlways
	approvalDynamic
)

// NeedsApproval decides whether calls to a tool are gated. The zero value never
// requires approval.
type NeedsApproval struct {
	mode approvalMode
	fn   ApprovalFunc
}

var (
	ApprovalNever  = NeedsApproval{}
	ApprovalAlways = NeedsApproval{mode: approvalAlways}
)

func ApprovalDynamic(fn ApprovalFunc) NeedsApproval {
	if fn == nil {
		return ApprovalNever
	}
	return NeedsApproval{mode: approvalDynamic, fn: fn}
}

func (n NeedsApproval) required(call ToolCallInfo, messages []Message) bool {
	switch n.mode {
	case approvalAlways:
		return true
	case approvalDynamic:
		return n.fn(call.Input, ApprovalContext{ToolCallID: call.ID, Messages: messages})
	default:
		return false
	}
}

func (n NeedsApproval) String() string {
	switch n.mode {
	case approvalAlways:
		return "always"
	case approvalDynamic:
		return "dynamic"
	default:
		return "never"
	}
}

type approvalPair struct {
	request  ToolApprovalRequest
	response ToolApprovalResponse
}

// collectApprovals matches approval requests in c with their responses, in
// request order. A pair whose tool call already has a Tool message after the
// response was handled by an earlier run and is skipped.
func collectApprovals(c Conversation) []approvalPair {
	responses := make(map[string]int)
	for i, tm := range c {
		if tm.Message.Role == RoleToolApproval && tm.Message.Approval != nil {
			if _, seen := responses[tm.Message.Approval.ApprovalID]; !seen {
				responses[tm.Message.Approval.ApprovalID] = i
			}
		}
	}

	var pairs []approvalPair
	for _, req := range c.ToolApprovalRequests() {
		idx, ok := responses[req.ApprovalID]
		if !ok || c.hasToolResultAfter(idx, req.ToolCall) {
			continue
		}
		pairs = append(pairs, approvalPair{request: req, response: *c[idx].Message.Approval})
	}
	return pairs
}

func (c Conversation) hasToolResultAfter(idx int, call ToolCallInfo) bool {
	for _, tm := range c[idx+1:] {
		r := tm.Message.ToolResult
		if tm.Message.Role == RoleTool && r != nil && r.ID == call.ID && r.Name == call.Name {
			return true
		}
	}
	return false
}
