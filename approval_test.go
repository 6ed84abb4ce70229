package aisdk

import (
	"strings"
	"testing"
)

func TestPendingToolApprovals(t *testing.T) {
	a := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "1"})
	b := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "2"})
	if a.ApprovalID == b.ApprovalID || a.ApprovalID == "" {
		t.Fatalf("approval ids must be unique: %q %q", a.ApprovalID, b.ApprovalID)
	}

	c := Conversation{
		Tag(1, AssistantMessage(ApprovalRequestContent(a), nil)),
		Tag(1, AssistantMessage(ApprovalRequestContent(b), nil)),
		Tag(1, ToolApprovalMessage(Approve(a.ApprovalID))),
	}
	pending := c.PendingToolApprovals()
	if len(pending) != 1 || pending[0].ApprovalID != b.ApprovalID {
		t.Fatalf("unexpected pending approvals: %+v", pending)
	}
	if !c.HasPendingApprovals() {
		t.Fatalf("expected pending approvals")
	}
}

func TestCollectApprovals(t *testing.T) {
	ok := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "1"})
	no := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "2"})
	done := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "3"})
	open := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "4"})

	c := Conversation{
		Tag(1, AssistantMessage(ApprovalRequestContent(done), nil)),
		Tag(1, ToolApprovalMessage(Approve(done.ApprovalID))),
		Tag(2, ToolMessage(ToolResultInfo{Name: "rm", ID: "3"})),
		Tag(3, AssistantMessage(ApprovalRequestContent(ok), nil)),
		Tag(3, AssistantMessage(ApprovalRequestContent(no), nil)),
		Tag(3, AssistantMessage(ApprovalRequestContent(open), nil)),
		Tag(3, ToolApprovalMessage(Deny(no.ApprovalID, ""))),
		Tag(3, ToolApprovalMessage(Approve(ok.ApprovalID))),
	}

	pairs := collectApprovals(c)
	if len(pairs) != 2 {
		t.Fatalf("unexpected pair count: %d", len(pairs))
	}
	if pairs[0].request.ApprovalID != ok.ApprovalID || !pairs[0].response.Approved {
		t.Fatalf("unexpected first pair: %+v", pairs[0])
	}
	if pairs[1].request.ApprovalID != no.ApprovalID || pairs[1].response.Approved {
		t.Fatalf("unexpected second pair: %+v", pairs[1])
	}
}

func TestDenialResult(t *testing.T) {
	req := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "1"})

	r := denialResult(req, Deny(req.ApprovalID, "too risky"))
	if r.ID != "1" || r.Name != "rm" || r.Err != nil {
		t.Fatalf("unexpected result: %+v", r)
	}
	if got := r.OutputString(); got != "Tool execution denied: too risky" {
		t.Fatalf("unexpected denial output: %q", got)
	}

	r = denialResult(req, Deny(req.ApprovalID, ""))
	if !strings.Contains(r.OutputString(), defaultDenialReason) {
		t.Fatalf("expected default reason, got %q", r.OutputString())
	}
}

func TestWireMessagesRewritesAnsweredRequests(t *testing.T) {
	answered := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "1"})
	open := NewToolApprovalRequest(ToolCallInfo{Name: "rm", ID: "2"})
	c := Conversation{
		Tag(0, UserMessage("go")),
		Tag(1, AssistantMessage(ApprovalRequestContent(answered), nil)),
		Tag(1, AssistantMessage(ApprovalRequestContent(open), nil)),
		Tag(1, ToolApprovalMessage(Approve(answered.ApprovalID))),
		Tag(2, ToolMessage(ToolResultInfo{Name: "rm", ID: "1"})),
	}

	wire := wireMessages(c)
	if len(wire) != 3 {
		t.Fatalf("unexpected wire length: %d", len(wire))
	}
	if wire[1].Content.Type != ContentToolCall || wire[1].Content.ToolCall.ID != "1" {
		t.Fatalf("answered request should become a tool call: %+v", wire[1])
	}
	if wire[2].Role != RoleTool {
		t.Fatalf("unexpected last message: %+v", wire[2])
	}
}
