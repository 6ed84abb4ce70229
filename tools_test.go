package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func thresholdTool() Tool {
	return Tool{
		Name: "transfer",
		NeedsApproval: ApprovalDynamic(func(input json.RawMessage, _ ApprovalContext) bool {
			var in struct {
				Value int `json:"value"`
			}
			_ = json.Unmarshal(input, &in)
			return in.Value > 100
		}),
		Execute: func(context.Context, json.RawMessage) (string, error) { return "ok", nil },
	}
}

func TestNeedsApprovalPolicies(t *testing.T) {
	reg := NewToolRegistry(
		thresholdTool(),
		Tool{Name: "always", NeedsApproval: ApprovalAlways},
		Tool{Name: "never"},
	)

	tests := []struct {
		name string
		call ToolCallInfo
		want bool
	}{
		{"dynamic above threshold", ToolCallInfo{Name: "transfer", Input: json.RawMessage(`{"value":500}`)}, true},
		{"dynamic below threshold", ToolCallInfo{Name: "transfer", Input: json.RawMessage(`{"value":50}`)}, false},
		{"always", ToolCallInfo{Name: "always"}, true},
		{"never", ToolCallInfo{Name: "never"}, false},
		{"unknown tool", ToolCallInfo{Name: "missing", Input: json.RawMessage(`{"value":500}`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.NeedsApproval(tt.call, nil); got != tt.want {
				t.Fatalf("NeedsApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDynamicApprovalSeesCallContext(t *testing.T) {
	var seen ApprovalContext
	reg := NewToolRegistry(Tool{
		Name: "probe",
		NeedsApproval: ApprovalDynamic(func(_ json.RawMessage, ac ApprovalContext) bool {
			seen = ac
			return false
		}),
	})
	msgs := []Message{UserMessage("hi")}
	reg.NeedsApproval(ToolCallInfo{Name: "probe", ID: "call-7"}, msgs)
	if seen.ToolCallID != "call-7" || len(seen.Messages) != 1 {
		t.Fatalf("unexpected approval context: %+v", seen)
	}
}

func TestRegistryLastRegisteredWins(t *testing.T) {
	reg := NewToolRegistry(
		Tool{Name: "dup", Description: "first", Execute: func(context.Context, json.RawMessage) (string, error) { return "first", nil }},
		Tool{Name: "other"},
	)
	reg.Add(Tool{Name: "dup", Description: "second", Execute: func(context.Context, json.RawMessage) (string, error) { return "second", nil }})

	out, err := reg.Execute(context.Background(), ToolCallInfo{Name: "dup"})
	if err != nil || out != "second" {
		t.Fatalf("unexpected execute result: %q err=%v", out, err)
	}

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "dup" || defs[0].Description != "second" || defs[1].Name != "other" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if defs[1].Parameters["type"] != "object" {
		t.Fatalf("missing default schema: %+v", defs[1].Parameters)
	}
}

func TestRegistryExecuteErrors(t *testing.T) {
	reg := NewToolRegistry(
		Tool{Name: "fails", Execute: func(context.Context, json.RawMessage) (string, error) { return "", errors.New("disk full") }},
		Tool{Name: "panics", Execute: func(context.Context, json.RawMessage) (string, error) { panic("kaboom") }},
		Tool{Name: "declared"},
	)

	_, err := reg.Execute(context.Background(), ToolCallInfo{Name: "missing"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}

	_, err = reg.Execute(context.Background(), ToolCallInfo{Name: "fails"})
	var tcErr *ToolCallError
	if !errors.As(err, &tcErr) || tcErr.Message != "disk full" {
		t.Fatalf("expected ToolCallError, got %v", err)
	}

	_, err = reg.Execute(context.Background(), ToolCallInfo{Name: "panics"})
	if !errors.As(err, &tcErr) || tcErr.Tool != "panics" {
		t.Fatalf("expected recovered panic, got %v", err)
	}

	_, err = reg.Execute(context.Background(), ToolCallInfo{Name: "declared"})
	if !errors.As(err, &tcErr) || tcErr.Tool != "declared" || !errors.Is(err, ErrToolNotExecutable) {
		t.Fatalf("expected ToolCallError for tool without execute, got %v", err)
	}
}

func TestRunToolWrapsOutput(t *testing.T) {
	reg := NewToolRegistry(Tool{Name: "echo", Execute: func(_ context.Context, in json.RawMessage) (string, error) {
		return string(in), nil
	}})

	r := runTool(context.Background(), reg, ToolCallInfo{Name: "echo", ID: "1", Input: json.RawMessage(`{"a":1}`)})
	if r.Err != nil || r.OutputString() != `{"a":1}` || r.ID != "1" {
		t.Fatalf("unexpected result: %+v", r)
	}

	r = runTool(context.Background(), nil, ToolCallInfo{Name: "echo"})
	if !errors.Is(r.Err, ErrToolNotFound) {
		t.Fatalf("expected not found without registry, got %v", r.Err)
	}
}

func TestRunToolHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	reg := NewToolRegistry(Tool{Name: "slow", Execute: func(context.Context, json.RawMessage) (string, error) {
		<-block
		return "late", nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := runTool(ctx, reg, ToolCallInfo{Name: "slow"})
	if !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", r.Err)
	}
}
