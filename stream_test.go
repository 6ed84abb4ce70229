package aisdk_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/parham/aisdk"
	"github.com/parham/aisdk/internal/testkit"
)

func collect(t *testing.T, s *aisdk.StreamResult) []aisdk.Event {
	t.Helper()
	var events []aisdk.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(events))
		}
	}
}

func eventTypes(events []aisdk.Event) []aisdk.EventType {
	out := make([]aisdk.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestStreamTextForwardsDeltasThenEnd(t *testing.T) {
	model := testkit.NewScriptedModel(testkit.Response{Chunks: []aisdk.StreamChunk{
		{Kind: aisdk.ChunkDelta, Delta: aisdk.Delta{Type: aisdk.DeltaText, Text: "Hel"}},
		{Kind: aisdk.ChunkDelta, Delta: aisdk.Delta{Type: aisdk.DeltaText, Text: "lo"}},
		{Kind: aisdk.ChunkDone, Final: aisdk.TextContent("Hello")},
	}})

	s, err := (&aisdk.Request{Model: model, Prompt: "greet"}).StreamText(context.Background())
	if err != nil {
		t.Fatalf("stream returned error: %v", err)
	}
	events := collect(t, s)
	s.Wait()

	want := []aisdk.EventType{aisdk.EventStart, aisdk.EventDelta, aisdk.EventDelta, aisdk.EventEnd}
	got := eventTypes(events)
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected events: %v", got)
	}
	if events[1].Delta.Text != "Hel" || events[2].Delta.Text != "lo" {
		t.Fatalf("deltas not forwarded verbatim: %+v", events[1:3])
	}
	end := events[3].Message
	if end.Role != aisdk.RoleAssistant || end.Content.Text != "Hello" {
		t.Fatalf("unexpected end message: %+v", end)
	}
	if reason, _ := s.StopReason(); reason.Kind != aisdk.StopFinish {
		t.Fatalf("unexpected stop reason: %v", reason)
	}
	if text, _ := s.Text(); text != "Hello" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestStreamTextRunsTools(t *testing.T) {
	executed := 0
	model := testkit.NewScriptedModel(testkit.Call("c1", "echo", `{"v":1}`), testkit.Text("done"))
	s, err := (&aisdk.Request{
		Model:  model,
		Prompt: "go",
		Tools:  aisdk.NewToolRegistry(echoTool(&executed)),
	}).StreamText(context.Background())
	if err != nil {
		t.Fatalf("stream returned error: %v", err)
	}
	events := collect(t, s)
	s.Wait()

	if executed != 1 {
		t.Fatalf("tool should run once, ran %d", executed)
	}
	ends := 0
	for _, e := range events {
		if e.Type == aisdk.EventEnd {
			ends++
		}
	}
	if ends != 2 {
		t.Fatalf("expected an end per content item, got %d in %v", ends, eventTypes(events))
	}
	if len(s.Steps()) != 3 {
		t.Fatalf("unexpected steps: %+v", s.Steps())
	}
}

func TestStreamTextFailsOnModelError(t *testing.T) {
	model := testkit.NewScriptedModel(testkit.Response{Err: errors.New("503 unavailable")})
	s, err := (&aisdk.Request{Model: model, Prompt: "hi"}).StreamText(context.Background())
	if err != nil {
		t.Fatalf("stream returned error: %v", err)
	}
	events := collect(t, s)
	s.Wait()

	if len(events) != 2 || events[1].Type != aisdk.EventFailed {
		t.Fatalf("unexpected events: %v", eventTypes(events))
	}
	if !strings.Contains(events[1].Reason, "503 unavailable") {
		t.Fatalf("unexpected failure reason: %q", events[1].Reason)
	}
	if reason, _ := s.StopReason(); reason.Kind != aisdk.StopError {
		t.Fatalf("unexpected stop reason: %v", reason)
	}
}

func TestStreamTextFailsOnChunkError(t *testing.T) {
	model := testkit.NewScriptedModel(testkit.Response{Chunks: []aisdk.StreamChunk{
		{Kind: aisdk.ChunkDelta, Delta: aisdk.Delta{Type: aisdk.DeltaText, Text: "par"}},
		{Err: errors.New("stream reset")},
	}})
	s, _ := (&aisdk.Request{Model: model, Prompt: "hi"}).StreamText(context.Background())
	events := collect(t, s)

	got := eventTypes(events)
	if len(got) != 3 || got[2] != aisdk.EventFailed {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestStreamTextStopHookEmitsIncomplete(t *testing.T) {
	executed := 0
	model := testkit.NewScriptedModel(testkit.Call("c1", "echo", `{}`), testkit.Text("unused"))
	s, _ := (&aisdk.Request{
		Model:    model,
		Prompt:   "go",
		Tools:    aisdk.NewToolRegistry(echoTool(&executed)),
		StopWhen: aisdk.StepCountIs(1),
	}).StreamText(context.Background())
	events := collect(t, s)
	s.Wait()

	last := events[len(events)-1]
	if last.Type != aisdk.EventIncomplete || last.Reason != "Stopped by hook" {
		t.Fatalf("expected incomplete event, got %v", eventTypes(events))
	}
	if reason, _ := s.StopReason(); reason.Kind != aisdk.StopHook {
		t.Fatalf("unexpected stop reason: %v", reason)
	}
	if model.CallCount() != 1 {
		t.Fatalf("unexpected rounds: %d", model.CallCount())
	}
}

func TestStreamTextApprovalGate(t *testing.T) {
	executed := 0
	tool := echoTool(&executed)
	tool.NeedsApproval = aisdk.ApprovalAlways
	tools := aisdk.NewToolRegistry(tool)
	model := testkit.NewScriptedModel(testkit.Call("c1", "echo", `{}`), testkit.Text("ok"))

	s, _ := (&aisdk.Request{Model: model, Prompt: "go", Tools: tools}).StreamText(context.Background())
	events := collect(t, s)
	s.Wait()

	end := events[len(events)-1]
	if end.Type != aisdk.EventEnd || end.Message.Content.Type != aisdk.ContentToolApprovalRequest {
		t.Fatalf("expected approval request end, got %+v", end)
	}
	if !s.HasPendingApprovals() || executed != 0 {
		t.Fatalf("call should be gated: pending=%v executed=%d", s.HasPendingApprovals(), executed)
	}

	// pending at entry: only Start is emitted
	s2, _ := (&aisdk.Request{Model: model, Messages: s.Conversation(), Tools: tools}).StreamText(context.Background())
	if got := eventTypes(collect(t, s2)); len(got) != 1 || got[0] != aisdk.EventStart {
		t.Fatalf("unexpected events: %v", got)
	}
	if reason, _ := s2.StopReason(); !reason.IsWaitingForApproval() {
		t.Fatalf("unexpected stop reason: %v", reason)
	}
}

func TestStreamTextCancellationClosesEvents(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	model := testkit.NewScriptedModel(testkit.Call("c1", "slow", `{}`))
	tools := aisdk.NewToolRegistry(aisdk.Tool{Name: "slow", Execute: func(ctx context.Context, _ json.RawMessage) (string, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return "", ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	s, _ := (&aisdk.Request{Model: model, Prompt: "go", Tools: tools}).StreamText(ctx)
	cancel()
	collect(t, s)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not halt after cancellation")
	}
}

func TestStreamAndGenerateStopAtSameStep(t *testing.T) {
	request := func() (*aisdk.Request, *testkit.ScriptedModel, *int) {
		finished, executed := 0, 0
		model := testkit.NewScriptedModel(testkit.Call("c1", "echo", `{}`), testkit.Text("unused"))
		return &aisdk.Request{
			Model:        model,
			Prompt:       "go",
			Tools:        aisdk.NewToolRegistry(echoTool(&executed)),
			OnStepFinish: func(aisdk.RunOptions) { finished++ },
			StopWhen:     func(aisdk.RunOptions) bool { return finished >= 1 },
		}, model, &finished
	}

	genReq, genModel, genFinished := request()
	res, err := genReq.GenerateText(context.Background())
	if err != nil {
		t.Fatalf("generate returned error: %v", err)
	}

	streamReq, streamModel, streamFinished := request()
	s, err := streamReq.StreamText(context.Background())
	if err != nil {
		t.Fatalf("stream returned error: %v", err)
	}
	collect(t, s)
	s.Wait()

	genReason, _ := res.StopReason()
	streamReason, _ := s.StopReason()
	if genReason.Kind != aisdk.StopHook || streamReason.Kind != aisdk.StopHook {
		t.Fatalf("stop reasons: generate=%v stream=%v", genReason, streamReason)
	}
	if len(res.Steps()) != len(s.Steps()) {
		t.Fatalf("steps differ: generate=%d stream=%d", len(res.Steps()), len(s.Steps()))
	}
	if genModel.CallCount() != 1 || streamModel.CallCount() != 1 {
		t.Fatalf("rounds: generate=%d stream=%d", genModel.CallCount(), streamModel.CallCount())
	}
	if *genFinished != 1 || *streamFinished != 1 {
		t.Fatalf("step finish calls: generate=%d stream=%d", *genFinished, *streamFinished)
	}
}

func TestStreamTextSkipsStepFinishOnFailure(t *testing.T) {
	finished := 0
	model := testkit.NewScriptedModel(testkit.Response{Err: errors.New("boom")})
	s, _ := (&aisdk.Request{
		Model:        model,
		Prompt:       "go",
		OnStepFinish: func(aisdk.RunOptions) { finished++ },
	}).StreamText(context.Background())
	collect(t, s)
	s.Wait()

	if finished != 0 {
		t.Fatalf("step finish ran %d times after a failed round", finished)
	}
}

// streamResumeWith gates an echo call, answers it with resp and resumes
// through StreamText.
func streamResumeWith(t *testing.T, resp func(id string) aisdk.ToolApprovalResponse) (*aisdk.StreamResult, []aisdk.Event, int) {
	t.Helper()
	executed := 0
	tool := echoTool(&executed)
	tool.NeedsApproval = aisdk.ApprovalAlways
	tools := aisdk.NewToolRegistry(tool)
	model := testkit.NewScriptedModel(testkit.Call("c1", "echo", `{"x":1}`), testkit.Text("finished"))

	first, err := (&aisdk.Request{Model: model, Prompt: "go", Tools: tools}).StreamText(context.Background())
	if err != nil {
		t.Fatalf("first stream returned error: %v", err)
	}
	collect(t, first)
	first.Wait()
	pending := first.PendingToolApprovals()
	if len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %d", len(pending))
	}

	msgs := first.Conversation()
	msgs = append(msgs, aisdk.Tag(msgs.MaxStepID(), aisdk.ToolApprovalMessage(resp(pending[0].ApprovalID))))
	s, err := (&aisdk.Request{Model: model, Messages: msgs, Tools: tools}).StreamText(context.Background())
	if err != nil {
		t.Fatalf("resumed stream returned error: %v", err)
	}
	events := collect(t, s)
	s.Wait()
	return s, events, executed
}

func TestStreamTextResumesApproved(t *testing.T) {
	s, events, executed := streamResumeWith(t, aisdk.Approve)
	if executed != 1 {
		t.Fatalf("approved tool should run once, ran %d", executed)
	}
	want := []aisdk.EventType{aisdk.EventStart, aisdk.EventDelta, aisdk.EventEnd}
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("unexpected events: %v", got)
	}
	step2, ok := s.Step(2)
	if !ok || step2.Messages[0].Role != aisdk.RoleTool || step2.Messages[0].ToolResult.OutputString() != `{"x":1}` {
		t.Fatalf("tool result should open the new step: %+v", step2)
	}
	if text, _ := s.Text(); text != "finished" {
		t.Fatalf("unexpected text: %q", text)
	}
	if reason, _ := s.StopReason(); reason.Kind != aisdk.StopFinish || s.HasPendingApprovals() {
		t.Fatalf("unexpected stop reason: %v", reason)
	}
}

func TestStreamTextResumesDenied(t *testing.T) {
	s, _, executed := streamResumeWith(t, func(id string) aisdk.ToolApprovalResponse {
		return aisdk.Deny(id, "too risky")
	})
	if executed != 0 {
		t.Fatalf("denied tool ran %d times", executed)
	}
	results := s.ToolResults()
	if len(results) != 1 || !strings.Contains(results[0].OutputString(), "too risky") {
		t.Fatalf("unexpected results: %+v", results)
	}
	if text, _ := s.Text(); text != "finished" {
		t.Fatalf("unexpected text: %q", text)
	}
}
