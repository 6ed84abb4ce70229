package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parham/aisdk"
	"github.com/parham/aisdk/internal/testkit"
)

func newTestAgent(t *testing.T, model aisdk.LanguageModel, cfg Config) (*Agent, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	store := NewSessionStore(t.TempDir())
	a := NewAgent(model, cfg, nil, store, nil, newLogger(io.Discard, slog.LevelDebug, true), &out)
	return a, &out
}

func writeCall(t *testing.T, path string) testkit.Response {
	return testkit.Call("c1", "write_file", `{"path":`+quote(path)+`,"content":"hi"}`)
}

func TestTurnPlanModeAsksBeforeWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	model := testkit.NewScriptedModel(writeCall(t, path), testkit.Text("wrote it"))
	a, out := newTestAgent(t, model, DefaultConfig())

	var asked []string
	a.approve = func(_ context.Context, req aisdk.ToolApprovalRequest) (aisdk.ToolApprovalResponse, error) {
		if _, err := os.Stat(path); err == nil {
			t.Fatalf("file written before approval")
		}
		asked = append(asked, req.ToolCall.Name)
		return aisdk.Approve(req.ApprovalID), nil
	}

	if err := a.Turn(context.Background(), "write a file"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(asked) != 1 || asked[0] != "write_file" {
		t.Fatalf("approvals asked: %v", asked)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hi" {
		t.Fatalf("file = %q, %v", data, err)
	}
	if model.CallCount() != 2 {
		t.Fatalf("model rounds = %d", model.CallCount())
	}
	if !strings.Contains(out.String(), "wrote it") {
		t.Fatalf("output = %q", out.String())
	}
	if text, _ := a.session.Messages.Text(); text != "wrote it" {
		t.Fatalf("session text = %q", text)
	}
	if last := a.store.Last(); last == nil || last.ID != a.session.ID || len(last.Messages) != len(a.session.Messages) {
		t.Fatalf("session not checkpointed")
	}
}

func TestTurnDeniedWriteIsReportedToModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	model := testkit.NewScriptedModel(writeCall(t, path), testkit.Text("skipped"))
	a, _ := newTestAgent(t, model, DefaultConfig())
	a.approve = func(_ context.Context, req aisdk.ToolApprovalRequest) (aisdk.ToolApprovalResponse, error) {
		return aisdk.Deny(req.ApprovalID, "not now"), nil
	}

	if err := a.Turn(context.Background(), "write a file"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("denied write ran: %v", err)
	}
	results := a.session.Messages.ToolResults()
	if len(results) != 1 || !strings.Contains(results[0].OutputString(), "not now") {
		t.Fatalf("results = %+v", results)
	}
}

func TestTurnActionModeWritesWithoutAsking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	model := testkit.NewScriptedModel(writeCall(t, path), testkit.Text("done"))
	a, _ := newTestAgent(t, model, DefaultConfig())
	a.mode = ModeAction

	if err := a.Turn(context.Background(), "write a file"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file missing: %v", err)
	}
}

func TestTurnStopsAtMaxStepsPerTurn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 1
	model := testkit.NewScriptedModel(
		testkit.Text("first"),
		testkit.Call("c1", "list_dir", `{"path":"."}`),
		testkit.Text("never"),
	)
	a, out := newTestAgent(t, model, cfg)
	a.mode = ModeAction

	if err := a.Turn(context.Background(), "hi"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	// the second turn gets its own step budget
	if err := a.Turn(context.Background(), "look around"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if model.CallCount() != 2 {
		t.Fatalf("model rounds = %d", model.CallCount())
	}
	if !strings.Contains(out.String(), "Stopped after 1 steps") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestTurnReturnsModelError(t *testing.T) {
	model := testkit.NewScriptedModel(testkit.Response{Err: errors.New("503 unavailable")})
	a, _ := newTestAgent(t, model, DefaultConfig())
	if err := a.Turn(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}
}

func TestAskUserByMode(t *testing.T) {
	a, _ := newTestAgent(t, testkit.NewScriptedModel(), DefaultConfig())
	a.ask = func(_ context.Context, q string) (string, error) { return "answer to " + q, nil }

	if got, _ := a.askUser(context.Background(), "which db?"); got != "answer to which db?" {
		t.Fatalf("plan mode = %q", got)
	}
	a.mode = ModeAction
	if got, _ := a.askUser(context.Background(), "which db?"); got != "proceed" {
		t.Fatalf("action mode = %q", got)
	}
}

func TestSlashCommands(t *testing.T) {
	a, out := newTestAgent(t, testkit.NewScriptedModel(), DefaultConfig())
	ctx := context.Background()

	if !a.handleSlashCommand(ctx, "/action") || a.mode != ModeAction {
		t.Fatalf("/action failed")
	}
	if !a.handleSlashCommand(ctx, "/plan") || a.mode != ModePlan {
		t.Fatalf("/plan failed")
	}
	a.handleSlashCommand(ctx, "/memory prefers tabs")
	if !strings.Contains(a.systemPrompt(), "prefers tabs") {
		t.Fatalf("memory not in system prompt")
	}
	a.handleSlashCommand(ctx, "/rename x")
	if !strings.Contains(out.String(), "has not been saved") {
		t.Fatalf("rename of unsaved session: %q", out.String())
	}
	a.handleSlashCommand(ctx, "/bogus")
	if !strings.Contains(out.String(), "Unknown command: /bogus") {
		t.Fatalf("output = %q", out.String())
	}
	if a.handleSlashCommand(ctx, "/exit") {
		t.Fatalf("/exit should end the loop")
	}
}

func TestCompactReplacesHistory(t *testing.T) {
	model := testkit.NewScriptedModel(testkit.Text("hello"), testkit.Text("we said hello"))
	a, _ := newTestAgent(t, model, DefaultConfig())
	if err := a.Turn(context.Background(), "say hello"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := a.compact(context.Background()); err != nil {
		t.Fatalf("compact: %v", err)
	}
	msgs := a.session.Messages.Messages()
	if len(msgs) != 2 || msgs[1].Content.Text != "we said hello" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSystemPromptFromAgentFile(t *testing.T) {
	a, _ := newTestAgent(t, testkit.NewScriptedModel(), DefaultConfig())
	a.agentFile = &AgentFile{Prompt: "You run the homelab."}
	p := a.systemPrompt()
	if !strings.HasPrefix(p, "You run the homelab.") || !strings.Contains(p, "PLAN mode") {
		t.Fatalf("prompt = %q", p)
	}
}
