package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/parham/aisdk"
)

func savedSession(t *testing.T, st *SessionStore, created, prompt string) *Session {
	t.Helper()
	s := NewSession("scripted", "m1")
	s.CreatedAt = created
	s.Messages = aisdk.NewConversation(
		aisdk.UserMessage(prompt),
		aisdk.AssistantMessage(aisdk.TextContent("done"), &aisdk.Usage{InputTokens: aisdk.Tokens(10), OutputTokens: aisdk.Tokens(5)}),
	)
	if err := st.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}
	return s
}

func TestSessionStoreRoundTrip(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	s := savedSession(t, st, "2026-01-01T10:00:00Z", "fix the flaky test")

	got, err := st.Load(s.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Summary != "fix the flaky test" || got.TokensUsed != 15 {
		t.Fatalf("derived fields: summary=%q tokens=%d", got.Summary, got.TokensUsed)
	}
	if len(got.Messages) != 2 || got.Messages[1].StepID != s.Messages[1].StepID {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if text, ok := got.Messages.Text(); !ok || text != "done" {
		t.Fatalf("text = %q", text)
	}

	if last := st.Last(); last == nil || last.ID != s.ID {
		t.Fatalf("last = %+v", last)
	}
	if _, err := st.Load("nope"); err == nil {
		t.Fatalf("expected not found")
	}
}

func TestSessionStoreRename(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	s := savedSession(t, st, "2026-01-01T10:00:00Z", "hello")

	if err := st.Rename(s.ID, "refactor"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := st.LoadByIDOrName("refactor")
	if err != nil || got.ID != s.ID {
		t.Fatalf("load by name: %v %+v", err, got)
	}

	// saving again keeps the name
	if err := st.Save(got); err != nil {
		t.Fatalf("save: %v", err)
	}
	if st.Index().Sessions[0].Name != "refactor" {
		t.Fatalf("name lost: %+v", st.Index())
	}

	if err := st.Rename("unsaved", "x"); err == nil {
		t.Fatalf("renaming an unsaved session should fail")
	}
}

func TestSessionStoreIndexNewestFirst(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	older := savedSession(t, st, "2026-01-01T10:00:00Z", "older")
	newer := savedSession(t, st, "2026-02-01T10:00:00Z", "newer")

	idx := st.Index()
	if len(idx.Sessions) != 2 || idx.Sessions[0].ID != newer.ID || idx.Sessions[1].ID != older.ID {
		t.Fatalf("index = %+v", idx)
	}

	var out bytes.Buffer
	st.List(&out)
	if !strings.Contains(out.String(), `"newer"`) {
		t.Fatalf("list = %q", out.String())
	}
}

func TestSessionStorePick(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	var out bytes.Buffer
	if s := st.Pick(&out, func(string) (string, error) { return "1", nil }); s != nil {
		t.Fatalf("empty store should start a new session")
	}

	saved := savedSession(t, st, "2026-01-01T10:00:00Z", "pick me")
	s := st.Pick(&out, func(prompt string) (string, error) {
		if prompt != "Pick [0-1]: " {
			t.Fatalf("prompt = %q", prompt)
		}
		return " 1 ", nil
	})
	if s == nil || s.ID != saved.ID {
		t.Fatalf("picked %+v", s)
	}
	if s := st.Pick(&out, func(string) (string, error) { return "0", nil }); s != nil {
		t.Fatalf("0 should start a new session")
	}
}
