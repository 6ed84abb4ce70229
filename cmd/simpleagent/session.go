package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parham/aisdk"
)

// Session is a persisted conversation. Messages keep their step tags, so a
// run halted on a tool approval can be resumed after a restart.
type Session struct {
	ID         string             `json:"id"`
	CreatedAt  string             `json:"created_at"`
	UpdatedAt  string             `json:"updated_at"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Messages   aisdk.Conversation `json:"messages"`
	Summary    string             `json:"summary"`
	TokensUsed int                `json:"tokens_used"`
}

func NewSession(provider, model string) *Session {
	now := time.Now().Format(time.RFC3339)
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Provider:  provider,
		Model:     model,
	}
}

// refresh derives the summary and token count from the conversation.
func (s *Session) refresh() {
	if s.Summary == "" {
		for _, m := range s.Messages.Messages() {
			if m.Role == aisdk.RoleUser && m.Text != "" {
				s.Summary = truncate(m.Text, 60)
				break
			}
		}
	}
	u := s.Messages.Usage()
	s.TokensUsed = deref(u.InputTokens) + deref(u.OutputTokens)
}

type SessionIndex struct {
	Sessions []SessionEntry `json:"sessions"`
}

type SessionEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Summary   string `json:"summary"`
}

func (e SessionEntry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID[:min(8, len(e.ID))]
}

// SessionStore keeps sessions as JSON files under <agent dir>/sessions, with
// an index for names and a pointer to the last saved session.
type SessionStore struct {
	dir string
}

func NewSessionStore(agentDir string) *SessionStore {
	return &SessionStore{dir: filepath.Join(agentDir, "sessions")}
}

// AgentDir is the directory holding the sessions directory.
func (st *SessionStore) AgentDir() string { return filepath.Dir(st.dir) }

func (st *SessionStore) Save(s *Session) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}
	s.UpdatedAt = time.Now().Format(time.RFC3339)
	s.refresh()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(st.dir, s.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	idx := st.Index()
	if i := slices.IndexFunc(idx.Sessions, func(e SessionEntry) bool { return e.ID == s.ID }); i >= 0 {
		idx.Sessions[i].Summary = s.Summary
		idx.Sessions[i].CreatedAt = s.CreatedAt
	} else {
		idx.Sessions = append(idx.Sessions, SessionEntry{ID: s.ID, CreatedAt: s.CreatedAt, Summary: s.Summary})
	}
	if err := st.writeIndex(idx); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(st.dir, "last_session"), []byte(s.ID), 0o644)
}

func (st *SessionStore) Load(id string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(st.dir, id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

func (st *SessionStore) LoadByIDOrName(idOrName string) (*Session, error) {
	if s, err := st.Load(idOrName); err == nil {
		return s, nil
	}
	for _, e := range st.Index().Sessions {
		if e.Name == idOrName {
			return st.Load(e.ID)
		}
	}
	return nil, fmt.Errorf("session not found: %s", idOrName)
}

// Last returns the most recently saved session, or nil.
func (st *SessionStore) Last() *Session {
	data, err := os.ReadFile(filepath.Join(st.dir, "last_session"))
	if err != nil {
		return nil
	}
	s, err := st.Load(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}
	return s
}

// Index returns the session index, newest first.
func (st *SessionStore) Index() SessionIndex {
	var idx SessionIndex
	data, err := os.ReadFile(filepath.Join(st.dir, "sessions.json"))
	if err != nil {
		return idx
	}
	_ = json.Unmarshal(data, &idx)
	sort.SliceStable(idx.Sessions, func(i, j int) bool {
		return idx.Sessions[i].CreatedAt > idx.Sessions[j].CreatedAt
	})
	return idx
}

func (st *SessionStore) writeIndex(idx SessionIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(st.dir, "sessions.json"), data, 0o644)
}

func (st *SessionStore) Rename(id, name string) error {
	idx := st.Index()
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == id {
			idx.Sessions[i].Name = name
			return st.writeIndex(idx)
		}
	}
	return fmt.Errorf("session %s has not been saved yet", id)
}

func (st *SessionStore) List(w io.Writer) {
	idx := st.Index()
	if len(idx.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	for _, e := range idx.Sessions {
		fmt.Fprintf(w, "  %-20s (%s)  %q\n", e.label(), formatAge(e.CreatedAt), e.Summary)
	}
}

// Pick offers the five most recent sessions and reads the choice with
// readLine. Nil means a new session.
func (st *SessionStore) Pick(out io.Writer, readLine func(prompt string) (string, error)) *Session {
	idx := st.Index()
	fmt.Fprintf(out, "simpleagent v%s\n\n", version)
	if len(idx.Sessions) == 0 {
		fmt.Fprintln(out, "Starting new session.")
		fmt.Fprintln(out)
		return nil
	}

	recent := idx.Sessions[:min(5, len(idx.Sessions))]
	fmt.Fprintln(out, "Recent sessions:")
	for i, e := range recent {
		summary := e.Summary
		if summary == "" {
			summary = "(empty)"
		}
		fmt.Fprintf(out, "  %d. %-20s (%s)  %q\n", i+1, e.label(), formatAge(e.CreatedAt), summary)
	}
	fmt.Fprintf(out, "  0. New Session\n\n")

	choice, err := readLine(fmt.Sprintf("Pick [0-%d]: ", len(recent)))
	if err != nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(choice))
	if err != nil || n < 1 || n > len(recent) {
		return nil
	}
	s, err := st.Load(recent[n-1].ID)
	if err != nil {
		fmt.Fprintf(out, "Error loading session: %v\n", err)
		return nil
	}
	return s
}

func formatAge(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return "?"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	if before, _, ok := strings.Cut(s, "\n"); ok {
		s = before
	}
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
