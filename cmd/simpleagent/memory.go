package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Memory is the agent's AGENT.md notes file, appended to the system prompt.
type Memory struct {
	path string
}

func NewMemory(agentDir string) Memory {
	return Memory{path: filepath.Join(agentDir, "AGENT.md")}
}

// Section returns the notes as a system prompt section, or "".
func (m Memory) Section() string {
	data, err := os.ReadFile(m.path)
	if err != nil || len(data) == 0 {
		return ""
	}
	return "## Agent Memory\n" + string(data) + "\n"
}

func (m Memory) Append(note string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "\n## %s\n- %s\n", time.Now().Format(time.DateOnly), note)
	return err
}
