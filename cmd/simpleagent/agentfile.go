package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentFile is a parsed .agent file: optional YAML frontmatter between ---
// lines, and a body that becomes the system prompt.
type AgentFile struct {
	Path        string   `yaml:"-"`
	Description string   `yaml:"description"`
	Deny        nameList `yaml:"deny"`
	Allow       nameList `yaml:"allow"`
	Model       string   `yaml:"model"`
	Provider    string   `yaml:"provider"`
	URL         string   `yaml:"url"`
	MaxSteps    int      `yaml:"max_steps"`
	Prompt      string   `yaml:"-"`
}

// nameList accepts either a YAML sequence or a comma separated string.
type nameList []string

func (l *nameList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*l = trimNames(names)
	case yaml.ScalarNode:
		*l = trimNames(strings.Split(node.Value, ","))
	default:
		return fmt.Errorf("line %d: expected a list of tool names", node.Line)
	}
	return nil
}

func trimNames(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func ParseAgentFile(path string) (*AgentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	af, err := parseAgentFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	af.Path = path
	return af, nil
}

func parseAgentFile(content string) (*AgentFile, error) {
	// #!/usr/bin/env simpleagent
	if strings.HasPrefix(content, "#!") {
		_, content, _ = strings.Cut(content, "\n")
	}

	af := &AgentFile{}
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		af.Prompt = strings.TrimSpace(content)
		return af, nil
	}

	rest := strings.TrimPrefix(trimmed, "---")
	front, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		// no closing delimiter: the whole file is the prompt
		af.Prompt = strings.TrimSpace(content)
		return af, nil
	}
	if err := yaml.Unmarshal([]byte(front), af); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	af.Prompt = strings.TrimSpace(body)
	return af, nil
}
