package main

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/parham/aisdk"
	"github.com/samber/lo"
)

// toolSpec is a built-in tool and whether it changes the workspace.
type toolSpec struct {
	tool  aisdk.Tool
	write bool
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func decodeArgs[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

// toolSet is the tools an agent may offer after config filtering.
type toolSet struct {
	specs []toolSpec
}

// newToolSet drops denied tools. A non-empty allow list denies everything
// not on it.
func newToolSet(specs []toolSpec, cfg ToolsConfig) toolSet {
	denied := lo.Keyify(cfg.Deny)
	allowed := lo.Keyify(cfg.Allow)
	return toolSet{specs: lo.Filter(specs, func(s toolSpec, _ int) bool {
		if _, ok := denied[s.tool.Name]; ok {
			return false
		}
		_, ok := allowed[s.tool.Name]
		return len(allowed) == 0 || ok
	})}
}

func (s toolSet) Names() []string {
	return lo.Map(s.specs, func(t toolSpec, _ int) string { return t.tool.Name })
}

// Registry builds the tools for one run. In plan mode every write tool waits
// for the user's approval; in action mode only risky shell commands do.
func (s toolSet) Registry(mode Mode) *aisdk.ToolRegistry {
	reg := aisdk.NewToolRegistry()
	for _, spec := range s.specs {
		t := spec.tool
		switch {
		case mode == ModePlan && spec.write:
			t.NeedsApproval = aisdk.ApprovalAlways
		case t.Name == "bash":
			t.NeedsApproval = aisdk.ApprovalDynamic(riskyCommand)
		}
		reg.Add(t)
	}
	return reg
}

var riskyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bgit\s+(push|reset\s+--hard|clean\s+-[a-z]*f)`),
	regexp.MustCompile(`\b(mkfs|shutdown|reboot)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(ba|z)?sh\b`),
	regexp.MustCompile(`\bchmod\s+-R\b`),
}

// riskyCommand gates bash calls that are destructive or hard to undo.
func riskyCommand(input json.RawMessage, _ aisdk.ApprovalContext) bool {
	args, err := decodeArgs[struct {
		Command string `json:"command"`
	}](input)
	if err != nil {
		return true
	}
	return lo.SomeBy(riskyPatterns, func(re *regexp.Regexp) bool { return re.MatchString(args.Command) })
}

func builtinTools(bashTimeout int, ask askFunc) []toolSpec {
	var specs []toolSpec
	specs = append(specs, fsTools()...)
	specs = append(specs, execTools(bashTimeout)...)
	specs = append(specs, searchTools()...)
	specs = append(specs, userTools(ask)...)
	return specs
}
