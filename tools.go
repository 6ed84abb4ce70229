package aisdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ToolFunc runs a tool against the model-supplied JSON input.
type ToolFunc func(ctx context.Context, input json.RawMessage) (string, error)

type Tool struct {
	Name          string
	Description   string
	InputSchema   map[string]any
	Execute       ToolFunc
	NeedsApproval NeedsApproval
}

// ToolDefinition is the part of a Tool an adapter sends to the provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolRegistry holds the tools of a run. It is safe for concurrent use. Names
// are not required to be unique: the tool registered last wins.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools []Tool
}

func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

func (r *ToolRegistry) Add(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, t)
}

func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.tools) - 1; i >= 0; i-- {
		if r.tools[i].Name == name {
			return r.tools[i], true
		}
	}
	return Tool{}, false
}

// Definitions lists one definition per name, in order of first registration,
// using the last registered tool for each name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	index := make(map[string]int)
	var defs []ToolDefinition
	for _, t := range r.tools {
		def := ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
		if def.Parameters == nil {
			def.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if i, ok := index[t.Name]; ok {
			defs[i] = def
			continue
		}
		index[t.Name] = len(defs)
		defs = append(defs, def)
	}
	return defs
}

// NeedsApproval evaluates the policy of the called tool. Unknown tools never
// need approval since they cannot run anyway.
func (r *ToolRegistry) NeedsApproval(call ToolCallInfo, messages []Message) bool {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return false
	}
	return t.NeedsApproval.required(call, messages)
}

// Execute runs the named tool. The lock is released before the tool runs.
// Tool failures, including panics, come back as *ToolCallError.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCallInfo) (out string, err error) {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return "", &ToolCallError{Tool: call.Name, Message: ErrToolNotFound.Error(), Cause: ErrToolNotFound}
	}
	if t.Execute == nil {
		return "", &ToolCallError{Tool: call.Name, Message: ErrToolNotExecutable.Error(), Cause: ErrToolNotExecutable}
	}

	defer func() {
		if p := recover(); p != nil {
			err = &ToolCallError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	out, err = t.Execute(ctx, input)
	if err != nil {
		return "", &ToolCallError{Tool: call.Name, Message: err.Error(), Cause: err}
	}
	return out, nil
}

type toolOutcome struct {
	output string
	err    error
}

// runTool executes call on its own goroutine and waits for it, returning early
// if ctx is done. The result is always a ToolResultInfo; failures live in Err.
func runTool(ctx context.Context, tools *ToolRegistry, call ToolCallInfo) ToolResultInfo {
	result := ToolResultInfo{Name: call.Name, ID: call.ID}
	if tools == nil {
		result.Err = &ToolCallError{Tool: call.Name, Message: ErrToolNotFound.Error(), Cause: ErrToolNotFound}
		return result
	}

	done := make(chan toolOutcome, 1)
	go func() {
		out, err := tools.Execute(ctx, call)
		done <- toolOutcome{output: out, err: err}
	}()

	var oc toolOutcome
	select {
	case oc = <-done:
	case <-ctx.Done():
		oc.err = &ToolCallError{Tool: call.Name, Message: ctx.Err().Error(), Cause: ctx.Err()}
	}

	if oc.err != nil {
		result.Err = oc.err
		return result
	}
	result.Output, _ = json.Marshal(oc.output)
	return result
}
