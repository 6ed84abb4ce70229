package aisdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Request describes one run: the model, its input and how the loop stops.
// Prompt, when set, is appended to Messages as a user message.
type Request struct {
	Model    LanguageModel
	System   string
	Prompt   string
	Messages Conversation
	Tools    *ToolRegistry

	// Schema asks the model for JSON output matching it.
	Schema          json.RawMessage
	StopSequences   []string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int
	ReasoningEffort ReasoningEffort

	// StopWhen is consulted after every step; true halts the run with StopHook.
	StopWhen func(RunOptions) bool
	// OnStepStart runs before each model call and may modify the options.
	OnStepStart  func(*RunOptions)
	OnStepFinish func(RunOptions)

	Logger *slog.Logger
}

// RunOptions is the mutable state of a run.
type RunOptions struct {
	System          string
	Messages        Conversation
	Tools           *ToolRegistry
	Schema          json.RawMessage
	StopSequences   []string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int
	ReasoningEffort ReasoningEffort

	CurrentStep int
	StopReason  *StopReason
}

func (o *RunOptions) modelOptions() ModelOptions {
	return ModelOptions{
		System:          o.System,
		Messages:        o.Messages.Clone(),
		Tools:           o.Tools.Definitions(),
		Schema:          o.Schema,
		StopSequences:   o.StopSequences,
		Temperature:     o.Temperature,
		TopP:            o.TopP,
		MaxOutputTokens: o.MaxOutputTokens,
		ReasoningEffort: o.ReasoningEffort,
	}
}

func (o *RunOptions) append(m Message) {
	o.Messages = append(o.Messages, Tag(o.CurrentStep, m))
}

// StepCountIs stops a run once n steps have been generated.
func StepCountIs(n int) func(RunOptions) bool {
	return func(o RunOptions) bool { return o.CurrentStep >= n }
}

// HasToolCall stops a run once the model has called the named tool.
func HasToolCall(name string) func(RunOptions) bool {
	return func(o RunOptions) bool {
		for _, c := range o.Messages.ToolCalls() {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

// run is the state shared by the generate and stream loops. mu guards opts and
// is never held across a model call, a tool execution or an event send.
type run struct {
	req   *Request
	model LanguageModel
	log   *slog.Logger

	mu   sync.Mutex
	opts RunOptions
}

func (r *Request) newRun() (*run, error) {
	if r.Model == nil {
		return nil, ErrNoModel
	}
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	msgs := r.Messages.Clone()
	step := msgs.MaxStepID()
	if r.Prompt != "" {
		msgs = append(msgs, Tag(step, UserMessage(r.Prompt)))
	}
	return &run{
		req:   r,
		model: r.Model,
		log:   log.With("model", r.Model.Name()),
		opts: RunOptions{
			System:          r.System,
			Messages:        msgs,
			Tools:           r.Tools,
			Schema:          r.Schema,
			StopSequences:   r.StopSequences,
			Temperature:     r.Temperature,
			TopP:            r.TopP,
			MaxOutputTokens: r.MaxOutputTokens,
			ReasoningEffort: r.ReasoningEffort,
			CurrentStep:     step,
		},
	}, nil
}

// reconcile acts on approval responses already in the log: approved calls run,
// denied calls get a denial result. Results are tagged with the step about to
// start. It reports whether the run must halt on a still-pending request.
func (r *run) reconcile(ctx context.Context) (waiting bool) {
	r.mu.Lock()
	pairs := collectApprovals(r.opts.Messages)
	step := r.opts.CurrentStep + 1
	tools := r.opts.Tools
	r.mu.Unlock()

	for _, p := range pairs {
		var result ToolResultInfo
		if p.response.Approved {
			r.log.Debug("executing approved tool call", "tool", p.request.ToolCall.Name, "approval_id", p.request.ApprovalID)
			result = runTool(ctx, tools, p.request.ToolCall)
		} else {
			r.log.Debug("tool call denied", "tool", p.request.ToolCall.Name, "approval_id", p.request.ApprovalID)
			result = denialResult(p.request, p.response)
		}
		r.mu.Lock()
		r.opts.Messages = append(r.opts.Messages, Tag(step, ToolMessage(result)))
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opts.Messages.HasPendingApprovals() {
		return false
	}
	if len(pairs) > 0 {
		r.opts.CurrentStep = step
	}
	r.opts.StopReason = stopWaiting()
	return true
}

// beginStep advances the step counter, runs the start hook and snapshots the
// options for the model call.
func (r *run) beginStep() ModelOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.CurrentStep++
	if r.req.OnStepStart != nil {
		r.req.OnStepStart(&r.opts)
	}
	r.log.Debug("step started", "step", r.opts.CurrentStep, "messages", len(r.opts.Messages))
	return r.opts.modelOptions()
}

// handleContent appends one content item of the current step and executes it
// when it is an ungated tool call. It returns the message that finalizes the
// item and whether the item is now waiting for approval.
func (r *run) handleContent(ctx context.Context, c Content, usage *Usage) (Message, bool) {
	r.mu.Lock()
	if c.Type != ContentToolCall {
		msg := AssistantMessage(c, usage)
		r.opts.append(msg)
		r.mu.Unlock()
		return msg, false
	}

	call := c.ToolCall
	if r.opts.Tools.NeedsApproval(call, r.opts.Messages.Messages()) {
		req := NewToolApprovalRequest(call)
		msg := AssistantMessage(ApprovalRequestContent(req), usage)
		r.opts.append(msg)
		r.mu.Unlock()
		r.log.Debug("tool call needs approval", "tool", call.Name, "approval_id", req.ApprovalID)
		return msg, true
	}

	msg := AssistantMessage(c, usage)
	r.opts.append(msg)
	step := r.opts.CurrentStep
	tools := r.opts.Tools
	r.mu.Unlock()

	r.log.Debug("executing tool call", "tool", call.Name, "id", call.ID)
	result := runTool(ctx, tools, call)
	if result.Err != nil {
		r.log.Debug("tool call failed", "tool", call.Name, "err", result.Err)
	}

	r.mu.Lock()
	r.opts.Messages = append(r.opts.Messages, Tag(step, ToolMessage(result)))
	r.mu.Unlock()
	return msg, false
}

func (r *run) finishStep() {
	if r.req.OnStepFinish == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.req.OnStepFinish(r.opts)
}

func (r *run) stopHookFired() bool {
	if r.req.StopWhen == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.req.StopWhen(r.opts)
}

func (r *run) stop(reason *StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.StopReason = reason
	r.log.Debug("run stopped", "step", r.opts.CurrentStep, "reason", reason.String())
}

func (r *run) snapshot() RunOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.opts
	o.Messages = o.Messages.Clone()
	return o
}
