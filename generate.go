package aisdk

import (
	"context"
	"encoding/json"
	"fmt"
)

// GenerateText runs the tool loop to completion without streaming. On a model
// failure the partial result is returned along with the error so the
// conversation built so far stays inspectable.
func (r *Request) GenerateText(ctx context.Context) (*GenerateResult, error) {
	rn, err := r.newRun()
	if err != nil {
		return nil, err
	}
	if rn.reconcile(ctx) {
		rn.log.Debug("run halted on pending approval")
		return rn.result(), nil
	}

	for {
		opts := rn.beginStep()
		resp, err := rn.model.Generate(ctx, opts)
		if err != nil {
			rn.log.Warn("model generate failed", "err", err)
			rn.stop(stopError(err))
			return rn.result(), fmt.Errorf("generate text: %w", err)
		}

		pending := false
		usage := resp.Usage
		for _, c := range resp.Contents {
			_, gated := rn.handleContent(ctx, c, usage)
			pending = pending || gated
			usage = nil
		}
		rn.finishStep()

		switch {
		case pending:
			rn.stop(stopWaiting())
		case len(resp.Contents) == 0:
			rn.stop(stopError(ErrEmptyResponse))
		case rn.stopHookFired():
			rn.stop(&StopReason{Kind: StopHook})
		case resp.Contents[len(resp.Contents)-1].Type != ContentToolCall:
			rn.stop(&StopReason{Kind: StopFinish})
		default:
			continue
		}
		return rn.result(), nil
	}
}

func (rn *run) result() *GenerateResult {
	return &GenerateResult{opts: rn.snapshot()}
}

// GenerateResult is the final state of a non-streaming run.
type GenerateResult struct {
	opts RunOptions
}

// Options returns the run state the result was built from.
func (g *GenerateResult) Options() RunOptions { return g.opts }

func (g *GenerateResult) StopReason() (StopReason, bool) {
	if g.opts.StopReason == nil {
		return StopReason{}, false
	}
	return *g.opts.StopReason, true
}

func (g *GenerateResult) Conversation() Conversation { return g.opts.Messages }

func (g *GenerateResult) Messages() []Message { return g.opts.Messages.Messages() }

func (g *GenerateResult) Step(id int) (Step, bool) { return g.opts.Messages.Step(id) }

func (g *GenerateResult) Steps() []Step { return g.opts.Messages.Steps() }

func (g *GenerateResult) LastStep() (Step, bool) { return g.opts.Messages.LastStep() }

func (g *GenerateResult) Usage() Usage { return g.opts.Messages.Usage() }

func (g *GenerateResult) Text() (string, bool) { return g.opts.Messages.Text() }

func (g *GenerateResult) Content() (Content, bool) { return g.opts.Messages.Content() }

func (g *GenerateResult) ToolCalls() []ToolCallInfo { return g.opts.Messages.ToolCalls() }

func (g *GenerateResult) ToolResults() []ToolResultInfo { return g.opts.Messages.ToolResults() }

func (g *GenerateResult) PendingToolApprovals() []ToolApprovalRequest {
	return g.opts.Messages.PendingToolApprovals()
}

func (g *GenerateResult) HasPendingApprovals() bool { return g.opts.Messages.HasPendingApprovals() }

// Unmarshal decodes the final text as JSON into v, for runs with a Schema.
func (g *GenerateResult) Unmarshal(v any) error {
	text, ok := g.Text()
	if !ok {
		return ErrNoText
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode response text: %w", err)
	}
	return nil
}
