package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/parham/aisdk"
)

// Response configures one model round in a scripted sequence. Chunks, when
// set, is what Stream emits for the round; otherwise Stream derives a text
// delta plus a Done per content item from Contents.
type Response struct {
	Contents []aisdk.Content
	Usage    *aisdk.Usage
	Chunks   []aisdk.StreamChunk
	Err      error
}

// Text is a round answering with a single text item.
func Text(s string) Response {
	return Response{Contents: []aisdk.Content{aisdk.TextContent(s)}}
}

// Call is a round answering with a single tool call.
func Call(id, name, input string) Response {
	return Response{Contents: []aisdk.Content{aisdk.ToolCallContent(aisdk.ToolCallInfo{
		ID:    id,
		Name:  name,
		Input: []byte(input),
	})}}
}

// ScriptedModel is a deterministic LanguageModel for loop tests.
type ScriptedModel struct {
	mu        sync.Mutex
	index     int
	responses []Response
	calls     []aisdk.ModelOptions
}

func NewScriptedModel(responses ...Response) *ScriptedModel {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedModel{responses: cloned}
}

var _ aisdk.LanguageModel = (*ScriptedModel)(nil)

func (m *ScriptedModel) Name() string { return "scripted" }

func (m *ScriptedModel) next(opts aisdk.ModelOptions) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, opts)
	if m.index >= len(m.responses) {
		return Response{}, fmt.Errorf("script exhausted at round %d", m.index+1)
	}
	current := m.responses[m.index]
	m.index++
	return current, nil
}

func (m *ScriptedModel) Generate(_ context.Context, opts aisdk.ModelOptions) (*aisdk.Response, error) {
	r, err := m.next(opts)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &aisdk.Response{Contents: r.Contents, Usage: r.Usage}, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, opts aisdk.ModelOptions) (<-chan aisdk.StreamChunk, error) {
	r, err := m.next(opts)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}

	chunks := r.Chunks
	if chunks == nil {
		chunks = chunksFor(r)
	}
	ch := make(chan aisdk.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func chunksFor(r Response) []aisdk.StreamChunk {
	var out []aisdk.StreamChunk
	for i, c := range r.Contents {
		if c.Type == aisdk.ContentText {
			out = append(out, aisdk.StreamChunk{
				Kind:  aisdk.ChunkDelta,
				Delta: aisdk.Delta{Type: aisdk.DeltaText, Text: c.Text},
			})
		}
		done := aisdk.StreamChunk{Kind: aisdk.ChunkDone, Final: c}
		if i == 0 {
			done.Usage = r.Usage
		}
		out = append(out, done)
	}
	return out
}

// Calls returns the options of every round requested so far.
func (m *ScriptedModel) Calls() []aisdk.ModelOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]aisdk.ModelOptions, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount is the number of rounds requested so far.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
