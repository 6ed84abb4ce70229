package aisdk

import (
	"context"
	"fmt"
	"sync"
)

type EventType string

const (
	EventStart      EventType = "start"
	EventDelta      EventType = "delta"
	EventEnd        EventType = "end"
	EventIncomplete EventType = "incomplete"
	EventFailed     EventType = "failed"
)

// Event is one item of a streaming run. Delta is set for EventDelta, Message
// for EventEnd and Reason for EventIncomplete and EventFailed.
type Event struct {
	Type    EventType
	Delta   Delta
	Message Message
	Reason  string
}

const stoppedByHook = "Stopped by hook"

// StreamText starts the tool loop on a background goroutine and returns at
// once. Events must be drained, or ctx cancelled, for delivery to finish;
// the loop itself never blocks on a slow consumer.
func (r *Request) StreamText(ctx context.Context) (*StreamResult, error) {
	rn, err := r.newRun()
	if err != nil {
		return nil, err
	}
	s := &StreamResult{
		run:    rn,
		events: newEventQueue(),
		done:   make(chan struct{}),
	}
	go s.events.forward(ctx)
	go s.loop(ctx)
	return s, nil
}

// StreamResult is a live streaming run. Accessors are safe to call while the
// run is in progress and reflect the state at the time of the call.
type StreamResult struct {
	run    *run
	events *eventQueue
	done   chan struct{}
}

// Events returns the event sequence. It is closed after the run halts and
// every event has been delivered, or when the context is cancelled.
func (s *StreamResult) Events() <-chan Event { return s.events.out }

// Done is closed once the run has halted.
func (s *StreamResult) Done() <-chan struct{} { return s.done }

// Wait blocks until the run has halted.
func (s *StreamResult) Wait() { <-s.done }

func (s *StreamResult) emit(e Event) { s.events.push(e) }

func (s *StreamResult) loop(ctx context.Context) {
	defer close(s.done)
	defer s.events.close()
	rn := s.run

	s.emit(Event{Type: EventStart})
	if rn.reconcile(ctx) {
		rn.log.Debug("run halted on pending approval")
		return
	}

	for {
		opts := rn.beginStep()
		round := s.streamRound(ctx, opts)
		if round.err == nil && round.contents == 0 {
			rn.finishStep()
		}

		switch {
		case round.err != nil:
			rn.stop(stopError(round.err))
		case round.pending:
			rn.stop(stopWaiting())
		case round.contents == 0:
			rn.stop(stopError(ErrEmptyResponse))
		case round.hooked:
			rn.stop(&StopReason{Kind: StopHook})
		case round.last != ContentToolCall:
			rn.stop(&StopReason{Kind: StopFinish})
		default:
			continue
		}
		return
	}
}

type roundOutcome struct {
	contents int
	last     ContentType
	pending  bool
	hooked   bool
	err      error
}

// streamRound consumes one model stream. Each finished item runs the step
// finish hook and then the stop hook. It stops reading early when the stop
// hook fires, cancelling the adapter through the round context.
func (s *StreamResult) streamRound(ctx context.Context, opts ModelOptions) roundOutcome {
	rn := s.run
	var out roundOutcome

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := rn.model.Stream(roundCtx, opts)
	if err != nil {
		return s.fail(err)
	}

	for chunk := range ch {
		if chunk.Err != nil {
			return s.fail(chunk.Err)
		}
		if chunk.Kind == ChunkDelta {
			s.emit(Event{Type: EventDelta, Delta: chunk.Delta})
			continue
		}

		msg, gated := rn.handleContent(ctx, chunk.Final, chunk.Usage)
		out.contents++
		out.last = chunk.Final.Type
		out.pending = out.pending || gated
		rn.finishStep()
		if rn.stopHookFired() {
			out.hooked = true
			s.emit(Event{Type: EventIncomplete, Reason: stoppedByHook})
			return out
		}
		s.emit(Event{Type: EventEnd, Message: msg})
	}

	if err := ctx.Err(); err != nil {
		return s.fail(err)
	}
	return out
}

func (s *StreamResult) fail(err error) roundOutcome {
	s.run.log.Warn("model streaming failed", "err", err)
	s.emit(Event{Type: EventFailed, Reason: fmt.Sprintf("Model streaming failed: %v", err)})
	return roundOutcome{err: err}
}

func (s *StreamResult) Options() RunOptions { return s.run.snapshot() }

func (s *StreamResult) StopReason() (StopReason, bool) {
	o := s.run.snapshot()
	if o.StopReason == nil {
		return StopReason{}, false
	}
	return *o.StopReason, true
}

// Conversation returns a copy of the log as it stands.
func (s *StreamResult) Conversation() Conversation { return s.run.snapshot().Messages }

func (s *StreamResult) Messages() []Message { return s.Conversation().Messages() }

func (s *StreamResult) Step(id int) (Step, bool) { return s.Conversation().Step(id) }

func (s *StreamResult) Steps() []Step { return s.Conversation().Steps() }

func (s *StreamResult) LastStep() (Step, bool) { return s.Conversation().LastStep() }

func (s *StreamResult) Usage() Usage { return s.Conversation().Usage() }

func (s *StreamResult) Text() (string, bool) { return s.Conversation().Text() }

func (s *StreamResult) Content() (Content, bool) { return s.Conversation().Content() }

func (s *StreamResult) ToolCalls() []ToolCallInfo { return s.Conversation().ToolCalls() }

func (s *StreamResult) ToolResults() []ToolResultInfo { return s.Conversation().ToolResults() }

func (s *StreamResult) PendingToolApprovals() []ToolApprovalRequest {
	return s.Conversation().PendingToolApprovals()
}

func (s *StreamResult) HasPendingApprovals() bool { return s.Conversation().HasPendingApprovals() }

// eventQueue decouples the producer from the consumer: push never blocks and
// forward drains into out in order.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
	out    chan Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1), out: make(chan Event)}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) forward(ctx context.Context) {
	defer close(q.out)
	for {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()

		for _, e := range items {
			select {
			case q.out <- e:
			case <-ctx.Done():
				return
			}
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return
		}
	}
}
