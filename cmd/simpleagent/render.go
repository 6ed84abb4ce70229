package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/parham/aisdk"
)

const (
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiReset  = "\033[0m"
)

// renderer prints stream events. With markdown set, text is held back until
// its item ends and is then rendered with glamour; otherwise deltas are
// printed as they arrive.
type renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer
	inText   bool
}

func newRenderer(out io.Writer, markdown bool) *renderer {
	r := &renderer{out: out}
	if markdown {
		if md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
			r.markdown = md
		}
	}
	return r
}

func (r *renderer) event(e aisdk.Event) {
	switch e.Type {
	case aisdk.EventDelta:
		r.delta(e.Delta)
	case aisdk.EventEnd:
		r.end(e.Message)
	case aisdk.EventIncomplete:
		r.breakLine()
		fmt.Fprintf(r.out, "%s[%s]%s\n", ansiYellow, e.Reason, ansiReset)
	case aisdk.EventFailed:
		r.breakLine()
		fmt.Fprintf(r.out, "%s%s%s\n", ansiRed, e.Reason, ansiReset)
	}
}

func (r *renderer) delta(d aisdk.Delta) {
	switch d.Type {
	case aisdk.DeltaText:
		if r.markdown == nil {
			fmt.Fprint(r.out, d.Text)
			r.inText = true
		}
	case aisdk.DeltaReasoning:
		fmt.Fprint(r.out, ansiDim+d.Text+ansiReset)
		r.inText = true
	}
}

func (r *renderer) end(m aisdk.Message) {
	switch m.Content.Type {
	case aisdk.ContentText:
		if r.markdown != nil {
			r.renderMarkdown(m.Content.Text)
			return
		}
		r.breakLine()
	case aisdk.ContentReasoning:
		r.breakLine()
	case aisdk.ContentToolCall:
		r.breakLine()
		fmt.Fprintf(r.out, "%s▶ %s%s\n", ansiCyan, m.Content.ToolCall.Name, ansiReset)
	case aisdk.ContentToolApprovalRequest:
		r.breakLine()
		fmt.Fprintf(r.out, "%s⚠ %s (needs approval)%s\n", ansiYellow, m.Content.ApprovalRequest.ToolCall.Name, ansiReset)
	}
}

func (r *renderer) breakLine() {
	if r.inText {
		fmt.Fprintln(r.out)
		r.inText = false
	}
}

func (r *renderer) renderMarkdown(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	out, err := r.markdown.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, out)
}

func (r *renderer) contextLine(usage aisdk.Usage, maxContext int) {
	total := deref(usage.InputTokens) + deref(usage.OutputTokens)
	if total == 0 {
		return
	}
	if maxContext > 0 {
		fmt.Fprintf(r.out, "%s── ctx: %.1fk/%.0fk tokens ──%s\n", ansiDim, float64(total)/1000, float64(maxContext)/1000, ansiReset)
		return
	}
	fmt.Fprintf(r.out, "%s── ctx: %.1fk tokens ──%s\n", ansiDim, float64(total)/1000, ansiReset)
}
