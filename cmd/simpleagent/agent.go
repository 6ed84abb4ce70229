package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/parham/aisdk"
)

type Mode int

const (
	ModePlan Mode = iota
	ModeAction
)

func (m Mode) String() string {
	if m == ModeAction {
		return "action"
	}
	return "plan"
}

// Approver answers a tool call that is waiting for the user.
type Approver func(ctx context.Context, req aisdk.ToolApprovalRequest) (aisdk.ToolApprovalResponse, error)

type Agent struct {
	model     aisdk.LanguageModel
	cfg       Config
	session   *Session
	store     *SessionStore
	memory    Memory
	mode      Mode
	agentFile *AgentFile
	tools     toolSet
	log       *slog.Logger
	out       io.Writer
	render    *renderer

	approve Approver
	ask     askFunc
}

func NewAgent(model aisdk.LanguageModel, cfg Config, session *Session, store *SessionStore, af *AgentFile, log *slog.Logger, out io.Writer) *Agent {
	if session == nil {
		session = NewSession(model.Name(), cfg.ProviderCfg(cfg.Provider).Model)
	}
	a := &Agent{
		model:     model,
		cfg:       cfg,
		session:   session,
		store:     store,
		memory:    NewMemory(store.AgentDir()),
		mode:      ModePlan,
		agentFile: af,
		log:       log,
		out:       out,
		render:    newRenderer(out, cfg.Markdown),
		approve: func(context.Context, aisdk.ToolApprovalRequest) (aisdk.ToolApprovalResponse, error) {
			return aisdk.ToolApprovalResponse{}, errors.New("no approver configured")
		},
		ask: func(context.Context, string) (string, error) { return "no response", nil },
	}
	a.tools = newToolSet(builtinTools(cfg.BashTimeout, a.askUser), cfg.Tools)
	return a
}

// askUser answers for the user in action mode, where the agent is expected
// to decide on its own.
func (a *Agent) askUser(ctx context.Context, question string) (string, error) {
	if a.mode == ModeAction {
		return "proceed", nil
	}
	return a.ask(ctx, question)
}

func (a *Agent) systemPrompt() string {
	cwd, _ := os.Getwd()
	var sb strings.Builder

	if a.agentFile != nil && a.agentFile.Prompt != "" {
		sb.WriteString(a.agentFile.Prompt)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("You are simpleagent, a coding assistant running in the user's terminal.\n\n")
	}

	sb.WriteString("Working directory: " + cwd + "\n")
	sb.WriteString("Current mode: " + a.mode.String() + "\n\n")
	sb.WriteString("Available tools: " + strings.Join(a.tools.Names(), ", ") + "\n\n")

	sb.WriteString("CRITICAL RULES:\n")
	sb.WriteString("- ACT, don't narrate. Never say you will do something without calling the tool in the same response.\n")
	sb.WriteString("- Read files before editing. Use edit_file for small changes, write_file for new files or full rewrites.\n")
	sb.WriteString("- bash BLOCKS until the command exits. Never use it for servers or watchers.\n")
	sb.WriteString("- A tool result saying the call was denied means the user refused it. Do not retry the same call.\n")
	sb.WriteString("- Be concise. When presenting choices, format them as numbered options.\n\n")

	if a.mode == ModePlan {
		sb.WriteString("PLAN mode: gather information and build a plan before any code is written.\n")
		sb.WriteString("- Read-only tools run freely. Every write tool needs the user's approval, so prefer proposing changes.\n")
		sb.WriteString("- Ask the user about anything you are unsure of with ask_user.\n")
		sb.WriteString("- Finish with a clear plan the user can approve by switching to action mode.\n\n")
	} else {
		sb.WriteString("ACTION mode: full tool access. Execute tasks directly and autonomously.\n")
		sb.WriteString("- Do not ask for confirmation for routine work. Destructive shell commands still need approval.\n")
		sb.WriteString("- If you hit an error, debug and fix it yourself.\n\n")
	}

	sb.WriteString(a.memory.Section())
	return sb.String()
}

func (a *Agent) prompt() string { return fmt.Sprintf("[%s] > ", a.mode) }

func (a *Agent) toggleMode() {
	if a.mode == ModePlan {
		a.mode = ModeAction
		fmt.Fprint(a.out, "\r\033[K"+ansiYellow+"Switched to ACTION mode."+ansiReset+"\r\n")
	} else {
		a.mode = ModePlan
		fmt.Fprint(a.out, "\r\033[K"+ansiCyan+"Switched to PLAN mode."+ansiReset+"\r\n")
	}
}

// request builds one run over the session. MaxSteps counts from the steps
// already in the session, and only stops a step that would lead to another.
func (a *Agent) request(prompt string) *aisdk.Request {
	start := a.session.Messages.MaxStepID()
	return &aisdk.Request{
		Model:           a.model,
		System:          a.systemPrompt(),
		Prompt:          prompt,
		Messages:        a.session.Messages,
		Tools:           a.tools.Registry(a.mode),
		MaxOutputTokens: a.cfg.ProviderCfg(a.cfg.Provider).MaxTokens,
		StopWhen: func(o aisdk.RunOptions) bool {
			if a.cfg.MaxSteps <= 0 || o.CurrentStep-start < a.cfg.MaxSteps {
				return false
			}
			step, ok := o.Messages.LastStep()
			return ok && len(step.ToolCalls()) > 0
		},
		OnStepFinish: func(o aisdk.RunOptions) {
			a.checkpoint(o.Messages.Clone())
		},
		Logger: a.log,
	}
}

func (a *Agent) checkpoint(c aisdk.Conversation) {
	a.session.Messages = c
	if err := a.store.Save(a.session); err != nil {
		a.log.Warn("saving session", "session", a.session.ID, "err", err)
	}
}

// Turn streams one user turn. Runs that halt on a pending approval are
// resumed after the user answers, until the model finishes or fails.
func (a *Agent) Turn(ctx context.Context, input string) error {
	prompt := input
	for {
		s, err := a.request(prompt).StreamText(ctx)
		if err != nil {
			return err
		}
		prompt = ""
		for e := range s.Events() {
			a.render.event(e)
		}
		s.Wait()
		a.checkpoint(s.Conversation())

		reason, _ := s.StopReason()
		switch {
		case reason.IsWaitingForApproval():
			if err := a.answerApprovals(ctx, s.PendingToolApprovals()); err != nil {
				return err
			}
			continue
		case reason.Kind == aisdk.StopError:
			return reason.Err
		case reason.Kind == aisdk.StopHook:
			fmt.Fprintf(a.out, "Stopped after %d steps. Send a message to continue.\n", a.cfg.MaxSteps)
		}
		if step, ok := s.LastStep(); ok {
			a.render.contextLine(step.Usage(), maxContext(a.model))
		}
		return nil
	}
}

func (a *Agent) answerApprovals(ctx context.Context, pending []aisdk.ToolApprovalRequest) error {
	step := a.session.Messages.MaxStepID()
	for _, req := range pending {
		resp, err := a.approve(ctx, req)
		if err != nil {
			return fmt.Errorf("approving %s: %w", req.ToolCall.Name, err)
		}
		a.log.Debug("tool approval answered", "tool", req.ToolCall.Name, "approved", resp.Approved)
		a.session.Messages = append(a.session.Messages, aisdk.Tag(step, aisdk.ToolApprovalMessage(resp)))
	}
	a.checkpoint(a.session.Messages)
	return nil
}

// consoleApprover shows the call and asks for a single key.
func consoleApprover(con *console) Approver {
	return func(_ context.Context, req aisdk.ToolApprovalRequest) (aisdk.ToolApprovalResponse, error) {
		args := string(req.ToolCall.Input)
		if len(args) > 400 {
			args = args[:400] + "..."
		}
		fmt.Fprintf(con.out, "%s%s%s %s\n", ansiYellow, req.ToolCall.Name, ansiReset, args)
		ok, err := con.Confirm("Run it?")
		if err != nil {
			return aisdk.ToolApprovalResponse{}, err
		}
		if ok {
			return aisdk.Approve(req.ApprovalID), nil
		}
		return aisdk.Deny(req.ApprovalID, ""), nil
	}
}

func maxContext(m aisdk.LanguageModel) int {
	if mc, ok := m.(interface{ MaxContext() int }); ok {
		return mc.MaxContext()
	}
	return 0
}

// runTurn runs a turn that Ctrl+C cancels without leaving the REPL.
func (a *Agent) runTurn(ctx context.Context, input string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	switch err := a.Turn(turnCtx, input); {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.out, "\nInterrupted.")
	case err != nil:
		fmt.Fprintf(a.out, "\nError: %v\n", err)
	}
}

func (a *Agent) RunLoop(ctx context.Context, con *console) {
	if a.session.Messages.HasPendingApprovals() {
		fmt.Fprintln(a.out, "Session has tool calls waiting for approval.")
		a.runTurn(ctx, "")
	}
	for {
		input, err := con.ReadLine(a.prompt, a.toggleMode)
		if err != nil {
			fmt.Fprintln(a.out, "Goodbye!")
			return
		}
		input = strings.TrimSpace(input)
		switch {
		case input == "":
		case strings.HasPrefix(input, "/"):
			if !a.handleSlashCommand(ctx, input) {
				return
			}
		default:
			a.runTurn(ctx, input)
		}
	}
}

// handleSlashCommand returns false when the REPL should exit.
func (a *Agent) handleSlashCommand(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		fmt.Fprintln(a.out, "Goodbye!")
		return false
	case "/plan":
		a.mode = ModePlan
		fmt.Fprintln(a.out, "Switched to PLAN mode.")
	case "/action":
		a.mode = ModeAction
		fmt.Fprintln(a.out, "Switched to ACTION mode.")
	case "/new":
		a.session = NewSession(a.model.Name(), a.cfg.ProviderCfg(a.cfg.Provider).Model)
		fmt.Fprintln(a.out, "Started new session.")
	case "/rename":
		if arg == "" {
			fmt.Fprintln(a.out, "Usage: /rename <name>")
			break
		}
		if err := a.store.Rename(a.session.ID, arg); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(a.out, "Session renamed to %q.\n", arg)
	case "/sessions":
		a.store.List(a.out)
	case "/compact":
		if err := a.compact(ctx); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
		}
	case "/usage":
		u := a.session.Messages.Usage()
		fmt.Fprintf(a.out, "input: %d  output: %d  reasoning: %d  cached: %d\n",
			deref(u.InputTokens), deref(u.OutputTokens), deref(u.ReasoningTokens), deref(u.CachedTokens))
	case "/model":
		if arg == "" {
			fmt.Fprintf(a.out, "Current model: %s\n", a.cfg.ProviderCfg(a.cfg.Provider).Model)
			break
		}
		next := a.cfg
		next.Providers = cloneProviders(a.cfg.Providers)
		next.setProvider(next.Provider, func(pc *aisdk.ProviderConfig) { pc.Model = arg })
		a.switchModel(ctx, next, "Model switched to "+arg+".")
	case "/provider":
		if arg == "" {
			fmt.Fprintf(a.out, "Current provider: %s (available: %s)\n", a.model.Name(), strings.Join(aisdk.Providers(), ", "))
			break
		}
		next := a.cfg
		next.Provider = arg
		a.switchModel(ctx, next, "Provider switched to "+arg+".")
	case "/memory":
		if arg == "" {
			fmt.Fprintln(a.out, "Usage: /memory <text to remember>")
			break
		}
		if err := a.memory.Append(arg); err != nil {
			fmt.Fprintf(a.out, "Error saving memory: %v\n", err)
			break
		}
		fmt.Fprintln(a.out, "Memory saved.")
	case "/help":
		printHelp(a.out)
	default:
		fmt.Fprintf(a.out, "Unknown command: %s (try /help)\n", cmd)
	}
	return true
}

func (a *Agent) switchModel(ctx context.Context, next Config, msg string) {
	if err := providerReady(next); err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	model, err := aisdk.NewLanguageModel(ctx, next.Provider, next.ProviderCfg(next.Provider))
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	a.model, a.cfg = model, next
	fmt.Fprintln(a.out, msg)
}

func cloneProviders(in map[string]aisdk.ProviderConfig) map[string]aisdk.ProviderConfig {
	out := make(map[string]aisdk.ProviderConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

const compactPrompt = "Summarize the entire conversation so far into a concise summary that preserves all important context, " +
	"decisions made, code changes, and current state. This summary will replace the conversation history."

// compact replaces the session history with a model-written summary.
func (a *Agent) compact(ctx context.Context) error {
	if a.session.Messages.HasPendingApprovals() {
		return errors.New("answer the pending tool approvals before compacting")
	}
	fmt.Fprintln(a.out, "Compacting session...")
	res, err := (&aisdk.Request{
		Model:    a.model,
		System:   a.systemPrompt(),
		Prompt:   compactPrompt,
		Messages: a.session.Messages,
		Logger:   a.log,
	}).GenerateText(ctx)
	if err != nil {
		return fmt.Errorf("compacting: %w", err)
	}
	summary, ok := res.Text()
	if !ok {
		return errors.New("compacting: model returned no summary")
	}
	a.checkpoint(aisdk.NewConversation(
		aisdk.UserMessage("Previous conversation summary:"),
		aisdk.AssistantMessage(aisdk.TextContent(summary), nil),
	))
	fmt.Fprintln(a.out, "Session compacted.")
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands:
  /plan          Switch to plan mode (write tools need approval)
  /action        Switch to action mode (full access)
  /new           Start a new session
  /rename <name> Name the current session
  /sessions      List all sessions
  /compact       Compress conversation history
  /usage         Show token usage of the session
  /model <name>  Switch model
  /provider <n>  Switch provider
  /memory <text> Save a note to memory
  /help          Show this help
  /exit          Quit

Keys:
  Shift+Tab      Toggle plan/action mode
  Ctrl+C         Interrupt streaming or exit
  Ctrl+D         Exit`)
}
