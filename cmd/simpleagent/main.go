package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/parham/aisdk"
	"golang.org/x/term"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		providerFlag string
		modelFlag    string
		sessionFlag  string
		showVersion  bool
		showSessions bool
		resumeFlag   bool
		verbose      bool
	)

	flag.StringVar(&providerFlag, "provider", "", "LLM provider ("+strings.Join(aisdk.Providers(), ", ")+")")
	flag.StringVar(&modelFlag, "m", "", "Model name")
	flag.StringVar(&modelFlag, "model", "", "Model name")
	flag.StringVar(&sessionFlag, "session", "", "Resume specific session by ID or name")
	flag.BoolVar(&showVersion, "version", false, "Print version")
	flag.BoolVar(&showSessions, "sessions", false, "List all sessions")
	flag.BoolVar(&resumeFlag, "resume", false, "Resume last session")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("simpleagent v%s\n", version)
		return nil
	}

	// defaults, user-wide, project, .env, environment
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	args := flag.Args()
	var agentFile *AgentFile
	var agentName string
	if len(args) > 0 && strings.HasSuffix(args[0], ".agent") {
		agentFile, err = ParseAgentFile(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		agentName = filepath.Base(agentFile.Path)
		args = args[1:]
		fmt.Printf("Agent: %s\n", agentFile.Path)
	}
	inlinePrompt := strings.Join(args, " ")

	cfg.ApplyAgentFile(agentFile)
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.setProvider(cfg.Provider, func(pc *aisdk.ProviderConfig) { pc.Model = modelFlag })
	}

	level := parseLogLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	log := newLogger(os.Stderr, level, !term.IsTerminal(int(os.Stderr.Fd())))

	store := NewSessionStore(agentDirFor(agentName))
	if showSessions {
		store.List(os.Stdout)
		return nil
	}

	if err := providerReady(cfg); err != nil {
		return err
	}
	ctx := context.Background()
	model, err := aisdk.NewLanguageModel(ctx, cfg.Provider, cfg.ProviderCfg(cfg.Provider))
	if err != nil {
		return err
	}
	log.Debug("model ready", "provider", cfg.Provider, "model", cfg.ProviderCfg(cfg.Provider).Model)

	con := newConsole(os.Stdin, os.Stdout)

	var session *Session
	switch {
	case sessionFlag != "":
		if session, err = store.LoadByIDOrName(sessionFlag); err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
	case resumeFlag:
		session = store.Last()
	case inlinePrompt == "":
		session = store.Pick(os.Stdout, func(prompt string) (string, error) {
			return con.ReadLine(func() string { return prompt }, nil)
		})
	}

	agent := NewAgent(model, cfg, session, store, agentFile, log, os.Stdout)
	agent.approve = consoleApprover(con)
	agent.ask = func(_ context.Context, question string) (string, error) { return con.Ask(question) }

	// resumed sessions start in action mode, new ones in plan mode
	if session != nil && len(session.Messages) > 0 {
		agent.mode = ModeAction
	}

	if inlinePrompt != "" {
		agent.mode = ModeAction
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		return agent.Turn(turnCtx, inlinePrompt)
	}

	agent.RunLoop(ctx, con)
	return nil
}
