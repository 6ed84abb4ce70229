package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/parham/aisdk"
)

const maxCommandOutput = 50000

func execTools(defaultTimeout int) []toolSpec {
	return []toolSpec{{write: true, tool: aisdk.Tool{
		Name: "bash",
		Description: "Run a shell command and BLOCK until it finishes. Returns stdout and stderr. " +
			"Do NOT use for servers, watchers, or anything that runs indefinitely.",
		InputSchema: objectSchema([]string{"command"}, map[string]any{
			"command": prop("string", "Shell command to execute"),
			"timeout": prop("integer", fmt.Sprintf("Timeout in seconds (default %d)", defaultTimeout)),
			"stdin":   prop("string", "String to pipe to the command's stdin"),
			"workdir": prop("string", "Working directory for the command"),
			"env":     prop("object", "Extra environment variables (key-value pairs)"),
		}),
		Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
			return runBash(ctx, input, defaultTimeout)
		},
	}}}
}

// runBash reports a non-zero exit in the output rather than as an error, so
// the model sees what the command printed.
func runBash(ctx context.Context, input json.RawMessage, defaultTimeout int) (string, error) {
	args, err := decodeArgs[struct {
		Command string            `json:"command"`
		Timeout int               `json:"timeout"`
		Stdin   string            `json:"stdin"`
		Workdir string            `json:"workdir"`
		Env     map[string]string `json:"env"`
	}](input)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", errors.New("command is empty")
	}

	timeout := defaultTimeout
	if args.Timeout > 0 {
		timeout = args.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
	cmd.Dir = args.Workdir
	if len(args.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range args.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if args.Stdin != "" {
		cmd.Stdin = strings.NewReader(args.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var out strings.Builder
	out.Write(stdout.Bytes())
	if stderr.Len() > 0 {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("STDERR:\n")
		out.Write(stderr.Bytes())
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		fmt.Fprintf(&out, "\n[timed out after %ds]", timeout)
	case ctx.Err() != nil:
		return "", ctx.Err()
	case runErr != nil:
		fmt.Fprintf(&out, "\n[exit: %v]", runErr)
	}

	result := out.String()
	if result == "" {
		return "(no output)", nil
	}
	if len(result) > maxCommandOutput {
		result = result[:maxCommandOutput] + "\n... [truncated]"
	}
	return result, nil
}
