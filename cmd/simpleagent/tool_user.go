package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parham/aisdk"
)

// askFunc puts a question to the user and returns the answer.
type askFunc func(ctx context.Context, question string) (string, error)

func userTools(ask askFunc) []toolSpec {
	return []toolSpec{{tool: aisdk.Tool{
		Name:        "ask_user",
		Description: "Ask the user a question and wait for their response.",
		InputSchema: objectSchema([]string{"question"}, map[string]any{
			"question": prop("string", "Question to ask the user"),
		}),
		Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
			args, err := decodeArgs[struct {
				Question string `json:"question"`
			}](input)
			if err != nil {
				return "", err
			}
			if args.Question == "" {
				return "", errors.New("question is empty")
			}
			return ask(ctx, args.Question)
		},
	}}}
}
