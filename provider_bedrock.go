package aisdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockModel talks to the Bedrock Converse API. Credentials come from the
// default AWS chain, not from ProviderConfig.
type BedrockModel struct {
	client    *bedrockruntime.Client
	model     string
	maxTokens int
}

func NewBedrockModel(ctx context.Context, cfg ProviderConfig) (*BedrockModel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
		}
	})
	return &BedrockModel{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (p *BedrockModel) Name() string { return "bedrock" }

func (p *BedrockModel) MaxContext() int { return 200000 }

type bedrockRequest struct {
	system    []types.SystemContentBlock
	messages  []types.Message
	inference *types.InferenceConfiguration
	tools     *types.ToolConfiguration
}

func (p *BedrockModel) request(opts ModelOptions) bedrockRequest {
	req := bedrockRequest{messages: toBedrockMessages(wireMessages(opts.Messages))}
	if system := withSchemaInstruction(opts.System, opts.Schema); system != "" {
		req.system = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	inf := &types.InferenceConfiguration{StopSequences: opts.StopSequences}
	if maxTokens := firstPositive(opts.MaxOutputTokens, p.maxTokens); maxTokens > 0 {
		inf.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if opts.Temperature != nil {
		inf.Temperature = aws.Float32(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		inf.TopP = aws.Float32(float32(*opts.TopP))
	}
	req.inference = inf

	if len(opts.Tools) > 0 {
		tools := make([]types.Tool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.Parameters)},
				},
			})
		}
		req.tools = &types.ToolConfiguration{Tools: tools}
	}
	return req
}

func (p *BedrockModel) Generate(ctx context.Context, opts ModelOptions) (*Response, error) {
	req := p.request(opts)
	out, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.model),
		Messages:        req.messages,
		System:          req.system,
		InferenceConfig: req.inference,
		ToolConfig:      req.tools,
	})
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &Response{Usage: bedrockUsage(out.Usage)}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Contents = append(resp.Contents, TextContent(b.Value))
		case *types.ContentBlockMemberReasoningContent:
			if rt, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				resp.Contents = append(resp.Contents, ReasoningContent(aws.ToString(rt.Value.Text)))
			}
		case *types.ContentBlockMemberToolUse:
			resp.Contents = append(resp.Contents, ToolCallContent(ToolCallInfo{
				Name:  aws.ToString(b.Value.Name),
				ID:    aws.ToString(b.Value.ToolUseId),
				Input: documentJSON(b.Value.Input),
			}))
		}
	}
	return resp, nil
}

// bedrockBlock accumulates one streamed content block.
type bedrockBlock struct {
	kind ContentType
	id   string
	name string
	buf  strings.Builder
}

func (p *BedrockModel) Stream(ctx context.Context, opts ModelOptions) (<-chan StreamChunk, error) {
	req := p.request(opts)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(p.model),
		Messages:        req.messages,
		System:          req.system,
		InferenceConfig: req.inference,
		ToolConfig:      req.tools,
	})
	if err != nil {
		return nil, p.wrapError(err)
	}

	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		var (
			blocks []*bedrockBlock
			byIdx  = make(map[int32]*bedrockBlock)
			usage  *Usage
		)
		block := func(idx *int32, kind ContentType) *bedrockBlock {
			i := aws.ToInt32(idx)
			if b, ok := byIdx[i]; ok {
				return b
			}
			b := &bedrockBlock{kind: kind}
			byIdx[i] = b
			blocks = append(blocks, b)
			return b
		}

		for event := range stream.Events() {
			var d Delta
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				start, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse)
				if !ok {
					continue
				}
				b := block(v.Value.ContentBlockIndex, ContentToolCall)
				b.id = aws.ToString(start.Value.ToolUseId)
				b.name = aws.ToString(start.Value.Name)
				d = Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{Index: int(aws.ToInt32(v.Value.ContentBlockIndex)), ID: b.id, Name: b.name}}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				idx := v.Value.ContentBlockIndex
				switch delta := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					block(idx, ContentText).buf.WriteString(delta.Value)
					d = Delta{Type: DeltaText, Text: delta.Value}
				case *types.ContentBlockDeltaMemberReasoningContent:
					rt, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText)
					if !ok {
						continue
					}
					block(idx, ContentReasoning).buf.WriteString(rt.Value)
					d = Delta{Type: DeltaReasoning, Text: rt.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					b := block(idx, ContentToolCall)
					args := aws.ToString(delta.Value.Input)
					b.buf.WriteString(args)
					d = Delta{Type: DeltaToolCall, ToolCall: &ToolCallDelta{Index: int(aws.ToInt32(idx)), ID: b.id, Args: args}}
				default:
					continue
				}

			case *types.ConverseStreamOutputMemberMetadata:
				usage = bedrockUsage(v.Value.Usage)
				continue

			default:
				continue
			}
			if !sendChunk(ctx, ch, deltaChunk(d)) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, ch, StreamChunk{Err: p.wrapError(err)})
			return
		}

		contents := make([]Content, 0, len(blocks))
		for _, b := range blocks {
			switch b.kind {
			case ContentText:
				contents = append(contents, TextContent(b.buf.String()))
			case ContentReasoning:
				contents = append(contents, ReasoningContent(b.buf.String()))
			case ContentToolCall:
				input := json.RawMessage(b.buf.String())
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				contents = append(contents, ToolCallContent(ToolCallInfo{Name: b.name, ID: b.id, Input: input}))
			}
		}
		finishRound(ctx, ch, contents, usage)
	}()

	return ch, nil
}

func (p *BedrockModel) wrapError(err error) error {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	return wrapProviderError("bedrock", status, err)
}

func bedrockUsage(u *types.TokenUsage) *Usage {
	if u == nil {
		return nil
	}
	usage := &Usage{
		InputTokens:  Tokens(int(aws.ToInt32(u.InputTokens))),
		OutputTokens: Tokens(int(aws.ToInt32(u.OutputTokens))),
		TotalTokens:  Tokens(int(aws.ToInt32(u.TotalTokens))),
	}
	if u.CacheReadInputTokens != nil {
		usage.CachedTokens = Tokens(int(*u.CacheReadInputTokens))
	}
	return usage
}

func documentJSON(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v map[string]any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil || v == nil {
		return json.RawMessage("{}")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return out
}

func toBedrockMessages(msgs []Message) []types.Message {
	var out []types.Message
	push := func(role types.ConversationRole, block types.ContentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			return
		}
		out = append(out, types.Message{Role: role, Content: []types.ContentBlock{block}})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleDeveloper, RoleSystem:
			push(types.ConversationRoleUser, &types.ContentBlockMemberText{Value: m.Text})
		case RoleAssistant:
			switch m.Content.Type {
			case ContentText:
				push(types.ConversationRoleAssistant, &types.ContentBlockMemberText{Value: m.Content.Text})
			case ContentToolCall:
				tc := m.Content.ToolCall
				push(types.ConversationRoleAssistant, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(inputMap(tc.Input)),
					},
				})
			}
		case RoleTool:
			r := m.ToolResult
			status := types.ToolResultStatusSuccess
			if r.Err != nil {
				status = types.ToolResultStatusError
			}
			push(types.ConversationRoleUser, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(r.ID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: r.OutputString()},
					},
					Status: status,
				},
			})
		}
	}
	return out
}

var _ LanguageModel = (*BedrockModel)(nil)
