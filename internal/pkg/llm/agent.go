package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"
)

var agentTools = []llms.Tool{
	DefineLoreSearchTool(),
	DefineWebSearchTool(),
	DefineWebFetchTool(),
}

// runToolLoop 通用的 ReAct 循环：模型决策、并行执行工具、结果回填，直至产出文本
func runToolLoop(ctx context.Context, handler *ToolHandler, systemPrompt, userPrompt string, temp float64, maxIter int) (string, int, int, error) {
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(systemPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(userPrompt),
			},
		},
	}

	var promptTokens, completionTokens int

	for i := 0; i < maxIter; i++ {
		resp, err := fetchAgentCall(ctx, messages, agentTools, temp)
		if err != nil {
			return "", promptTokens, completionTokens, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		p, c := tokenUsage(resp)
		promptTokens += p
		completionTokens += c

		choice := resp.Choices[0]

		// 模型决定直接回复文本
		if len(choice.ToolCalls) == 0 {
			if choice.Content != "" {
				return choice.Content, promptTokens, completionTokens, nil
			}
			continue
		}

		// 模型决定调用工具 - 记录模型意图
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: convertToolCallsToParts(choice.ToolCalls),
		})

		// 并行执行工具并将结果反馈给上下文，进入下一轮迭代
		toolResponses, err := executeTools(ctx, handler, choice.ToolCalls)
		if err != nil {
			return "", promptTokens, completionTokens, err
		}
		messages = append(messages, toolResponses...)
	}
	return "", promptTokens, completionTokens, ErrEmptyReply
}

// executeTools 通用的并行工具执行器
func executeTools(ctx context.Context, handler *ToolHandler, toolCalls []llms.ToolCall) ([]llms.MessageContent, error) {
	g, gCtx := errgroup.WithContext(ctx)
	toolResponses := make([]llms.ContentPart, len(toolCalls))

	for idx, tc := range toolCalls {
		i, toolCall := idx, tc
		g.Go(func() error {
			fn := handler.GetHandleFunction(toolCall.FunctionCall.Name)
			if fn == nil {
				return fmt.Errorf("未定义的工具: %s", toolCall.FunctionCall.Name)
			}

			// 执行具体工具逻辑
			result, err := fn(gCtx, toolCall.FunctionCall.Arguments)
			if err != nil {
				result = fmt.Sprintf("执行失败: %v", err)
			}

			toolResponses[i] = llms.ToolCallResponse{
				ToolCallID: toolCall.ID,
				Name:       toolCall.FunctionCall.Name,
				Content:    result,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var msgs []llms.MessageContent
	for _, tr := range toolResponses {
		msgs = append(msgs, llms.MessageContent{
			Role:  llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{tr},
		})
	}
	return msgs, nil
}

// convertToolCallsToParts 将工具调用转换为 ContentPart
func convertToolCallsToParts(tcs []llms.ToolCall) []llms.ContentPart {
	parts := make([]llms.ContentPart, len(tcs))
	for i, tc := range tcs {
		parts[i] = tc
	}
	return parts
}
