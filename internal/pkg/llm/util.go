package llm

import (
	"Chorus/internal/api/config"
	"context"
	"errors"
	log "log/slog"
	"os"

	"github.com/tmc/langchaingo/llms"
)

func readPrompt(file string) string {
	data, err := os.ReadFile(file)
	if err != nil {
		log.Error("读取prompt文件失败", "err", err)
		return ""
	}
	return string(data)
}

func readPromptOr(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	return readPrompt(path)
}

func fetchModel(ctx context.Context, systemPrompt string, userPrompt string, temp float64) (*llms.ContentResponse, error) {
	return fetchModelAs(ctx, config.Cfg.LLM.TextModel, systemPrompt, userPrompt, temp)
}

func fetchModelAs(ctx context.Context, model string, systemPrompt string, userPrompt string, temp float64) (*llms.ContentResponse, error) {
	if err := TextSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer TextSem.Release(1)
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
	log.Info("正在请求AI大模型", "model", model)
	return llmClient.GenerateContent(ctx, messages,
		llms.WithModel(model),
		llms.WithTemperature(temp),
	)
}

func fetchModelVision(ctx context.Context, systemPrompt string, picUrls []string, temp float64) (*llms.ContentResponse, error) {
	if err := VisionSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer VisionSem.Release(1)

	parts := make([]llms.ContentPart, len(picUrls))
	for i, url := range picUrls {
		parts[i] = llms.ImageURLPart(url)
	}

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(systemPrompt),
			},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}
	log.Info("正在请求AI大模型", "model", config.Cfg.LLM.VisionModel)
	return llmClient.GenerateContent(ctx, messages,
		llms.WithModel(config.Cfg.LLM.VisionModel),
		llms.WithTemperature(temp),
	)
}

// Embed 生成文本向量，检索入库与查询共用同一套模型
func Embed(ctx context.Context, s string) ([]float32, error) {
	return fetchModelEmbedding(ctx, s)
}

func fetchModelEmbedding(ctx context.Context, s string) ([]float32, error) {
	if err := EmbedSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer EmbedSem.Release(1)

	log.Info("正在请求AI大模型")

	vectors, err := llmClient.CreateEmbedding(ctx, []string{s})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("vector is empty")
	}
	return vectors[0], nil
}

func fetchAgentCall(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool, temp float64) (*llms.ContentResponse, error) {
	if err := TextSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer TextSem.Release(1)

	return llmClient.GenerateContent(ctx, messages,
		llms.WithModel(config.Cfg.LLM.TextModel),
		llms.WithTemperature(temp),
		llms.WithTools(tools),
	)
}

// tokenUsage 从响应提取用量。不同后端的字段命名不一致，逐个兼容
func tokenUsage(resp *llms.ContentResponse) (prompt int, completion int) {
	if resp == nil || len(resp.Choices) == 0 {
		return 0, 0
	}
	info := resp.Choices[0].GenerationInfo
	prompt = infoInt(info, "PromptTokens", "prompt_tokens")
	completion = infoInt(info, "CompletionTokens", "completion_tokens")
	return prompt, completion
}

func infoInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch n := info[k].(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}
