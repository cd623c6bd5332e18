package llm

import (
	"Chorus/internal/api/config"
	log "log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var llmClient llms.Model

var personaPrompt string
var summaryPrompt string
var contentSafePrompt string
var imageSafePrompt string

func InitLLM() error {
	cfg := config.Cfg.LLM

	var llm llms.Model
	var err error
	if cfg.ThinkingMode != "" {
		// GLM 系后端需要拦截请求体注入思考参数
		llm, err = NewGLMClient(cfg.ApiKey, cfg.URL)
	} else {
		llm, err = openai.New(
			openai.WithModel(cfg.TextModel),
			openai.WithToken(cfg.ApiKey),
			openai.WithBaseURL(cfg.URL),
		)
	}

	if err != nil {
		log.Error("AI大模型初始化失败", "err", err)
		return err
	}

	llmClient = llm

	// 从prompt txt文件中读取prompt
	personaPrompt = readPromptOr(cfg.PromptsPath.Persona, "./prompts/persona.txt")
	summaryPrompt = readPromptOr(cfg.PromptsPath.Summary, "./prompts/summary.txt")
	contentSafePrompt = readPromptOr(cfg.PromptsPath.ContentSafe, "./prompts/content-safe.txt")
	imageSafePrompt = readPromptOr(cfg.PromptsPath.ImageSafe, "./prompts/image-safe.txt")

	return nil
}
