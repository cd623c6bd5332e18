package llm

import (
	"Chorus/internal/api/config"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyReply 模型返回空文本，调用方按失败重试
var ErrEmptyReply = errors.New("模型返回为空")

// SpeakerLine 上下文中的一条发言，称呼已在上游解析完毕
type SpeakerLine struct {
	Name    string
	IsSelf  bool // 是否为应答角色自己的历史发言
	Content string
}

// ReplyRequest 一次角色回复的全部素材
type ReplyRequest struct {
	CharacterName string
	Persona       string
	Scenario      string
	MemorySummary string // 最新记忆摘要，可为空
	StateBrief    string // 角色状态速写，可为空
	Lines         []SpeakerLine
	Temperature   float64
	CanBrowse     bool // 允许调用联网工具
}

type ReplyResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type Replier interface {
	Reply(ctx context.Context, req *ReplyRequest) (*ReplyResult, error)
}

type replierImpl struct {
	tools *ToolHandler
}

func NewReplier(tools *ToolHandler) Replier {
	return &replierImpl{tools: tools}
}

// Reply 装配最终提示词并请求模型。联网角色走工具循环，其余走单轮补全
func (s *replierImpl) Reply(ctx context.Context, req *ReplyRequest) (*ReplyResult, error) {
	systemPrompt := buildPersonaSystem(req)
	userPrompt := buildTranscript(req)

	temp := req.Temperature
	if temp <= 0 {
		temp = 0.8
	}

	result := &ReplyResult{Model: config.Cfg.LLM.TextModel}

	if req.CanBrowse && s.tools != nil {
		text, promptTokens, completionTokens, err := runToolLoop(ctx, s.tools, systemPrompt, userPrompt, temp, 5)
		if err != nil {
			return nil, err
		}
		result.Text = strings.TrimSpace(text)
		result.PromptTokens = promptTokens
		result.CompletionTokens = completionTokens
	} else {
		resp, err := fetchModel(ctx, systemPrompt, userPrompt, temp)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyReply
		}
		result.Text = strings.TrimSpace(resp.Choices[0].Content)
		result.PromptTokens, result.CompletionTokens = tokenUsage(resp)
	}

	if result.Text == "" {
		return nil, ErrEmptyReply
	}
	return result, nil
}

// buildPersonaSystem 填充人设模板。模板缺失时退化为内置骨架
func buildPersonaSystem(req *ReplyRequest) string {
	tpl := personaPrompt
	if tpl == "" {
		tpl = "你将扮演角色「{{char}}」参与一场多人对话。\n人设：{{persona}}\n场景：{{scenario}}\n此前剧情摘要：{{memory}}\n角色近况：{{state}}\n始终以{{char}}的口吻发言，不要跳出角色，不要代替其他人发言。"
	}

	replacer := strings.NewReplacer(
		"{{char}}", req.CharacterName,
		"{{persona}}", req.Persona,
		"{{scenario}}", req.Scenario,
		"{{memory}}", req.MemorySummary,
		"{{state}}", req.StateBrief,
	)
	return replacer.Replace(tpl)
}

// buildTranscript 将带称呼的发言序列拼成最终的对话正文
func buildTranscript(req *ReplyRequest) string {
	var b strings.Builder
	b.WriteString("以下是对话记录：\n\n")
	for _, line := range req.Lines {
		if line.IsSelf {
			b.WriteString(fmt.Sprintf("%s（你）: %s\n", line.Name, line.Content))
		} else {
			b.WriteString(fmt.Sprintf("%s: %s\n", line.Name, line.Content))
		}
	}
	b.WriteString(fmt.Sprintf("\n现在轮到你了，请以%s的身份接着发言。只输出发言内容本身。", req.CharacterName))
	return b.String()
}
