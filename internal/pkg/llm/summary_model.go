package llm

import (
	"Chorus/internal/api/config"
	"context"
	"errors"
	log "log/slog"
	"strings"

	"github.com/goccy/go-json"
)

// SummaryRequest 一段待压缩的对话与既有摘要
type SummaryRequest struct {
	PrevSummary    string
	CharacterNames []string
	Lines          []SpeakerLine
}

// CharacterState 摘要中携带的角色状态快照
type CharacterState struct {
	Mood   string   `json:"mood"`
	Stance string   `json:"stance"`
	Facts  []string `json:"facts"`
}

// SummaryResult 结构化摘要。模型输出 JSON，解析失败视为本次压缩失败
type SummaryResult struct {
	Summary          string                    `json:"summary"`
	KeyEvents        []string                  `json:"key_events"`
	CharacterStates  map[string]CharacterState `json:"character_states"`
	NarrativeFlags   []string                  `json:"narrative_flags"`
	Model            string                    `json:"-"`
	PromptTokens     int                       `json:"-"`
	CompletionTokens int                       `json:"-"`
}

type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResult, error)
}

type summarizerImpl struct{}

func NewSummarizer() Summarizer {
	return &summarizerImpl{}
}

type summaryPayload struct {
	PrevSummary string        `json:"prev_summary"`
	Characters  []string      `json:"characters"`
	Transcript  []summaryLine `json:"transcript"`
}

type summaryLine struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Summarize 请求摘要模型，输出结构化记忆
func (s *summarizerImpl) Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResult, error) {
	payload := &summaryPayload{
		PrevSummary: req.PrevSummary,
		Characters:  req.CharacterNames,
		Transcript:  make([]summaryLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		payload.Transcript = append(payload.Transcript, summaryLine{Name: line.Name, Content: line.Content})
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Error("记忆压缩-请求数据序列化失败", "err", err)
		return nil, err
	}

	model := config.Cfg.LLM.SummaryModel
	if model == "" {
		model = config.Cfg.LLM.TextModel
	}

	resp, err := fetchModelAs(ctx, model, summaryPrompt, string(payloadJSON), 0.3)
	if err != nil {
		log.Error("记忆压缩-AI大模型请求失败", "err", err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("记忆压缩-AI大模型返回数据为空")
	}

	result, err := parseSummary(resp.Choices[0].Content)
	if err != nil {
		log.Error("记忆压缩-AI大模型返回数据解析失败", "err", err, "raw", resp.Choices[0].Content)
		return nil, err
	}

	result.Model = model
	result.PromptTokens, result.CompletionTokens = tokenUsage(resp)
	return result, nil
}

func parseSummary(raw string) (*SummaryResult, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var result SummaryResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, err
	}
	if result.Summary == "" {
		return nil, errors.New("摘要正文为空")
	}
	return &result, nil
}
