package llm

import (
	"context"
	log "log/slog"
	"strings"

	"github.com/goccy/go-json"
)

const (
	ContentSafePass = iota + 1
	ContentSafeWarn
	ContentSafeDeny

	ContentSafePassStr = "1"
	ContentSafeWarnStr = "2"
	ContentSafeDenyStr = "3"

	ContentSensitive = "sensitive"
)

var mapContentSafe = map[string]int{
	ContentSafePassStr: ContentSafePass,
	ContentSafeWarnStr: ContentSafeWarn,
	ContentSafeDenyStr: ContentSafeDeny,
}

// SafetyVerdict 审核结论
type SafetyVerdict struct {
	Status int
	Reason string
}

type moderatePayload struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type moderateResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ModerateMessage 消息内容审核。AI 未能给出明确结论时默认警告，进入人工复核
func ModerateMessage(ctx context.Context, sender string, content string) (*SafetyVerdict, error) {
	payloadJSON, err := json.Marshal(&moderatePayload{Sender: sender, Content: content})
	if err != nil {
		log.Error("内容审核-请求数据序列化失败", "err", err)
		return &SafetyVerdict{Status: ContentSafeWarn}, err
	}

	resp, err := fetchModel(ctx, contentSafePrompt, string(payloadJSON), 0.1)
	if err != nil {
		log.Error("内容审核-AI大模型请求失败", "err", err)
		return &SafetyVerdict{Status: ContentSafeWarn}, err
	}

	if len(resp.Choices) == 0 {
		return &SafetyVerdict{Status: ContentSafeWarn}, nil
	}

	choice := resp.Choices[0]
	if choice.StopReason == ContentSensitive {
		return &SafetyVerdict{Status: ContentSafeDeny, Reason: "上游模型判定敏感"}, nil
	}

	return parseVerdict(choice.Content), nil
}

// ModerateImage 图片内容审核，走视觉模型
func ModerateImage(ctx context.Context, urls []string) (*SafetyVerdict, error) {
	if len(urls) == 0 {
		return &SafetyVerdict{Status: ContentSafePass}, nil
	}

	resp, err := fetchModelVision(ctx, imageSafePrompt, urls, 0.1)
	if err != nil {
		log.Error("图片审核-AI大模型请求失败", "err", err)
		return &SafetyVerdict{Status: ContentSafeWarn}, err
	}

	if len(resp.Choices) == 0 {
		return &SafetyVerdict{Status: ContentSafeWarn}, nil
	}

	choice := resp.Choices[0]
	if choice.StopReason == ContentSensitive {
		return &SafetyVerdict{Status: ContentSafeDeny, Reason: "上游模型判定敏感"}, nil
	}

	return parseVerdict(choice.Content), nil
}

// parseVerdict 兼容纯数字与 JSON 两种返回格式
func parseVerdict(raw string) *SafetyVerdict {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if status, ok := mapContentSafe[cleaned]; ok {
		return &SafetyVerdict{Status: status}
	}

	var parsed moderateResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		if status, ok := mapContentSafe[parsed.Status]; ok {
			return &SafetyVerdict{Status: status, Reason: parsed.Reason}
		}
	}

	return &SafetyVerdict{Status: ContentSafeWarn}
}
