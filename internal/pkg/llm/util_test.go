package llm

import (
	"testing"

	"github.com/tmc/langchaingo/llms"
)

func TestTokenUsageFieldAliases(t *testing.T) {
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			GenerationInfo: map[string]any{"PromptTokens": 22, "CompletionTokens": 7},
		}},
	}
	prompt, completion := tokenUsage(resp)
	if prompt != 22 || completion != 7 {
		t.Fatalf("got %d/%d, want 22/7", prompt, completion)
	}

	// openai 风格的小写下划线命名
	resp.Choices[0].GenerationInfo = map[string]any{
		"prompt_tokens":     float64(15),
		"completion_tokens": int64(4),
	}
	prompt, completion = tokenUsage(resp)
	if prompt != 15 || completion != 4 {
		t.Fatalf("got %d/%d, want 15/4", prompt, completion)
	}
}

func TestTokenUsageMissing(t *testing.T) {
	if p, c := tokenUsage(nil); p != 0 || c != 0 {
		t.Fatalf("nil resp: got %d/%d", p, c)
	}
	if p, c := tokenUsage(&llms.ContentResponse{}); p != 0 || c != 0 {
		t.Fatalf("no choices: got %d/%d", p, c)
	}
	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		GenerationInfo: map[string]any{"other": "x"},
	}}}
	if p, c := tokenUsage(resp); p != 0 || c != 0 {
		t.Fatalf("unknown keys: got %d/%d", p, c)
	}
}
