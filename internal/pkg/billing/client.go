package billing

import (
	"Chorus/internal/api/config"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInsufficient 账本服务返回余额不足
var ErrInsufficient = errors.New("积分余额不足")

// Ledger 外部积分账本。生成前预检余额，成功后按量扣费
type Ledger interface {
	Verify(ctx context.Context, userID uint64, estimate int) error
	Charge(ctx context.Context, req *ChargeRequest) (int, error)
}

// ChargeRequest 扣费请求，幂等键防止重试重复扣费
type ChargeRequest struct {
	UserID           uint64 `json:"userId"`
	ConversationID   uint64 `json:"conversationId"`
	CharacterID      uint64 `json:"characterId"`
	Seq              uint64 `json:"seq"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	IdempotencyKey   string `json:"idempotencyKey"`
}

type chargeResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Credits int    `json:"credits"`
	Balance int    `json:"balance"`
}

type verifyResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Allowed bool   `json:"allowed"`
}

type ledgerImpl struct {
	client *resty.Client
}

func NewLedger(cfg config.BillingConfig) Ledger {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.ApiKey).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &ledgerImpl{client: client}
}

// Verify 生成前的余额预检
func (s *ledgerImpl) Verify(ctx context.Context, userID uint64, estimate int) error {
	var result verifyResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"userId": userID, "estimate": estimate}).
		SetResult(&result).
		Post("/v1/credits/verify")
	if err != nil {
		return fmt.Errorf("余额预检请求失败: %w", err)
	}
	if resp.StatusCode() == http.StatusPaymentRequired {
		return ErrInsufficient
	}
	if resp.IsError() {
		return fmt.Errorf("余额预检异常: status=%d", resp.StatusCode())
	}
	if !result.Allowed {
		return ErrInsufficient
	}
	return nil
}

// Charge 按实际用量扣费，返回本次消耗的积分数
func (s *ledgerImpl) Charge(ctx context.Context, req *ChargeRequest) (int, error) {
	var result chargeResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v1/credits/charge")
	if err != nil {
		return 0, fmt.Errorf("扣费请求失败: %w", err)
	}
	if resp.StatusCode() == http.StatusPaymentRequired {
		return 0, ErrInsufficient
	}
	if resp.IsError() {
		return 0, fmt.Errorf("扣费异常: status=%d msg=%s", resp.StatusCode(), result.Msg)
	}
	return result.Credits, nil
}
