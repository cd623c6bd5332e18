package processor

import (
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/util"
	"context"
	log "log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// AuditInput 一条待审消息的全部可审内容。附件地址为空表示该模态缺席
type AuditInput struct {
	SenderName string
	Text       string
	ImageURL   string
	AudioURL   string
}

// AuditResult 审核结论。Transcript 为语音转写产物，审核之外还会回写消息做上下文复用
type AuditResult struct {
	Status     int
	Reason     string
	Transcript string
}

type MessageAuditor interface {
	Audit(ctx context.Context, in *AuditInput) (*AuditResult, error)
}

type messageAuditorImpl struct{}

func NewMessageAuditor() MessageAuditor {
	return &messageAuditorImpl{}
}

// Audit 文本、图片、语音三路并行审核，取最严结论。
// 任一路判定 Deny 即取消其余在途请求
func (s *messageAuditorImpl) Audit(ctx context.Context, in *AuditInput) (*AuditResult, error) {
	res := &AuditResult{Status: llm.ContentSafePass}
	var status int32 = int32(llm.ContentSafePass)
	var mu sync.Mutex

	gCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(gCtx)

	merge := func(v *llm.SafetyVerdict) {
		for {
			old := atomic.LoadInt32(&status)
			if int32(v.Status) <= old {
				return
			}
			if atomic.CompareAndSwapInt32(&status, old, int32(v.Status)) {
				mu.Lock()
				res.Reason = v.Reason
				mu.Unlock()
				if v.Status == llm.ContentSafeDeny {
					cancel()
				}
				return
			}
		}
	}

	if in.Text != "" {
		g.Go(func() error {
			verdict, err := llm.ModerateMessage(gCtx, in.SenderName, in.Text)
			if err != nil {
				return err
			}
			merge(verdict)
			return nil
		})
	}

	if in.ImageURL != "" {
		g.Go(func() error {
			verdict, err := llm.ModerateImage(gCtx, []string{in.ImageURL})
			if err != nil {
				return err
			}
			merge(verdict)
			return nil
		})
	}

	if in.AudioURL != "" {
		g.Go(func() error {
			text, err := util.AudioStreamToText(gCtx, in.AudioURL)
			if err != nil {
				// 转写失败不拦截消息，降级为待复核，避免坏文件卡死分区
				log.WarnContext(gCtx, "语音转写失败，降级为人工复核", "url", in.AudioURL, "err", err)
				merge(&llm.SafetyVerdict{Status: llm.ContentSafeWarn, Reason: "语音转写失败"})
				return nil
			}
			if text == "" {
				return nil
			}
			mu.Lock()
			res.Transcript = text
			mu.Unlock()

			verdict, mErr := llm.ModerateMessage(gCtx, in.SenderName, text)
			if mErr != nil {
				return mErr
			}
			merge(verdict)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Deny 触发的取消不算失败，带着已有结论返回
		if atomic.LoadInt32(&status) == int32(llm.ContentSafeDeny) {
			res.Status = llm.ContentSafeDeny
			return res, nil
		}
		return nil, err
	}

	res.Status = int(atomic.LoadInt32(&status))
	return res, nil
}
