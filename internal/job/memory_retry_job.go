package job

import (
	"Chorus/internal/pkg/logger"
	"Chorus/internal/service"
	"context"
	log "log/slog"

	"github.com/google/uuid"
)

// MemoryRetryJob 重拉压缩失败且积压仍超阈值的会话
type MemoryRetryJob struct {
	memorySvc service.MemoryService
}

func NewMemoryRetryJob(memorySvc service.MemoryService) *MemoryRetryJob {
	return &MemoryRetryJob{
		memorySvc: memorySvc,
	}
}

func (s *MemoryRetryJob) Run() {
	traceID := "job-memory-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	restarted, err := s.memorySvc.RetryFailed(ctx)
	if err != nil {
		log.ErrorContext(ctx, "memory retry scan error", "err", err)
		return
	}
	if restarted > 0 {
		log.InfoContext(ctx, "MemoryRetryJob finished", "restarted", restarted)
	}
}
