package job

import (
	"Chorus/internal/pkg/logger"
	"Chorus/internal/service"
	"context"
	log "log/slog"

	"github.com/google/uuid"
)

// PresenceSweepJob 周期回收心跳超时的连接，防止在线名单漂移
type PresenceSweepJob struct {
	presenceSvc service.PresenceService
}

func NewPresenceSweepJob(presenceSvc service.PresenceService) *PresenceSweepJob {
	return &PresenceSweepJob{
		presenceSvc: presenceSvc,
	}
}

func (s *PresenceSweepJob) Run() {
	traceID := "job-presence-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	reclaimed, err := s.presenceSvc.Sweep(ctx)
	if err != nil {
		log.ErrorContext(ctx, "presence sweep error", "err", err)
		return
	}
	if reclaimed > 0 {
		log.InfoContext(ctx, "PresenceSweepJob finished", "reclaimed", reclaimed)
	}
}
