package cron

import (
	"Chorus/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine           *cron.Cron
	presenceSweepJob *job.PresenceSweepJob
	memoryRetryJob   *job.MemoryRetryJob
	usageRollupJob   *job.UsageRollupJob
	mediaCleanupJob  *job.MediaCleanupJob
}

func NewCronManager(
	presenceSweepJob *job.PresenceSweepJob,
	memoryRetryJob *job.MemoryRetryJob,
	usageRollupJob *job.UsageRollupJob,
	mediaCleanupJob *job.MediaCleanupJob,
) *Manager {
	return &Manager{
		engine:           cron.New(cron.WithSeconds()),
		presenceSweepJob: presenceSweepJob,
		memoryRetryJob:   memoryRetryJob,
		usageRollupJob:   usageRollupJob,
		mediaCleanupJob:  mediaCleanupJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob("*/30 * * * * *", s.presenceSweepJob); err != nil {
		return err
	}
	if _, err := s.engine.AddJob("0 */5 * * * *", s.memoryRetryJob); err != nil {
		return err
	}
	if _, err := s.engine.AddJob("0 */10 * * * *", s.usageRollupJob); err != nil {
		return err
	}
	if _, err := s.engine.AddJob("0 0 * * * *", s.mediaCleanupJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	s.engine.Stop()
}
