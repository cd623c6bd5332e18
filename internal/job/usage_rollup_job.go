package job

import (
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/logger"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/pkg/util"
	"Chorus/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UsageRollupJob 把 Redis 里的生成用量计数汇总进 usage_daily
type UsageRollupJob struct {
	usageRepo repository.UsageRepo
}

func NewUsageRollupJob(usageRepo repository.UsageRepo) *UsageRollupJob {
	return &UsageRollupJob{
		usageRepo: usageRepo,
	}
}

func (s *UsageRollupJob) Run() {
	traceID := "job-usage-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	processingKey := consts.UsageDirtyKey + ":processing"
	err := redis.Rename(ctx, consts.UsageDirtyKey, processingKey)
	if err != nil {
		return
	}

	tempSet, err := redis.GetSet(ctx, processingKey)
	if err != nil {
		log.ErrorContext(ctx, "get usage dirty set error", "err", err)
		return
	}

	userIDs, err := util.StrSliceToUInt64Slice(tempSet)
	if err != nil {
		log.ErrorContext(ctx, "convert usage set to int slice error", "err", err)
		return
	}

	log.InfoContext(ctx, "UsageRollupJob processing", "user_count", len(userIDs))

	now := time.Now()
	metricDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, uid := range userIDs {
		uidStr := strconv.FormatUint(uid, 10)
		counterKey := consts.UsageCounterKey + uidStr
		rollingKey := counterKey + ":rolling"

		// 先换名再读，换名后新增的计数落在下一轮
		if err := redis.Rename(ctx, counterKey, rollingKey); err != nil {
			continue
		}

		fields, err := redis.HGetAll(ctx, rollingKey)
		if err != nil {
			log.ErrorContext(ctx, "fetch usage counter error", "uid", uid, "err", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}

		row := &model.UsageDaily{
			UserID:           uid,
			MetricDate:       metricDate,
			Generations:      atoiField(fields, "generations"),
			PromptTokens:     atoiField(fields, "prompt_tokens"),
			CompletionTokens: atoiField(fields, "completion_tokens"),
			ChargedCredits:   atoiField(fields, "charged_credits"),
		}

		if err := s.usageRepo.AddUsage(ctx, row); err != nil {
			log.ErrorContext(ctx, "save usage daily to mysql error", "uid", uid, "err", err)
			continue
		}

		if err := redis.DeleteKey(ctx, rollingKey); err != nil {
			log.ErrorContext(ctx, "delete usage rolling counter error", "uid", uid, "err", err)
		}
	}

	err = redis.DeleteKey(ctx, processingKey)
	if err != nil {
		log.ErrorContext(ctx, "delete usage processing set error", "err", err)
	}

	log.InfoContext(ctx, "UsageRollupJob finished", "processed_count", len(userIDs))
}

func atoiField(fields map[string]string, name string) int {
	n, _ := strconv.Atoi(fields[name])
	return n
}
