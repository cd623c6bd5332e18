package repository

import (
	"Chorus/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepo interface {
	AddUsage(ctx context.Context, row *model.UsageDaily) error
	GetUserUsageBy30Days(ctx context.Context, userID uint64) ([]*model.UsageDaily, error)
}

type usageRepoImpl struct {
	db *gorm.DB
}

func NewUsageRepo(db *gorm.DB) UsageRepo {
	return &usageRepoImpl{db: db}
}

// AddUsage 按 (user_id, metric_date) 累加落库
func (s *usageRepoImpl) AddUsage(ctx context.Context, row *model.UsageDaily) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "metric_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"generations":       gorm.Expr("generations + VALUES(generations)"),
			"prompt_tokens":     gorm.Expr("prompt_tokens + VALUES(prompt_tokens)"),
			"completion_tokens": gorm.Expr("completion_tokens + VALUES(completion_tokens)"),
			"charged_credits":   gorm.Expr("charged_credits + VALUES(charged_credits)"),
		}),
	}).Create(row).Error
}

func (s *usageRepoImpl) GetUserUsageBy30Days(ctx context.Context, userID uint64) ([]*model.UsageDaily, error) {
	rows := make([]*model.UsageDaily, 0)
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("metric_date >= ?", time.Now().AddDate(0, 0, -30)).
		Order("metric_date ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}
