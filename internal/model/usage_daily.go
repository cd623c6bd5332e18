package model

import "time"

// UsageDaily 按天汇总的生成用量，由定时任务从 Redis 计数器落库
type UsageDaily struct {
	ID               uint64    `gorm:"primaryKey"`
	UserID           uint64    `gorm:"not null;index:idx_usage_user_date,unique" json:"userId"`
	MetricDate       time.Time `gorm:"type:date;not null;index:idx_usage_user_date,unique;column:metric_date" json:"metricDate"`
	Generations      int       `gorm:"not null;default:0" json:"generations"`
	PromptTokens     int       `gorm:"not null;default:0" json:"promptTokens"`
	CompletionTokens int       `gorm:"not null;default:0" json:"completionTokens"`
	ChargedCredits   int       `gorm:"not null;default:0" json:"chargedCredits"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (UsageDaily) TableName() string { return "usage_daily" }
