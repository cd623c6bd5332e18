package repository

import (
	"Chorus/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
)

type StoryRepo interface {
	GetStoryById(ctx context.Context, id uint64) (*model.Story, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Story, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*model.Story, error)
	CreateStory(ctx context.Context, st *model.Story) error
	UpdateStory(ctx context.Context, st *model.Story) error
	DeleteStory(ctx context.Context, id uint64) error
}

type storyRepoImpl struct {
	db *gorm.DB
}

func NewStoryRepo(db *gorm.DB) StoryRepo {
	return &storyRepoImpl{db: db}
}

func (s *storyRepoImpl) GetStoryById(ctx context.Context, id uint64) (*model.Story, error) {
	var st model.Story
	err := s.db.WithContext(ctx).Where("is_delete = 0").First(&st, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *storyRepoImpl) ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Story, error) {
	list := make([]*model.Story, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND is_delete = 0", ownerID).
		Order("updated_at DESC").
		Find(&list).Error
	return list, err
}

func (s *storyRepoImpl) ListPublic(ctx context.Context, limit, offset int) ([]*model.Story, error) {
	list := make([]*model.Story, 0)
	err := s.db.WithContext(ctx).
		Where("is_public = 1 AND is_delete = 0").
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (s *storyRepoImpl) CreateStory(ctx context.Context, st *model.Story) error {
	return s.db.WithContext(ctx).Create(st).Error
}

func (s *storyRepoImpl) UpdateStory(ctx context.Context, st *model.Story) error {
	return s.db.WithContext(ctx).Model(&model.Story{}).
		Where("id = ?", st.ID).Updates(st).Error
}

func (s *storyRepoImpl) DeleteStory(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Model(&model.Story{}).
		Where("id = ?", id).Update("is_delete", 1).Error
}
