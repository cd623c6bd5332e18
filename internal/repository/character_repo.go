package repository

import (
	"Chorus/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
)

type CharacterRepo interface {
	GetCharacterById(ctx context.Context, id uint64) (*model.Character, error)
	GetCharacterByIds(ctx context.Context, ids []uint64) ([]*model.Character, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Character, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*model.Character, error)
	CreateCharacter(ctx context.Context, c *model.Character) error
	UpdateCharacter(ctx context.Context, c *model.Character) error
	DeleteCharacter(ctx context.Context, id uint64) error
}

type characterRepoImpl struct {
	db *gorm.DB
}

func NewCharacterRepo(db *gorm.DB) CharacterRepo {
	return &characterRepoImpl{db: db}
}

func (s *characterRepoImpl) GetCharacterById(ctx context.Context, id uint64) (*model.Character, error) {
	var c model.Character
	err := s.db.WithContext(ctx).Where("is_delete = 0").First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *characterRepoImpl) GetCharacterByIds(ctx context.Context, ids []uint64) ([]*model.Character, error) {
	list := make([]*model.Character, 0)
	err := s.db.WithContext(ctx).
		Where("id IN ? AND is_delete = 0", ids).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *characterRepoImpl) ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Character, error) {
	list := make([]*model.Character, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND is_delete = 0", ownerID).
		Order("updated_at DESC").
		Find(&list).Error
	return list, err
}

func (s *characterRepoImpl) ListPublic(ctx context.Context, limit, offset int) ([]*model.Character, error) {
	list := make([]*model.Character, 0)
	err := s.db.WithContext(ctx).
		Where("is_public = 1 AND is_delete = 0").
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (s *characterRepoImpl) CreateCharacter(ctx context.Context, c *model.Character) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *characterRepoImpl) UpdateCharacter(ctx context.Context, c *model.Character) error {
	return s.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", c.ID).Updates(c).Error
}

func (s *characterRepoImpl) DeleteCharacter(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", id).Update("is_delete", 1).Error
}
