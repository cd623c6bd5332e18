package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/jinzhu/copier"
)

type CharacterService interface {
	CreateCharacter(ctx context.Context, userID uint64, req *dto.CharacterBaseDTO) (*dto.CharacterDTO, error)
	UpdateCharacter(ctx context.Context, userID, charID uint64, req *dto.CharacterBaseDTO) error
	DeleteCharacter(ctx context.Context, userID, charID uint64) error
	GetCharacter(ctx context.Context, userID, charID uint64) (*dto.CharacterDTO, error)
	ListMyCharacters(ctx context.Context, userID uint64) ([]*dto.CharacterDTO, error)
	ListPublicCharacters(ctx context.Context, page, pageSize int) ([]*dto.CharacterDTO, error)
}

type characterServiceImpl struct {
	characterRepo repository.CharacterRepo
}

func NewCharacterService(characterRepo repository.CharacterRepo) CharacterService {
	return &characterServiceImpl{characterRepo: characterRepo}
}

func (s *characterServiceImpl) CreateCharacter(ctx context.Context, userID uint64, req *dto.CharacterBaseDTO) (*dto.CharacterDTO, error) {
	ch := &model.Character{
		OwnerID:     userID,
		Name:        req.Name,
		Persona:     req.Persona,
		Greeting:    req.Greeting,
		Scenario:    req.Scenario,
		Temperature: normalizeTemperature(req.Temperature),
		CanBrowse:   boolToInt8(req.CanBrowse),
		IsPublic:    boolToInt8(req.IsPublic),
	}
	if req.AvatarURL != "" {
		ch.AvatarURL = req.AvatarURL
	}
	if err := s.characterRepo.CreateCharacter(ctx, ch); err != nil {
		return nil, err
	}
	return toCharacterDTO(ch), nil
}

func (s *characterServiceImpl) UpdateCharacter(ctx context.Context, userID, charID uint64, req *dto.CharacterBaseDTO) error {
	ch, err := s.characterRepo.GetCharacterById(ctx, charID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrCharacterNotFound
	}
	if ch.OwnerID != userID {
		return ErrPermissionDenied
	}

	ch.Name = req.Name
	ch.Persona = req.Persona
	ch.Greeting = req.Greeting
	ch.Scenario = req.Scenario
	ch.Temperature = normalizeTemperature(req.Temperature)
	ch.CanBrowse = boolToInt8(req.CanBrowse)
	ch.IsPublic = boolToInt8(req.IsPublic)
	if req.AvatarURL != "" {
		ch.AvatarURL = req.AvatarURL
	}
	if err := s.characterRepo.UpdateCharacter(ctx, ch); err != nil {
		return err
	}
	s.invalidateCache(ctx, charID)
	return nil
}

func (s *characterServiceImpl) DeleteCharacter(ctx context.Context, userID, charID uint64) error {
	ch, err := s.characterRepo.GetCharacterById(ctx, charID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrCharacterNotFound
	}
	if ch.OwnerID != userID {
		return ErrPermissionDenied
	}
	if err := s.characterRepo.DeleteCharacter(ctx, charID); err != nil {
		return err
	}
	s.invalidateCache(ctx, charID)
	return nil
}

func (s *characterServiceImpl) invalidateCache(ctx context.Context, charID uint64) {
	key := consts.CharacterInfoKey + strconv.FormatUint(charID, 10)
	if err := redis.DeleteKey(ctx, key); err != nil {
		log.Warn("角色卡缓存失效失败", "charID", charID, "err", err)
	}
}

// GetCharacter 公开角色所有人可见，私有角色仅创建者可见。角色卡读多写少，走一层缓存
func (s *characterServiceImpl) GetCharacter(ctx context.Context, userID, charID uint64) (*dto.CharacterDTO, error) {
	cacheKey := consts.CharacterInfoKey + strconv.FormatUint(charID, 10)
	if value, err := redis.GetValue(ctx, cacheKey); err == nil && value != "" {
		var cached dto.CharacterDTO
		if err := json.Unmarshal([]byte(value), &cached); err == nil {
			if !cached.IsPublic && cached.OwnerID != userID {
				return nil, ErrCharacterNotFound
			}
			return &cached, nil
		}
	}

	ch, err := s.characterRepo.GetCharacterById(ctx, charID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrCharacterNotFound
	}

	d := toCharacterDTO(ch)
	if jsonStr, err := json.Marshal(d); err == nil {
		if err := redis.SetWithExpiration(ctx, cacheKey, string(jsonStr), time.Hour*1); err != nil {
			log.Warn("角色卡缓存写入失败", "charID", charID, "err", err)
		}
	}

	if ch.IsPublic != 1 && ch.OwnerID != userID {
		return nil, ErrCharacterNotFound
	}
	return d, nil
}

func (s *characterServiceImpl) ListMyCharacters(ctx context.Context, userID uint64) ([]*dto.CharacterDTO, error) {
	list, err := s.characterRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toCharacterDTOs(list), nil
}

func (s *characterServiceImpl) ListPublicCharacters(ctx context.Context, page, pageSize int) ([]*dto.CharacterDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 20
	}
	list, err := s.characterRepo.ListPublic(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return toCharacterDTOs(list), nil
}

func toCharacterDTO(ch *model.Character) *dto.CharacterDTO {
	d := &dto.CharacterDTO{}
	_ = copier.Copy(d, ch)
	d.CanBrowse = ch.CanBrowse == 1
	d.IsPublic = ch.IsPublic == 1
	return d
}

func toCharacterDTOs(list []*model.Character) []*dto.CharacterDTO {
	res := make([]*dto.CharacterDTO, 0, len(list))
	for _, ch := range list {
		res = append(res, toCharacterDTO(ch))
	}
	return res
}

// normalizeTemperature 采样温度越界时回落默认值
func normalizeTemperature(t float64) float64 {
	if t <= 0 || t > 2 {
		return 0.8
	}
	return t
}

func boolToInt8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}
