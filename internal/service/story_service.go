package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/pkg/security"
	"Chorus/internal/repository"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type StoryService interface {
	CreateStory(ctx context.Context, userID uint64, req *dto.StoryBaseDTO) (*dto.StoryDTO, error)
	UpdateStory(ctx context.Context, userID, storyID uint64, req *dto.StoryBaseDTO) error
	DeleteStory(ctx context.Context, userID, storyID uint64) error
	GetStory(ctx context.Context, userID, storyID uint64) (*dto.StoryDTO, error)
	ListMyStories(ctx context.Context, userID uint64) ([]*dto.StoryDTO, error)
	ListPublicStories(ctx context.Context, page, pageSize int) ([]*dto.StoryDTO, error)
	LaunchStory(ctx context.Context, userID, storyID uint64) (*dto.ConversationDTO, error)
}

type storyServiceImpl struct {
	storyRepo     repository.StoryRepo
	characterRepo repository.CharacterRepo
	convRepo      repository.ConversationRepo
	msgRepo       mongo.MessageRepo
	chat          ChatService
}

func NewStoryService(
	storyRepo repository.StoryRepo,
	characterRepo repository.CharacterRepo,
	convRepo repository.ConversationRepo,
	msgRepo mongo.MessageRepo,
	chat ChatService,
) StoryService {
	return &storyServiceImpl{
		storyRepo:     storyRepo,
		characterRepo: characterRepo,
		convRepo:      convRepo,
		msgRepo:       msgRepo,
		chat:          chat,
	}
}

func (s *storyServiceImpl) CreateStory(ctx context.Context, userID uint64, req *dto.StoryBaseDTO) (*dto.StoryDTO, error) {
	if err := s.ensureCharacters(ctx, req.CharacterIDs); err != nil {
		return nil, err
	}
	idsJSON, err := json.Marshal(req.CharacterIDs)
	if err != nil {
		return nil, err
	}

	maxUsers := req.MaxUsers
	if maxUsers <= 0 {
		maxUsers = consts.DefaultMaxUsers
	}
	st := &model.Story{
		OwnerID:      userID,
		Title:        req.Title,
		Synopsis:     req.Synopsis,
		OpeningScene: req.OpeningScene,
		MaxUsers:     maxUsers,
		CharacterIDs: string(idsJSON),
		IsPublic:     boolToInt8(req.IsPublic),
	}
	if err := s.storyRepo.CreateStory(ctx, st); err != nil {
		return nil, err
	}
	return toStoryDTO(st), nil
}

func (s *storyServiceImpl) UpdateStory(ctx context.Context, userID, storyID uint64, req *dto.StoryBaseDTO) error {
	st, err := s.storyRepo.GetStoryById(ctx, storyID)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrStoryNotFound
	}
	if st.OwnerID != userID {
		return ErrPermissionDenied
	}
	if err := s.ensureCharacters(ctx, req.CharacterIDs); err != nil {
		return err
	}
	idsJSON, err := json.Marshal(req.CharacterIDs)
	if err != nil {
		return err
	}

	st.Title = req.Title
	st.Synopsis = req.Synopsis
	st.OpeningScene = req.OpeningScene
	st.CharacterIDs = string(idsJSON)
	st.IsPublic = boolToInt8(req.IsPublic)
	if req.MaxUsers > 0 {
		st.MaxUsers = req.MaxUsers
	}
	return s.storyRepo.UpdateStory(ctx, st)
}

func (s *storyServiceImpl) DeleteStory(ctx context.Context, userID, storyID uint64) error {
	st, err := s.storyRepo.GetStoryById(ctx, storyID)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrStoryNotFound
	}
	if st.OwnerID != userID {
		return ErrPermissionDenied
	}
	return s.storyRepo.DeleteStory(ctx, storyID)
}

func (s *storyServiceImpl) GetStory(ctx context.Context, userID, storyID uint64) (*dto.StoryDTO, error) {
	st, err := s.storyRepo.GetStoryById(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStoryNotFound
	}
	if st.IsPublic != 1 && st.OwnerID != userID {
		return nil, ErrStoryNotFound
	}
	return toStoryDTO(st), nil
}

func (s *storyServiceImpl) ListMyStories(ctx context.Context, userID uint64) ([]*dto.StoryDTO, error) {
	list, err := s.storyRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toStoryDTOs(list), nil
}

func (s *storyServiceImpl) ListPublicStories(ctx context.Context, page, pageSize int) ([]*dto.StoryDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 20
	}
	list, err := s.storyRepo.ListPublic(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return toStoryDTOs(list), nil
}

// LaunchStory 剧本开局：实例化会话、写入开场白、驱动角色首轮发言。
// 同一用户对同一剧本的并发开局用分布式锁挡掉
func (s *storyServiceImpl) LaunchStory(ctx context.Context, userID, storyID uint64) (*dto.ConversationDTO, error) {
	st, err := s.storyRepo.GetStoryById(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStoryNotFound
	}
	if st.IsPublic != 1 && st.OwnerID != userID {
		return nil, ErrStoryNotFound
	}

	lockKey := fmt.Sprintf("%s%d:%d", consts.StoryLaunchLock, storyID, userID)
	lockUUID := uuid.NewString()
	ok, err := redis.TryLock(ctx, lockKey, lockUUID, 10*time.Second, 1)
	if err != nil || !ok {
		return nil, ErrStoryLaunching
	}
	defer redis.UnLock(ctx, lockKey, lockUUID)

	var charIDs []uint64
	if err := json.Unmarshal([]byte(st.CharacterIDs), &charIDs); err != nil || len(charIDs) == 0 {
		return nil, ErrStoryNotFound
	}
	chars, err := s.characterRepo.GetCharacterByIds(ctx, charIDs)
	if err != nil {
		return nil, err
	}
	if len(chars) != len(charIDs) {
		return nil, ErrCharacterNotFound
	}

	roster := make([]*model.ConversationCharacter, 0, len(charIDs))
	for i, id := range charIDs {
		roster = append(roster, &model.ConversationCharacter{
			CharacterID: id,
			AddedBy:     userID,
			Position:    i,
		})
	}
	conv := &model.Conversation{
		Type:          model.ConvTypeStory,
		ConvKey:       uuid.NewString(),
		Title:         st.Title,
		IsMultiUser:   1,
		MaxUsers:      st.MaxUsers,
		OwnerID:       userID,
		LastMessageAt: time.Now(),
	}
	owner := &model.ConversationMember{
		UserID:    userID,
		Role:      model.ConvRoleOwner,
		CanWrite:  1,
		CanInvite: 1,
	}
	if err := s.convRepo.CreateConversation(ctx, conv, []*model.ConversationMember{owner}, roster); err != nil {
		return nil, err
	}

	openSeq, err := s.writeOpeningScene(ctx, conv.ID, st.OpeningScene)
	if err != nil {
		log.Error("开场白写入失败", "convID", conv.ID, "storyID", storyID, "err", err)
		return nil, err
	}

	// 全体角色按名单顺序各出一句开场发言
	if err := s.chat.EnqueueResponses(ctx, conv.ID, userID, openSeq, charIDs); err != nil {
		log.Warn("开局回复任务入队失败", "convID", conv.ID, "err", err)
	}

	return &dto.ConversationDTO{
		ConversationID: conv.ID,
		ConvKey:        conv.ConvKey,
		Type:           conv.Type,
		Title:          conv.Title,
		IsMultiUser:    true,
		OwnerID:        userID,
		Role:           model.ConvRoleOwner,
		LastMessageAt:  conv.LastMessageAt,
	}, nil
}

// writeOpeningScene 系统口吻的开场白落库
func (s *storyServiceImpl) writeOpeningScene(ctx context.Context, convID uint64, scene string) (uint64, error) {
	seq, err := s.convRepo.IncrMaxSeq(ctx, convID, msgPreview(int8(mongo.MsgTypeText), scene), int8(mongo.MsgTypeText), 0)
	if err != nil {
		return 0, err
	}
	cipherText, err := security.SealMessage(scene)
	if err != nil {
		return 0, err
	}
	err = s.msgRepo.SaveMessage(ctx, &mongo.Message{
		ConversationID: convID,
		SenderRole:     mongo.SenderSystem,
		SenderID:       0,
		MsgType:        mongo.MsgTypeText,
		Cipher:         cipherText,
		Seq:            seq,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *storyServiceImpl) ensureCharacters(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return ErrParamInvalid
	}
	found, err := s.characterRepo.GetCharacterByIds(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return ErrCharacterNotFound
	}
	return nil
}

func toStoryDTO(st *model.Story) *dto.StoryDTO {
	d := &dto.StoryDTO{}
	_ = copier.Copy(d, st)
	d.IsPublic = st.IsPublic == 1
	d.CharacterIDs = nil
	_ = json.Unmarshal([]byte(st.CharacterIDs), &d.CharacterIDs)
	return d
}

func toStoryDTOs(list []*model.Story) []*dto.StoryDTO {
	res := make([]*dto.StoryDTO, 0, len(list))
	for _, st := range list {
		res = append(res, toStoryDTO(st))
	}
	return res
}
