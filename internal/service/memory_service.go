package service

import (
	"Chorus/internal/api/config"
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"sort"
	"time"
)

type MemoryService interface {
	ShouldCompress(conv *model.Conversation) bool
	Compress(ctx context.Context, convID, endSeq uint64) error
	ListMemories(ctx context.Context, convID, viewerID uint64, limit int) ([]*dto.MemoryDTO, error)
	RetryFailed(ctx context.Context) (int, error)
}

type MemoryServiceImpl struct {
	convRepo    repository.ConversationRepo
	userRepo    repository.UserRepo
	msgRepo     mongo.MessageRepo
	memRepo     mongo.MemoryRepo
	summarizer  llm.Summarizer
	broadcaster hub.Broadcaster
}

func NewMemoryService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	msgRepo mongo.MessageRepo,
	memRepo mongo.MemoryRepo,
	summarizer llm.Summarizer,
	broadcaster hub.Broadcaster,
) MemoryService {
	return &MemoryServiceImpl{
		convRepo:    convRepo,
		userRepo:    userRepo,
		msgRepo:     msgRepo,
		memRepo:     memRepo,
		summarizer:  summarizer,
		broadcaster: broadcaster,
	}
}

func memoryThreshold() uint64 {
	t := config.Cfg.Chat.MemoryThreshold
	if t <= 0 {
		t = consts.DefaultMemoryThreshold
	}
	return uint64(t)
}

// ShouldCompress 判断未压缩积压是否已越过阈值。压缩进行中不再重复触发
func (s *MemoryServiceImpl) ShouldCompress(conv *model.Conversation) bool {
	if conv == nil || conv.MemoryState == model.MemoryStateCompressing {
		return false
	}
	return conv.MaxMsgSeq-conv.LastMemorySeq >= memoryThreshold()
}

// Compress 将 [LastMemorySeq+1, endSeq] 区间压缩为一条记忆。
// 状态位 CAS 保证同一会话同时只有一个压缩在跑，抢不到返回 ErrCompressionConflict；
// 抢到后还会按已落库的记忆复核区间，水位落后时先修正再决定是否真正压缩
func (s *MemoryServiceImpl) Compress(ctx context.Context, convID, endSeq uint64) error {
	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	if endSeq == 0 || endSeq > conv.MaxMsgSeq {
		endSeq = conv.MaxMsgSeq
	}
	if endSeq <= conv.LastMemorySeq {
		return nil
	}

	ok, err := s.convRepo.TryBeginCompress(ctx, convID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCompressionConflict
	}

	latest, err := s.memRepo.GetLatest(ctx, convID)
	if err != nil {
		s.release(ctx, convID, endSeq, err)
		return err
	}
	startSeq := conv.LastMemorySeq + 1
	if latest != nil {
		if latest.EndSeq >= endSeq {
			// 目标区间早已有记忆覆盖，修正水位后当作无事发生
			if err := s.convRepo.FinishCompress(ctx, convID, latest.EndSeq); err != nil {
				return err
			}
			return nil
		}
		if latest.EndSeq+1 > startSeq {
			startSeq = latest.EndSeq + 1
		}
	}

	s.emit(ctx, hub.NewEvent(hub.EventMemoryStarted, convID, endSeq, nil))

	if err := s.run(ctx, conv, latest, startSeq, endSeq); err != nil {
		s.release(ctx, convID, endSeq, err)
		return err
	}
	return nil
}

// run 压缩主体。成功时负责落库记忆、推进水位并广播完成事件
func (s *MemoryServiceImpl) run(ctx context.Context, conv *model.Conversation, latest *mongo.ConversationMemory, startSeq, endSeq uint64) error {
	msgs, err := s.msgRepo.GetRange(ctx, conv.ID, startSeq, endSeq)
	if err != nil {
		return err
	}

	idx, err := buildNameIndex(ctx, s.convRepo, s.userRepo, conv.ID)
	if err != nil {
		return err
	}

	lines := buildSpeakerLines(idx, msgs, 0)
	if len(lines) == 0 {
		// 区间内没有可压缩的内容（消息已全部删除），直接推进水位
		if err := s.convRepo.FinishCompress(ctx, conv.ID, endSeq); err != nil {
			return err
		}
		s.emit(ctx, hub.NewEvent(hub.EventMemoryDone, conv.ID, endSeq, nil))
		return nil
	}

	prevSummary := ""
	if latest != nil {
		prevSummary = latest.Summary
	}
	charNames := make([]string, 0, len(idx.Characters))
	for _, name := range idx.Characters {
		charNames = append(charNames, name)
	}
	sort.Strings(charNames)

	result, err := s.summarizer.Summarize(ctx, &llm.SummaryRequest{
		PrevSummary:    prevSummary,
		CharacterNames: charNames,
		Lines:          lines,
	})
	if err != nil {
		return err
	}

	states := make(map[string]mongo.CharacterState, len(result.CharacterStates))
	for name, st := range result.CharacterStates {
		states[name] = mongo.CharacterState{Mood: st.Mood, Stance: st.Stance, Facts: st.Facts}
	}

	mem := &mongo.ConversationMemory{
		ConversationID:  conv.ID,
		StartSeq:        startSeq,
		EndSeq:          endSeq,
		MessageCount:    len(lines),
		Summary:         result.Summary,
		KeyEvents:       result.KeyEvents,
		CharacterStates: states,
		NarrativeFlags:  result.NarrativeFlags,
		Model:           result.Model,
		Usage: mongo.TokenUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.PromptTokens + result.CompletionTokens,
		},
		CreatedAt: time.Now(),
	}
	if err := s.memRepo.SaveMemory(ctx, mem); err != nil {
		return err
	}

	if err := s.convRepo.FinishCompress(ctx, conv.ID, endSeq); err != nil {
		return err
	}

	s.emit(ctx, hub.NewEvent(hub.EventMemoryDone, conv.ID, endSeq, toMemoryDTO(mem)))
	return nil
}

// release 压缩中途失败，置失败态等待重试任务捞起
func (s *MemoryServiceImpl) release(ctx context.Context, convID, endSeq uint64, cause error) {
	log.Error("记忆压缩失败", "convID", convID, "endSeq", endSeq, "err", cause)
	if err := s.convRepo.FailCompress(ctx, convID); err != nil {
		log.Error("记忆压缩-标记失败态出错", "convID", convID, "err", err)
	}
	s.emit(ctx, hub.NewEvent(hub.EventMemoryFailed, convID, endSeq, nil))
}

// ListMemories 按区间从旧到新返回会话记忆，仅成员可读
func (s *MemoryServiceImpl) ListMemories(ctx context.Context, convID, viewerID uint64, limit int) ([]*dto.MemoryDTO, error) {
	member, err := s.convRepo.GetMember(ctx, convID, viewerID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}

	mems, err := s.memRepo.GetRecent(ctx, convID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.MemoryDTO, 0, len(mems))
	for _, mem := range mems {
		result = append(result, toMemoryDTO(mem))
	}
	return result, nil
}

// RetryFailed 扫描失败态且积压仍超阈值的会话并重新压缩，返回成功重启的数量
func (s *MemoryServiceImpl) RetryFailed(ctx context.Context) (int, error) {
	ids, err := s.convRepo.ListFailedCompressConvIDs(ctx, int64(memoryThreshold()))
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, convID := range ids {
		conv, err := s.convRepo.GetConversation(ctx, convID)
		if err != nil || conv == nil {
			continue
		}
		if err := s.Compress(ctx, convID, conv.MaxMsgSeq); err != nil {
			if errors.Is(err, ErrCompressionConflict) {
				continue
			}
			log.Error("记忆压缩-重试仍失败", "convID", convID, "err", err)
			continue
		}
		retried++
	}
	return retried, nil
}

func (s *MemoryServiceImpl) emit(ctx context.Context, ev *hub.Event) {
	if err := s.broadcaster.Broadcast(ctx, ev); err != nil {
		log.Warn("事件广播失败", "type", ev.Type, "convID", ev.ConversationID, "err", err)
	}
}

func toMemoryDTO(mem *mongo.ConversationMemory) *dto.MemoryDTO {
	return &dto.MemoryDTO{
		ID:           mem.ID,
		StartSeq:     mem.StartSeq,
		EndSeq:       mem.EndSeq,
		MessageCount: mem.MessageCount,
		Summary:      mem.Summary,
		KeyEvents:    mem.KeyEvents,
		CreatedAt:    mem.CreatedAt,
	}
}
