package service

import (
	"Chorus/internal/api/config"
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/billing"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/es"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/kafka"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/queue"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/pkg/security"
	"Chorus/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type ChatService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	Reprocess(ctx context.Context, userID uint64, req *dto.ReprocessReq) error
	DeleteMessage(ctx context.Context, userID, convID, seq uint64) error
	GetChatHistory(ctx context.Context, userID, convID, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	SyncMessages(ctx context.Context, userID, convID, sinceSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	SearchMessages(ctx context.Context, userID, convID uint64, keyword string, page, pageSize int) ([]*dto.MessageDTO, error)
	MarkAsRead(ctx context.Context, userID, convID, seq uint64) error
	EnqueueResponses(ctx context.Context, convID, requestingUserID, triggerSeq uint64, characterIDs []uint64) error
	Close()
}

// responseJob 一次角色回复任务。计费归属在入队时定格，不随会话所有权变化
type responseJob struct {
	ConvID           uint64
	TriggerSeq       uint64
	RequestingUserID uint64
	CharacterIDs     []uint64
	ReprocessSeq     uint64 // 非零时为原位重写的目标序号
}

type ChatServiceImpl struct {
	convRepo      repository.ConversationRepo
	userRepo      repository.UserRepo
	characterRepo repository.CharacterRepo
	msgRepo       mongo.MessageRepo
	msgESRepo     es.MessageRepo
	memRepo       mongo.MemoryRepo
	noticeRepo    mongo.NoticeRepo
	memory        MemoryService
	presence      redis.PresenceStore
	replier       llm.Replier
	ledger        billing.Ledger
	producer      kafka.Producer
	broadcaster   hub.Broadcaster
	dispatcher    *queue.Dispatcher

	retryChan chan *mongo.Message
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

func NewChatService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	characterRepo repository.CharacterRepo,
	msgRepo mongo.MessageRepo,
	msgESRepo es.MessageRepo,
	memRepo mongo.MemoryRepo,
	noticeRepo mongo.NoticeRepo,
	memory MemoryService,
	presence redis.PresenceStore,
	replier llm.Replier,
	ledger billing.Ledger,
	producer kafka.Producer,
	broadcaster hub.Broadcaster,
	dispatcher *queue.Dispatcher,
) ChatService {
	s := &ChatServiceImpl{
		convRepo:      convRepo,
		userRepo:      userRepo,
		characterRepo: characterRepo,
		msgRepo:       msgRepo,
		msgESRepo:     msgESRepo,
		memRepo:       memRepo,
		noticeRepo:    noticeRepo,
		memory:        memory,
		presence:      presence,
		replier:       replier,
		ledger:        ledger,
		producer:      producer,
		broadcaster:   broadcaster,
		dispatcher:    dispatcher,
		retryChan:     make(chan *mongo.Message, 2048),
		stopChan:      make(chan struct{}),
	}

	workerCount := 5
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.calibrationWorker()
	}

	return s
}

// SendMessage 发送消息：定序、加密落库、广播，文本消息再驱动角色回复
func (s *ChatServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if err := validateSendReq(req); err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	member, err := s.convRepo.GetMember(ctx, req.ConversationID, senderID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}
	if member.CanWrite != 1 {
		return nil, ErrPermissionDenied
	}

	// MySQL 原子定序
	newSeq, err := s.convRepo.IncrMaxSeq(ctx, conv.ID, msgPreview(req.MsgType, req.Content), req.MsgType, senderID)
	if err != nil {
		return nil, err
	}

	cipherText, err := security.SealMessage(req.Content)
	if err != nil {
		return nil, err
	}

	msg := &mongo.Message{
		ConversationID: conv.ID,
		SenderRole:     mongo.SenderHuman,
		SenderID:       senderID,
		MsgType:        int(req.MsgType),
		Cipher:         cipherText,
		Seq:            newSeq,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      time.Now(),
	}
	if len(req.Payload) > 0 {
		if err := copier.Copy(&msg.Payload, &req.Payload); err != nil {
			return nil, err
		}
	}
	s.persistMessage(msg)

	// 附件随消息落库即转正，摘掉临时标记免得被兜底清理误删
	for _, p := range msg.Payload {
		if p.MediaURL == "" {
			continue
		}
		if err := redis.HDel(ctx, consts.MediaTempKey, p.MediaURL); err != nil {
			log.Warn("清除附件临时标记失败", "fileKey", p.MediaURL, "err", err)
		}
	}

	// 发言即视为停止输入
	if err := s.presence.ClearTyping(ctx, conv.ID, senderID); err != nil {
		log.Warn("清除输入状态失败", "convID", conv.ID, "userID", senderID, "err", err)
	}

	senderDTO := s.toMessageDTO(msg, req.Content, s.resolveSenderName(ctx, conv.ID, senderID))
	s.emit(ctx, hub.NewEvent(hub.EventMessageReceived, conv.ID, newSeq, senderDTO))
	s.produceMessage(msg, req.Content, senderDTO.SenderName)

	// 文本消息驱动角色回复；图片与语音不触发
	if req.MsgType == int8(mongo.MsgTypeText) {
		roster, err := s.convRepo.ListCharacters(ctx, conv.ID)
		if err != nil {
			log.Error("读取角色名单失败，本条不驱动回复", "convID", conv.ID, "err", err)
		} else if len(roster) > 0 {
			responders := ChooseResponders(req.Content, roster)
			if err := s.EnqueueResponses(ctx, conv.ID, senderID, newSeq, responders); err != nil {
				log.Warn("回复任务入队失败", "convID", conv.ID, "err", err)
				s.emitGenerateFailed(ctx, conv.ID, newSeq, 0, "排队已满，稍后再试")
			}
		}
	}

	return senderDTO, nil
}

// EnqueueResponses 将一次回复任务排入会话串行队列
func (s *ChatServiceImpl) EnqueueResponses(ctx context.Context, convID, requestingUserID, triggerSeq uint64, characterIDs []uint64) error {
	if len(characterIDs) == 0 {
		return nil
	}
	job := &responseJob{
		ConvID:           convID,
		TriggerSeq:       triggerSeq,
		RequestingUserID: requestingUserID,
		CharacterIDs:     characterIDs,
	}
	err := s.dispatcher.Submit(convID, "generate", func(jobCtx context.Context) {
		s.runResponseJob(jobCtx, job)
	})
	if errors.Is(err, queue.ErrQueueFull) {
		return ErrGenerationBusy
	}
	return err
}

// Reprocess 对一条角色消息原位重新生成。序号不变，上下文截到该消息之前
func (s *ChatServiceImpl) Reprocess(ctx context.Context, userID uint64, req *dto.ReprocessReq) error {
	conv, err := s.convRepo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	member, err := s.convRepo.GetMember(ctx, req.ConversationID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}
	if member.CanWrite != 1 {
		return ErrPermissionDenied
	}

	target, err := s.msgRepo.GetMessageBySeq(ctx, req.ConversationID, req.Seq)
	if err != nil {
		return err
	}
	if target == nil || target.IsDeleted {
		return ErrMessageNotFound
	}
	if target.SenderRole != mongo.SenderCharacter {
		return ErrParamInvalid
	}

	job := &responseJob{
		ConvID:           req.ConversationID,
		TriggerSeq:       req.Seq,
		RequestingUserID: userID,
		CharacterIDs:     []uint64{target.SenderID},
		ReprocessSeq:     req.Seq,
	}
	err = s.dispatcher.Submit(req.ConversationID, "reprocess", func(jobCtx context.Context) {
		s.runResponseJob(jobCtx, job)
	})
	if errors.Is(err, queue.ErrQueueFull) {
		return ErrGenerationBusy
	}
	return err
}

// DeleteMessage 软删除。发送者本人或所有者/协管可删，删除与广播同步完成
func (s *ChatServiceImpl) DeleteMessage(ctx context.Context, userID, convID, seq uint64) error {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}

	msg, err := s.msgRepo.GetMessageBySeq(ctx, convID, seq)
	if err != nil {
		return err
	}
	if msg == nil || msg.IsDeleted {
		return ErrMessageNotFound
	}

	isSender := msg.SenderRole == mongo.SenderHuman && msg.SenderID == userID
	isManager := member.Role == model.ConvRoleOwner || member.Role == model.ConvRoleModerator
	if !isSender && !isManager {
		return ErrPermissionDenied
	}

	if err := s.msgRepo.MarkDeleted(ctx, convID, seq); err != nil {
		return err
	}

	s.emit(ctx, hub.NewEvent(hub.EventMessageDeleted, convID, seq, &dto.DeleteMessageReq{
		ConversationID: convID,
		Seq:            seq,
	}))
	s.produceMessage(&mongo.Message{
		ConversationID: convID,
		Seq:            seq,
		SenderRole:     msg.SenderRole,
		SenderID:       msg.SenderID,
		MsgType:        msg.MsgType,
		IsDeleted:      true,
		CreatedAt:      msg.CreatedAt,
	}, "", "")
	return nil
}

// GetChatHistory 按序号游标向前翻页，返回降序（最新在前）
func (s *ChatServiceImpl) GetChatHistory(ctx context.Context, userID, convID, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	msgs, err := s.msgRepo.GetHistory(ctx, convID, lastSeq, pageSize)
	if err != nil {
		return nil, err
	}
	return s.decorateMessages(ctx, convID, msgs)
}

// SyncMessages 断线重连后的增量拉取，返回升序
func (s *ChatServiceImpl) SyncMessages(ctx context.Context, userID, convID, sinceSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	msgs, err := s.msgRepo.GetRecentSince(ctx, convID, sinceSeq, pageSize)
	if err != nil {
		return nil, err
	}
	return s.decorateMessages(ctx, convID, msgs)
}

// GetConversationList 会话列表，置顶优先、按最近消息排序
func (s *ChatServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		res = append(res, &dto.ConversationDTO{
			ConversationID: m.ConversationID,
			ConvKey:        m.Conversation.ConvKey,
			Type:           m.Conversation.Type,
			Title:          m.Conversation.Title,
			IsMultiUser:    m.Conversation.IsMultiUser == 1,
			OwnerID:        m.Conversation.OwnerID,
			Role:           m.Role,
			LastMsgContent: m.Conversation.LastMsgContent,
			LastMsgType:    m.Conversation.LastMsgType,
			LastSenderID:   m.Conversation.LastSenderID,
			LastMessageAt:  m.Conversation.LastMessageAt,
			UnreadCount:    m.UnreadCount,
			IsMuted:        m.IsMuted == 1,
			IsPinned:       m.IsPinned == 1,
		})
	}
	return res, nil
}

// SearchMessages 会话内全文检索，走索引管道投影出的明文副本
func (s *ChatServiceImpl) SearchMessages(ctx context.Context, userID, convID uint64, keyword string, page, pageSize int) ([]*dto.MessageDTO, error) {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrParamInvalid
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 20
	}

	hits, err := s.msgESRepo.SearchMessages(ctx, convID, keyword, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.MessageDTO, 0, len(hits))
	for _, h := range hits {
		res = append(res, &dto.MessageDTO{
			ConversationID: h.ConversationID,
			SenderRole:     h.SenderRole,
			SenderID:       h.SenderID,
			SenderName:     h.SenderName,
			MsgType:        h.MsgType,
			Content:        h.Content,
			Seq:            h.Seq,
			CreatedAt:      h.CreatedAt,
		})
	}
	return res, nil
}

// MarkAsRead 推进已读水位并向会话广播回执
func (s *ChatServiceImpl) MarkAsRead(ctx context.Context, userID, convID, seq uint64) error {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	targetSeq := seq
	if targetSeq > conv.MaxMsgSeq {
		targetSeq = conv.MaxMsgSeq
	}
	// 已读水位只进不退
	if targetSeq <= member.ReadMsgSeq {
		return nil
	}

	if err := s.convRepo.UpdateReadSeq(ctx, convID, userID, targetSeq); err != nil {
		return err
	}

	s.emit(ctx, hub.NewEvent(hub.EventReadReceipt, convID, targetSeq, &dto.ReadReceiptDTO{
		ConversationID: convID,
		UserID:         userID,
		ReadSeq:        targetSeq,
	}))
	return nil
}

func (s *ChatServiceImpl) Close() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("聊天服务已停止")
}

// runResponseJob 回复任务执行体，同一会话内由调度器保证串行。
// 流程：余额预检 -> 生成（限时重试）-> 定序落库 -> 广播 -> 扣费。
// 任一角色终败即中止整个任务，且只广播一次失败事件
func (s *ChatServiceImpl) runResponseJob(ctx context.Context, job *responseJob) {
	conv, err := s.convRepo.GetConversation(ctx, job.ConvID)
	if err != nil || conv == nil {
		log.Error("回复任务读取会话失败", "convID", job.ConvID, "err", err)
		return
	}

	// 积压越过阈值时顺路排一个压缩任务，跟在本任务之后跑。
	// 触发点之前留一段最近消息不压缩，生成上下文仍按原文取用
	if endSeq := compressEndSeq(job.TriggerSeq); job.ReprocessSeq == 0 && s.memory.ShouldCompress(conv) && endSeq > conv.LastMemorySeq {
		convID := job.ConvID
		err := s.dispatcher.Submit(convID, "compress", func(taskCtx context.Context) {
			if cerr := s.memory.Compress(taskCtx, convID, endSeq); cerr != nil && !errors.Is(cerr, ErrCompressionConflict) {
				log.Error("顺路压缩失败", "convID", convID, "endSeq", endSeq, "err", cerr)
			}
		})
		if err != nil {
			log.Warn("压缩任务入队失败", "convID", convID, "err", err)
		}
	}

	bundle, err := s.loadContext(ctx, conv, job)
	if err != nil {
		log.Error("回复任务装配上下文失败", "convID", job.ConvID, "err", err)
		s.emitGenerateFailed(ctx, job.ConvID, job.TriggerSeq, 0, "上下文装配失败")
		return
	}

	for _, charID := range job.CharacterIDs {
		ch, ok := bundle.characters[charID]
		if !ok {
			// 角色在入队后被移出名单或已删除，跳过
			log.Warn("角色已不在会话名单，跳过", "convID", job.ConvID, "characterID", charID)
			continue
		}
		if !s.generateForCharacter(ctx, conv, job, bundle, ch) {
			return
		}
	}
}

// contextBundle 一次任务内各角色共享的上下文材料
type contextBundle struct {
	idx        *NameIndex
	latest     *mongo.ConversationMemory
	msgs       []*mongo.Message
	characters map[uint64]*model.Character
}

func (s *ChatServiceImpl) loadContext(ctx context.Context, conv *model.Conversation, job *responseJob) (*contextBundle, error) {
	idx, err := buildNameIndex(ctx, s.convRepo, s.userRepo, conv.ID)
	if err != nil {
		return nil, err
	}

	latest, err := s.memRepo.GetLatest(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	sinceSeq := uint64(0)
	if latest != nil {
		sinceSeq = latest.EndSeq
	}

	var msgs []*mongo.Message
	if job.ReprocessSeq > 0 {
		// 重写时上下文严格截断到目标消息之前
		if job.ReprocessSeq > sinceSeq+1 {
			msgs, err = s.msgRepo.GetRange(ctx, conv.ID, sinceSeq+1, job.ReprocessSeq-1)
		}
	} else {
		msgs, err = s.msgRepo.GetRecentSince(ctx, conv.ID, sinceSeq, 0)
	}
	if err != nil {
		return nil, err
	}

	roster, err := s.convRepo.ListCharacters(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	inRoster := make(map[uint64]bool, len(roster))
	for _, cc := range roster {
		inRoster[cc.CharacterID] = true
	}
	chars, err := s.characterRepo.GetCharacterByIds(ctx, job.CharacterIDs)
	if err != nil {
		return nil, err
	}
	charMap := make(map[uint64]*model.Character, len(chars))
	for _, ch := range chars {
		if inRoster[ch.ID] {
			charMap[ch.ID] = ch
		}
	}

	return &contextBundle{idx: idx, latest: latest, msgs: msgs, characters: charMap}, nil
}

// generateForCharacter 为单个角色完成一次生成。返回 false 表示任务应当中止
func (s *ChatServiceImpl) generateForCharacter(ctx context.Context, conv *model.Conversation, job *responseJob, bundle *contextBundle, ch *model.Character) bool {
	// 生成前预检余额。余额不足立刻终止，不进入重试
	if err := s.ledger.Verify(ctx, job.RequestingUserID, estimateTokens(bundle.msgs)); err != nil {
		if errors.Is(err, billing.ErrInsufficient) {
			log.Info("余额不足，回复任务终止", "convID", conv.ID, "userID", job.RequestingUserID)
			s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "积分余额不足")
			// 同一用户短时间只落一条余额不足通知，限流失效时宁可多发
			throttleKey := consts.GenerateFailNoticeKey + strconv.FormatUint(job.RequestingUserID, 10)
			if ok, lockErr := redis.TryLock(ctx, throttleKey, "1", 10*time.Minute, 1); ok || lockErr != nil {
				s.notifyUser(ctx, job.RequestingUserID, mongo.NoticeChargeFailed, conv.ID, "积分余额不足，角色回复已暂停")
			}
			return false
		}
		log.Error("余额预检异常", "convID", conv.ID, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "余额预检失败")
		return false
	}

	s.emit(ctx, hub.NewEvent(hub.EventGenerateStarted, conv.ID, job.TriggerSeq, &dto.ConversationCharacterDTO{
		CharacterID: ch.ID,
		Name:        ch.Name,
	}))

	req := &llm.ReplyRequest{
		CharacterName: ch.Name,
		Persona:       ch.Persona,
		Scenario:      ch.Scenario,
		MemorySummary: memorySummary(bundle.latest),
		StateBrief:    stateBrief(bundle.latest, ch.Name),
		Lines:         buildSpeakerLines(bundle.idx, bundle.msgs, ch.ID),
		Temperature:   ch.Temperature,
		CanBrowse:     ch.CanBrowse == 1,
	}

	result, err := s.generateWithRetry(ctx, req)
	if err != nil {
		log.Error("角色生成终败", "convID", conv.ID, "characterID", ch.ID, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "角色回复生成失败")
		return false
	}

	if job.ReprocessSeq > 0 {
		return s.commitReprocess(ctx, conv, job, ch, result)
	}
	return s.commitReply(ctx, conv, job, ch, result)
}

// generateWithRetry 带限时与退避的生成。上下文取消时立即放弃
func (s *ChatServiceImpl) generateWithRetry(ctx context.Context, req *llm.ReplyRequest) (*llm.ReplyResult, error) {
	maxAttempts := config.Cfg.Chat.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := time.Duration(config.Cfg.Chat.RetryBackoff) * time.Second
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	timeout := time.Duration(config.Cfg.Chat.GenerateTimeout) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		genCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := s.replier.Reply(genCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warn("角色生成失败，准备重试", "attempt", attempt+1, "err", err)

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// commitReply 生成成功后的落库链路：定序、加密、广播，最后扣费。
// 扣费失败不回滚消息，转入对账管道兜底
func (s *ChatServiceImpl) commitReply(ctx context.Context, conv *model.Conversation, job *responseJob, ch *model.Character, result *llm.ReplyResult) bool {
	newSeq, err := s.convRepo.IncrMaxSeq(ctx, conv.ID, msgPreview(int8(mongo.MsgTypeText), result.Text), int8(mongo.MsgTypeText), ch.ID)
	if err != nil {
		log.Error("角色回复定序失败", "convID", conv.ID, "characterID", ch.ID, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "角色回复落库失败")
		return false
	}

	cipherText, err := security.SealMessage(result.Text)
	if err != nil {
		log.Error("角色回复加密失败", "convID", conv.ID, "seq", newSeq, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "角色回复落库失败")
		return false
	}

	msg := &mongo.Message{
		ConversationID: conv.ID,
		SenderRole:     mongo.SenderCharacter,
		SenderID:       ch.ID,
		MsgType:        mongo.MsgTypeText,
		Cipher:         cipherText,
		Seq:            newSeq,
		ReplyTo:        job.TriggerSeq,
		TriggerUserID:  job.RequestingUserID,
		CreatedAt:      time.Now(),
	}
	s.persistMessage(msg)

	if err := s.convRepo.SetCharacterReplySeq(ctx, conv.ID, ch.ID, newSeq); err != nil {
		log.Warn("更新角色回复位置失败", "convID", conv.ID, "characterID", ch.ID, "err", err)
	}

	s.emit(ctx, hub.NewEvent(hub.EventMessageReceived, conv.ID, newSeq, s.toMessageDTO(msg, result.Text, ch.Name)))
	s.produceMessage(msg, result.Text, ch.Name)

	s.charge(ctx, conv.ID, ch.ID, newSeq, job.RequestingUserID, result,
		fmt.Sprintf("%d-%d", conv.ID, newSeq))
	return true
}

// commitReprocess 原位重写：序号不变，其余与 commitReply 一致
func (s *ChatServiceImpl) commitReprocess(ctx context.Context, conv *model.Conversation, job *responseJob, ch *model.Character, result *llm.ReplyResult) bool {
	cipherText, err := security.SealMessage(result.Text)
	if err != nil {
		log.Error("重写加密失败", "convID", conv.ID, "seq", job.ReprocessSeq, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "角色回复落库失败")
		return false
	}

	if err := s.msgRepo.ReplaceBody(ctx, conv.ID, job.ReprocessSeq, cipherText, job.RequestingUserID); err != nil {
		log.Error("重写落库失败", "convID", conv.ID, "seq", job.ReprocessSeq, "err", err)
		s.emitGenerateFailed(ctx, conv.ID, job.TriggerSeq, ch.ID, "角色回复落库失败")
		return false
	}

	msg := &mongo.Message{
		ConversationID: conv.ID,
		SenderRole:     mongo.SenderCharacter,
		SenderID:       ch.ID,
		MsgType:        mongo.MsgTypeText,
		Seq:            job.ReprocessSeq,
		TriggerUserID:  job.RequestingUserID,
		CreatedAt:      time.Now(),
	}
	s.emit(ctx, hub.NewEvent(hub.EventMessageReceived, conv.ID, job.ReprocessSeq, s.toMessageDTO(msg, result.Text, ch.Name)))
	s.produceMessage(msg, result.Text, ch.Name)

	// 重写的幂等键带随机尾缀，避免与原次扣费撞键
	s.charge(ctx, conv.ID, ch.ID, job.ReprocessSeq, job.RequestingUserID, result,
		fmt.Sprintf("%d-%d-r-%s", conv.ID, job.ReprocessSeq, uuid.NewString()[:8]))
	return true
}

// charge 成功后结算。失败只记账对账，绝不反悔已发出的消息
func (s *ChatServiceImpl) charge(ctx context.Context, convID, charID, seq, userID uint64, result *llm.ReplyResult, idemKey string) {
	chargeReq := &billing.ChargeRequest{
		UserID:           userID,
		ConversationID:   convID,
		CharacterID:      charID,
		Seq:              seq,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		IdempotencyKey:   idemKey,
	}
	credits, err := s.ledger.Charge(ctx, chargeReq)
	if err != nil {
		log.Error("生成已完成但扣费失败，转入对账", "convID", convID, "seq", seq,
			"userID", userID, "key", idemKey, "err", err)
		if perr := s.producer.PublishChargeFailure(&kafka.ChargeFailure{
			UserID:           userID,
			ConversationID:   convID,
			CharacterID:      charID,
			Seq:              seq,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			IdempotencyKey:   idemKey,
			FailedAt:         time.Now(),
		}); perr != nil {
			log.Error("对账事件投递失败", "key", idemKey, "err", perr)
		}
		s.notifyUser(ctx, userID, mongo.NoticeChargeFailed, convID, "本次回复扣费异常，稍后将自动补扣")
	}
	s.recordUsage(ctx, userID, result.PromptTokens, result.CompletionTokens, credits)
}

// recordUsage 用量计入 redis 计数器，由定时任务汇总落库
func (s *ChatServiceImpl) recordUsage(ctx context.Context, userID uint64, promptTokens, completionTokens, credits int) {
	key := consts.UsageCounterKey + strconv.FormatUint(userID, 10)
	fields := map[string]int64{
		"generations":       1,
		"prompt_tokens":     int64(promptTokens),
		"completion_tokens": int64(completionTokens),
		"charged_credits":   int64(credits),
	}
	for field, incr := range fields {
		if incr == 0 && field != "generations" {
			continue
		}
		if err := redis.HIncrBy(ctx, key, field, incr); err != nil {
			log.Warn("用量计数失败", "userID", userID, "field", field, "err", err)
			return
		}
	}
	if err := redis.SAdd(ctx, consts.UsageDirtyKey, strconv.FormatUint(userID, 10)); err != nil {
		log.Warn("用量脏名单登记失败", "userID", userID, "err", err)
	}
}

// persistMessage 主路径限时写入，超时转异步校准队列补偿
func (s *ChatServiceImpl) persistMessage(msg *mongo.Message) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.msgRepo.SaveMessage(writeCtx, msg); err != nil {
		log.Warn("消息主路径落库失败，转入校准队列", "convID", msg.ConversationID, "seq", msg.Seq, "err", err)
		select {
		case s.retryChan <- msg:
		default:
			log.Error("校准队列已满，消息丢失风险", "convID", msg.ConversationID, "seq", msg.Seq)
		}
	}
}

func (s *ChatServiceImpl) calibrationWorker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.retryChan:
			backoff := time.Second
			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.msgRepo.SaveMessage(ctx, msg)
				cancel()
				if err == nil {
					break
				}
				time.Sleep(backoff)
				backoff *= 2
			}
		case <-s.stopChan:
			return
		}
	}
}

// decorateMessages 解密并补全发送者称呼
func (s *ChatServiceImpl) decorateMessages(ctx context.Context, convID uint64, msgs []*mongo.Message) ([]*dto.MessageDTO, error) {
	idx, err := buildNameIndex(ctx, s.convRepo, s.userRepo, convID)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		content := ""
		if !m.IsDeleted {
			content = messageText(m)
		}
		res = append(res, s.toMessageDTO(m, content, senderName(idx, m)))
	}
	return res, nil
}

func (s *ChatServiceImpl) resolveSenderName(ctx context.Context, convID, userID uint64) string {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err == nil && member != nil && member.Nickname != "" {
		return member.Nickname
	}
	details, err := s.userRepo.GetUserSimpleInfoByIds(ctx, []uint64{userID})
	if err == nil && len(details) > 0 {
		return details[0].Nickname
	}
	return fmt.Sprintf("用户%d", userID)
}

func (s *ChatServiceImpl) toMessageDTO(m *mongo.Message, content, name string) *dto.MessageDTO {
	d := &dto.MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderRole:     m.SenderRole,
		SenderID:       m.SenderID,
		SenderName:     name,
		MsgType:        int8(m.MsgType),
		Content:        content,
		Seq:            m.Seq,
		ReplyTo:        m.ReplyTo,
		TriggerUserID:  m.TriggerUserID,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
	}
	if len(m.Payload) > 0 {
		_ = copier.Copy(&d.Payload, &m.Payload)
	}
	return d
}

// produceMessage 投递消息事件进审核与索引管道，失败只记日志
func (s *ChatServiceImpl) produceMessage(msg *mongo.Message, content, name string) {
	ev := &kafka.MessageEvent{
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		SenderRole:     msg.SenderRole,
		SenderID:       msg.SenderID,
		SenderName:     name,
		MsgType:        msg.MsgType,
		Content:        content,
		IsDeleted:      msg.IsDeleted,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.Payload) > 0 {
		ev.MediaURL = msg.Payload[0].MediaURL
	}
	if err := s.producer.PublishMessage(ev); err != nil {
		log.Warn("消息事件投递失败", "convID", msg.ConversationID, "seq", msg.Seq, "err", err)
	}
}

func (s *ChatServiceImpl) emit(ctx context.Context, ev *hub.Event) {
	if err := s.broadcaster.Broadcast(ctx, ev); err != nil {
		log.Warn("事件广播失败", "type", ev.Type, "convID", ev.ConversationID, "err", err)
	}
}

// emitGenerateFailed 终败事件。一次任务至多广播一次，由调用方保证
func (s *ChatServiceImpl) emitGenerateFailed(ctx context.Context, convID, triggerSeq, charID uint64, reason string) {
	s.emit(ctx, hub.NewEvent(hub.EventGenerateFailed, convID, triggerSeq, map[string]interface{}{
		"character_id": charID,
		"reason":       reason,
	}))
}

func (s *ChatServiceImpl) notifyUser(ctx context.Context, userID uint64, noticeType int8, convID uint64, content string) {
	err := s.noticeRepo.CreateNotice(ctx, &mongo.NoticeModel{
		ReceiverID: userID,
		Type:       noticeType,
		TargetID:   convID,
		Content:    content,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Warn("系统通知写入失败", "userID", userID, "err", err)
	}
}

func validateSendReq(req *dto.SendMessageReq) error {
	switch req.MsgType {
	case int8(mongo.MsgTypeText):
		if strings.TrimSpace(req.Content) == "" {
			return ErrParamInvalid
		}
	case int8(mongo.MsgTypeImage), int8(mongo.MsgTypeAudio):
		if len(req.Payload) == 0 {
			return ErrParamInvalid
		}
	default:
		return ErrParamInvalid
	}
	return nil
}

// compressEndSeq 顺路压缩的上界。触发消息连同其前 keep_recent 条不进入本轮压缩，
// 不足一个窗口时返回 0
func compressEndSeq(triggerSeq uint64) uint64 {
	keep := config.Cfg.Chat.MemoryKeepRecent
	if keep <= 0 {
		keep = consts.DefaultKeepRecent
	}
	if triggerSeq <= uint64(keep)+1 {
		return 0
	}
	return triggerSeq - 1 - uint64(keep)
}

// msgPreview 会话列表的最近消息预览，密文不出库所以这里存明文截断
func msgPreview(msgType int8, content string) string {
	switch int(msgType) {
	case mongo.MsgTypeImage:
		return "[图片]"
	case mongo.MsgTypeAudio:
		return "[语音]"
	}
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return content
}

func memorySummary(mem *mongo.ConversationMemory) string {
	if mem == nil {
		return ""
	}
	return mem.Summary
}

// stateBrief 从最近记忆提取该角色的状态速写
func stateBrief(mem *mongo.ConversationMemory, charName string) string {
	if mem == nil {
		return ""
	}
	st, ok := mem.CharacterStates[charName]
	if !ok {
		return ""
	}
	parts := make([]string, 0, 3)
	if st.Mood != "" {
		parts = append(parts, "情绪:"+st.Mood)
	}
	if st.Stance != "" {
		parts = append(parts, "立场:"+st.Stance)
	}
	if len(st.Facts) > 0 {
		parts = append(parts, "要点:"+strings.Join(st.Facts, "；"))
	}
	return strings.Join(parts, " ")
}

// estimateTokens 预检用的粗略用量估计
func estimateTokens(msgs []*mongo.Message) int {
	total := 512
	for _, m := range msgs {
		total += len(m.Cipher) / 4
	}
	return total
}
