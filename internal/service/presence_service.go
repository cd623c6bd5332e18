package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/repository"
	"context"
	"sort"
	"time"

	log "log/slog"
)

type PresenceService interface {
	MarkOnline(ctx context.Context, convID, userID uint64, connID string) error
	MarkOffline(ctx context.Context, connID string) error
	Touch(ctx context.Context, connID string) error
	SetTyping(ctx context.Context, convID, userID uint64, isTyping bool) error
	ListOnline(ctx context.Context, convID uint64) ([]*dto.OnlineUserDTO, error)
	ListTyping(ctx context.Context, convID uint64) ([]uint64, error)
	Sweep(ctx context.Context) (int64, error)
}

type PresenceServiceImpl struct {
	store       redis.PresenceStore
	convRepo    repository.ConversationRepo
	userRepo    repository.UserRepo
	broadcaster hub.Broadcaster
	window      time.Duration // 心跳超时窗口，超过即视为失联
	typingTTL   time.Duration
}

func NewPresenceService(
	store redis.PresenceStore,
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	broadcaster hub.Broadcaster,
	window time.Duration,
	typingTTL time.Duration,
) PresenceService {
	if window <= 0 {
		window = 45 * time.Second
	}
	if typingTTL <= 0 {
		typingTTL = 6 * time.Second
	}
	return &PresenceServiceImpl{
		store:       store,
		convRepo:    convRepo,
		userRepo:    userRepo,
		broadcaster: broadcaster,
		window:      window,
		typingTTL:   typingTTL,
	}
}

// MarkOnline 连接在某会话上线。非成员直接拒绝，不留在场记录
func (s *PresenceServiceImpl) MarkOnline(ctx context.Context, convID, userID uint64, connID string) error {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}

	now := time.Now()
	conns, err := s.store.Connections(ctx, convID, now.Add(-s.window))
	if err != nil {
		return err
	}
	wasOnline := len(conns[userID]) > 0

	if err := s.store.Upsert(ctx, convID, userID, connID, now); err != nil {
		return err
	}
	if err := s.store.BindConn(ctx, connID, userID, s.window*2); err != nil {
		return err
	}
	if err := s.store.AddConnConv(ctx, connID, convID, s.window*2); err != nil {
		return err
	}

	// 同一用户的后续连接不重复广播
	if !wasOnline {
		s.emit(ctx, hub.EventPresenceOnline, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: userID})
	}
	return nil
}

// MarkOffline 连接断开。只凭连接号反查归属，逐会话摘除在场记录
func (s *PresenceServiceImpl) MarkOffline(ctx context.Context, connID string) error {
	userID, convIDs, err := s.store.ConnInfo(ctx, connID)
	if err != nil {
		return err
	}
	if userID == 0 {
		// 登记已过期，清扫任务会兜底回收
		return nil
	}

	now := time.Now()
	for _, convID := range convIDs {
		if err := s.store.Remove(ctx, convID, userID, connID); err != nil {
			log.Warn("remove presence failed", "conv_id", convID, "conn_id", connID, "err", err)
			continue
		}
		conns, err := s.store.Connections(ctx, convID, now.Add(-s.window))
		if err != nil {
			continue
		}
		// 最后一条连接下线才广播离场
		if len(conns[userID]) == 0 {
			s.emit(ctx, hub.EventPresenceOffline, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: userID})
		}
	}
	return s.store.DropConn(ctx, connID)
}

// Touch 心跳续期，刷新连接名下所有会话的在场时间戳
func (s *PresenceServiceImpl) Touch(ctx context.Context, connID string) error {
	userID, convIDs, err := s.store.ConnInfo(ctx, connID)
	if err != nil {
		return err
	}
	if userID == 0 {
		return nil
	}

	now := time.Now()
	if err := s.store.BindConn(ctx, connID, userID, s.window*2); err != nil {
		return err
	}
	for _, convID := range convIDs {
		if err := s.store.Upsert(ctx, convID, userID, connID, now); err != nil {
			log.Warn("touch presence failed", "conv_id", convID, "conn_id", connID, "err", err)
		}
	}
	return nil
}

// SetTyping 输入状态打点，到期自动消失，无需显式停止
func (s *PresenceServiceImpl) SetTyping(ctx context.Context, convID, userID uint64, isTyping bool) error {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}

	if isTyping {
		if err := s.store.SetTyping(ctx, convID, userID, time.Now().Add(s.typingTTL)); err != nil {
			return err
		}
	} else {
		if err := s.store.ClearTyping(ctx, convID, userID); err != nil {
			return err
		}
	}

	s.emit(ctx, hub.EventTyping, convID, &dto.TypingDTO{ConversationID: convID, UserID: userID, IsTyping: isTyping})
	return nil
}

// ListOnline 在场用户清单，窗口内有任一连接心跳即算在线
func (s *PresenceServiceImpl) ListOnline(ctx context.Context, convID uint64) ([]*dto.OnlineUserDTO, error) {
	conns, err := s.store.Connections(ctx, convID, time.Now().Add(-s.window))
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(conns))
	for uid := range conns {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	details, err := s.userRepo.GetUserSimpleInfoByIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	detailMap := make(map[uint64]*model.UserDetail, len(details))
	for _, d := range details {
		detailMap[d.UserID] = d
	}

	result := make([]*dto.OnlineUserDTO, 0, len(ids))
	for _, uid := range ids {
		item := &dto.OnlineUserDTO{UserID: uid, ConnCount: len(conns[uid])}
		if d, ok := detailMap[uid]; ok {
			item.Nickname = d.Nickname
			item.AvatarURL = d.AvatarURL
		}
		result = append(result, item)
	}
	return result, nil
}

// ListTyping 当前仍在输入的用户
func (s *PresenceServiceImpl) ListTyping(ctx context.Context, convID uint64) ([]uint64, error) {
	return s.store.ListTyping(ctx, convID, time.Now())
}

// Sweep 清扫失联连接，返回回收数量。由定时任务周期驱动
func (s *PresenceServiceImpl) Sweep(ctx context.Context) (int64, error) {
	convIDs, err := s.store.ActiveConvIDs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.window)
	var total int64
	for _, convID := range convIDs {
		removed, err := s.store.Trim(ctx, convID, cutoff)
		if err != nil {
			log.Warn("trim presence failed", "conv_id", convID, "err", err)
			continue
		}
		total += removed
	}
	return total, nil
}

func (s *PresenceServiceImpl) emit(ctx context.Context, eventType string, convID uint64, payload any) {
	if err := s.broadcaster.Broadcast(ctx, hub.NewEvent(eventType, convID, 0, payload)); err != nil {
		log.Warn("broadcast event failed", "type", eventType, "conv_id", convID, "err", err)
	}
}
