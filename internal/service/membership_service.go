package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/model"
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	log "log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// isDuplicateError 并发入会撞唯一索引时落到这里
func isDuplicateError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return false
}

// NameIndex 会话内的称呼索引，用户与角色分开编址
type NameIndex struct {
	Users      map[uint64]string
	Characters map[uint64]string
}

// UserName 查用户称呼，查不到时退化为编号
func (n *NameIndex) UserName(userID uint64) string {
	if name, ok := n.Users[userID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("用户%d", userID)
}

// CharacterName 查角色称呼
func (n *NameIndex) CharacterName(characterID uint64) string {
	if name, ok := n.Characters[characterID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("角色%d", characterID)
}

type MembershipService interface {
	CreateConversation(ctx context.Context, ownerID uint64, req *dto.CreateConversationReq) (*dto.ConversationDTO, error)
	Join(ctx context.Context, convID, userID uint64) error
	Invite(ctx context.Context, convID, inviterID, inviteeID uint64, role int8) error
	Leave(ctx context.Context, convID, userID uint64) error
	Kick(ctx context.Context, convID, actorID, targetID uint64) error
	UpdateRole(ctx context.Context, convID, actorID, targetID uint64, newRole int8) error
	TransferOwnership(ctx context.Context, convID, fromUserID, toUserID uint64) error
	SetWritable(ctx context.Context, convID, actorID, targetID uint64, canWrite bool) error
	UpdateMode(ctx context.Context, convID, actorID uint64, multiUser bool, maxUsers int) error
	ListMembers(ctx context.Context, convID, viewerID uint64) ([]*dto.MemberDTO, error)
	AddCharacter(ctx context.Context, convID, actorID, characterID uint64) error
	RemoveCharacter(ctx context.Context, convID, actorID, characterID uint64) error
	ListCharacters(ctx context.Context, convID, viewerID uint64) ([]*dto.ConversationCharacterDTO, error)
	NameIndex(ctx context.Context, convID uint64) (*NameIndex, error)
}

type MembershipServiceImpl struct {
	convRepo      repository.ConversationRepo
	userRepo      repository.UserRepo
	characterRepo repository.CharacterRepo
	noticeRepo    mongo.NoticeRepo
	broadcaster   hub.Broadcaster
}

func NewMembershipService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	characterRepo repository.CharacterRepo,
	noticeRepo mongo.NoticeRepo,
	broadcaster hub.Broadcaster,
) MembershipService {
	return &MembershipServiceImpl{
		convRepo:      convRepo,
		userRepo:      userRepo,
		characterRepo: characterRepo,
		noticeRepo:    noticeRepo,
		broadcaster:   broadcaster,
	}
}

// CreateConversation 建会：发起者成为拥有者，角色名单一并落库
func (s *MembershipServiceImpl) CreateConversation(ctx context.Context, ownerID uint64, req *dto.CreateConversationReq) (*dto.ConversationDTO, error) {
	if req.Type != model.ConvTypeDirect && req.Type != model.ConvTypeGroup && req.Type != model.ConvTypeStory {
		return nil, ErrParamInvalid
	}

	maxUsers := req.MaxUsers
	if maxUsers <= 0 {
		maxUsers = consts.DefaultMaxUsers
	}
	isMulti := int8(0)
	if req.IsMultiUser || req.Type == model.ConvTypeGroup || req.Type == model.ConvTypeStory {
		isMulti = 1
	}
	if isMulti == 0 {
		// 单人模式只容纳发起者本人
		maxUsers = 1
	}

	var characters []*model.ConversationCharacter
	if len(req.CharacterIDs) > 0 {
		found, err := s.characterRepo.GetCharacterByIds(ctx, req.CharacterIDs)
		if err != nil {
			return nil, err
		}
		if len(found) != len(req.CharacterIDs) {
			return nil, ErrCharacterNotFound
		}
		for _, id := range req.CharacterIDs {
			characters = append(characters, &model.ConversationCharacter{
				CharacterID: id,
				AddedBy:     ownerID,
			})
		}
	}

	conv := &model.Conversation{
		Type:          req.Type,
		ConvKey:       uuid.NewString(),
		Title:         req.Title,
		IsMultiUser:   isMulti,
		MaxUsers:      maxUsers,
		OwnerID:       ownerID,
		LastMessageAt: time.Now(),
	}
	owner := &model.ConversationMember{
		UserID:    ownerID,
		Role:      model.ConvRoleOwner,
		CanWrite:  1,
		CanInvite: 1,
	}

	if err := s.convRepo.CreateConversation(ctx, conv, []*model.ConversationMember{owner}, characters); err != nil {
		return nil, err
	}

	return &dto.ConversationDTO{
		ConversationID: conv.ID,
		ConvKey:        conv.ConvKey,
		Type:           conv.Type,
		Title:          conv.Title,
		IsMultiUser:    isMulti == 1,
		OwnerID:        ownerID,
		Role:           model.ConvRoleOwner,
		LastMessageAt:  conv.LastMessageAt,
	}, nil
}

// Join 自助入会，多人模式下按成员身份加入
func (s *MembershipServiceImpl) Join(ctx context.Context, convID, userID uint64) error {
	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if conv.IsMultiUser == 0 {
		return ErrNotMultiUser
	}

	existing, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyMember
	}

	member := &model.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		Role:           model.ConvRoleMember,
		CanWrite:       1,
	}
	if err := s.convRepo.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrConversationFull) {
			return ErrCapacityExceeded
		}
		if isDuplicateError(err) {
			return ErrAlreadyMember
		}
		return err
	}

	s.emit(ctx, hub.EventMemberJoined, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: userID})
	return nil
}

// Invite 邀请入会。拥有者与协管随时可邀，普通成员须持有邀请权
func (s *MembershipServiceImpl) Invite(ctx context.Context, convID, inviterID, inviteeID uint64, role int8) error {
	if inviterID == inviteeID {
		return ErrParamInvalid
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if conv.IsMultiUser == 0 {
		return ErrNotMultiUser
	}

	inviter, err := s.convRepo.GetMember(ctx, convID, inviterID)
	if err != nil {
		return err
	}
	if inviter == nil {
		return ErrNotAMember
	}

	switch inviter.Role {
	case model.ConvRoleOwner, model.ConvRoleModerator:
	default:
		if inviter.CanInvite != 1 {
			return ErrPermissionDenied
		}
	}

	if role == 0 {
		role = model.ConvRoleMember
	}
	switch role {
	case model.ConvRoleMember, model.ConvRoleViewer:
	case model.ConvRoleModerator:
		// 协管身份只能由拥有者授出
		if inviter.Role != model.ConvRoleOwner {
			return ErrPermissionDenied
		}
	default:
		return ErrParamInvalid
	}

	invitee, err := s.userRepo.GetUserById(ctx, inviteeID)
	if err != nil {
		return err
	}
	if invitee == nil {
		return ErrUserNotFound
	}

	existing, err := s.convRepo.GetMember(ctx, convID, inviteeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyMember
	}

	canWrite := int8(1)
	if role == model.ConvRoleViewer {
		canWrite = 0
	}
	member := &model.ConversationMember{
		ConversationID: convID,
		UserID:         inviteeID,
		Role:           role,
		CanWrite:       canWrite,
		InvitedBy:      inviterID,
	}
	if err := s.convRepo.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrConversationFull) {
			return ErrCapacityExceeded
		}
		if isDuplicateError(err) {
			return ErrAlreadyMember
		}
		return err
	}

	s.notify(ctx, &mongo.NoticeModel{
		ReceiverID: inviteeID,
		SenderID:   inviterID,
		Type:       mongo.NoticeInvited,
		TargetID:   convID,
		Content:    "你被邀请加入会话 " + conv.Title,
	})
	s.emit(ctx, hub.EventMemberJoined, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: inviteeID})
	return nil
}

// Leave 退会。拥有者须先移交所有权，除非会话里只剩自己
func (s *MembershipServiceImpl) Leave(ctx context.Context, convID, userID uint64) error {
	member, err := s.convRepo.GetMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotAMember
	}

	if member.Role == model.ConvRoleOwner {
		count, err := s.convRepo.CountMembers(ctx, convID)
		if err != nil {
			return err
		}
		if count > 1 {
			return ErrOwnershipTransfer
		}
	}

	if err := s.convRepo.RemoveMember(ctx, convID, userID); err != nil {
		return err
	}

	s.emit(ctx, hub.EventMemberLeft, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: userID})
	return nil
}

// Kick 踢人。协管只能处置普通成员与旁观者
func (s *MembershipServiceImpl) Kick(ctx context.Context, convID, actorID, targetID uint64) error {
	if actorID == targetID {
		return ErrParamInvalid
	}

	actor, target, err := s.loadPair(ctx, convID, actorID, targetID)
	if err != nil {
		return err
	}
	if !canManage(actor, target) {
		return ErrPermissionDenied
	}

	if err := s.convRepo.RemoveMember(ctx, convID, targetID); err != nil {
		return err
	}

	s.notify(ctx, &mongo.NoticeModel{
		ReceiverID: targetID,
		SenderID:   actorID,
		Type:       mongo.NoticeRemoved,
		TargetID:   convID,
		Content:    "你已被移出会话",
	})
	s.emit(ctx, hub.EventMemberKicked, convID, &dto.MemberTargetReq{ConversationID: convID, UserID: targetID})
	return nil
}

// UpdateRole 调整成员角色。拥有者身份只能走移交流程，不在此授出
func (s *MembershipServiceImpl) UpdateRole(ctx context.Context, convID, actorID, targetID uint64, newRole int8) error {
	if actorID == targetID {
		return ErrParamInvalid
	}
	if newRole != model.ConvRoleModerator && newRole != model.ConvRoleMember && newRole != model.ConvRoleViewer {
		return ErrParamInvalid
	}

	actor, target, err := s.loadPair(ctx, convID, actorID, targetID)
	if err != nil {
		return err
	}
	if !canManage(actor, target) {
		return ErrPermissionDenied
	}
	// 协管无权授予或褫夺协管身份
	if newRole == model.ConvRoleModerator && actor.Role != model.ConvRoleOwner {
		return ErrPermissionDenied
	}

	updates := map[string]interface{}{"role": newRole}
	if newRole == model.ConvRoleViewer {
		updates["can_write"] = 0
	} else if target.Role == model.ConvRoleViewer {
		// 旁观者转正后恢复发言权
		updates["can_write"] = 1
	}
	if err := s.convRepo.UpdateMember(ctx, convID, targetID, updates); err != nil {
		return err
	}

	s.notify(ctx, &mongo.NoticeModel{
		ReceiverID: targetID,
		SenderID:   actorID,
		Type:       mongo.NoticeRoleChanged,
		TargetID:   convID,
		Content:    "你在会话中的身份已变更",
	})
	s.emit(ctx, hub.EventRoleChanged, convID, &dto.UpdateRoleReq{ConversationID: convID, UserID: targetID, Role: newRole})
	return nil
}

// TransferOwnership 移交所有权，原拥有者降为协管
func (s *MembershipServiceImpl) TransferOwnership(ctx context.Context, convID, fromUserID, toUserID uint64) error {
	if fromUserID == toUserID {
		return ErrParamInvalid
	}

	from, target, err := s.loadPair(ctx, convID, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if from.Role != model.ConvRoleOwner {
		return ErrPermissionDenied
	}
	if target.Role == model.ConvRoleViewer {
		return ErrTargetUserInvalid
	}

	if err := s.convRepo.TransferOwnership(ctx, convID, fromUserID, toUserID); err != nil {
		return err
	}

	s.notify(ctx, &mongo.NoticeModel{
		ReceiverID: toUserID,
		SenderID:   fromUserID,
		Type:       mongo.NoticeOwnership,
		TargetID:   convID,
		Content:    "会话所有权已移交给你",
	})
	s.emit(ctx, hub.EventOwnerChanged, convID, &dto.TransferOwnershipReq{ConversationID: convID, UserID: toUserID})
	return nil
}

// SetWritable 开关成员发言权。旁观者恒为只读，先转正再放开
func (s *MembershipServiceImpl) SetWritable(ctx context.Context, convID, actorID, targetID uint64, canWrite bool) error {
	actor, target, err := s.loadPair(ctx, convID, actorID, targetID)
	if err != nil {
		return err
	}
	if !canManage(actor, target) {
		return ErrPermissionDenied
	}
	if target.Role == model.ConvRoleViewer && canWrite {
		return ErrParamInvalid
	}

	v := int8(0)
	if canWrite {
		v = 1
	}
	if err := s.convRepo.UpdateMember(ctx, convID, targetID, map[string]interface{}{"can_write": v}); err != nil {
		return err
	}

	s.emit(ctx, hub.EventRoleChanged, convID, &dto.SetWritableReq{ConversationID: convID, UserID: targetID, CanWrite: &canWrite})
	return nil
}

// UpdateMode 单人/多人模式切换。尚有其他成员时禁止降级
func (s *MembershipServiceImpl) UpdateMode(ctx context.Context, convID, actorID uint64, multiUser bool, maxUsers int) error {
	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	actor, err := s.convRepo.GetMember(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return ErrNotAMember
	}
	if actor.Role != model.ConvRoleOwner {
		return ErrPermissionDenied
	}

	updates := map[string]interface{}{}
	if multiUser {
		if maxUsers <= 0 {
			maxUsers = consts.DefaultMaxUsers
		}
		updates["is_multi_user"] = 1
		updates["max_users"] = maxUsers
	} else {
		count, err := s.convRepo.CountMembers(ctx, convID)
		if err != nil {
			return err
		}
		if count > 1 {
			return ErrModeLocked
		}
		updates["is_multi_user"] = 0
		updates["max_users"] = 1
	}
	if err := s.convRepo.UpdateConversation(ctx, convID, updates); err != nil {
		return err
	}

	s.emit(ctx, hub.EventModeChanged, convID, &dto.UpdateModeReq{ConversationID: convID, IsMultiUser: &multiUser, MaxUsers: maxUsers})
	return nil
}

// ListMembers 成员名册，按加入时间排序，带账号昵称与头像
func (s *MembershipServiceImpl) ListMembers(ctx context.Context, convID, viewerID uint64) ([]*dto.MemberDTO, error) {
	viewer, err := s.convRepo.GetMember(ctx, convID, viewerID)
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, ErrNotAMember
	}

	members, err := s.convRepo.ListMembers(ctx, convID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	details, err := s.userRepo.GetUserSimpleInfoByIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	detailMap := make(map[uint64]*model.UserDetail, len(details))
	for _, d := range details {
		detailMap[d.UserID] = d
	}

	result := make([]*dto.MemberDTO, 0, len(members))
	for _, m := range members {
		item := &dto.MemberDTO{
			UserID:    m.UserID,
			Nickname:  m.Nickname,
			Role:      m.Role,
			CanWrite:  m.CanWrite == 1,
			CanInvite: m.CanInvite == 1,
			JoinedAt:  m.JoinedAt,
		}
		if d, ok := detailMap[m.UserID]; ok {
			if item.Nickname == "" {
				item.Nickname = d.Nickname
			}
			item.AvatarURL = d.AvatarURL
		}
		result = append(result, item)
	}
	return result, nil
}

// AddCharacter 向会话名单添加角色
func (s *MembershipServiceImpl) AddCharacter(ctx context.Context, convID, actorID, characterID uint64) error {
	actor, err := s.convRepo.GetMember(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return ErrNotAMember
	}
	if actor.Role != model.ConvRoleOwner && actor.Role != model.ConvRoleModerator {
		return ErrPermissionDenied
	}

	ch, err := s.characterRepo.GetCharacterById(ctx, characterID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrCharacterNotFound
	}

	existing, err := s.convRepo.ListCharacters(ctx, convID)
	if err != nil {
		return err
	}
	for _, cc := range existing {
		if cc.CharacterID == characterID {
			return ErrAlreadyMember
		}
	}

	if err := s.convRepo.AddCharacter(ctx, &model.ConversationCharacter{
		ConversationID: convID,
		CharacterID:    characterID,
		AddedBy:        actorID,
	}); err != nil {
		if isDuplicateError(err) {
			return ErrAlreadyMember
		}
		return err
	}

	s.emit(ctx, hub.EventCharacterAdded, convID, &dto.ConversationCharacterDTO{
		CharacterID: characterID,
		Name:        ch.Name,
		AvatarURL:   ch.AvatarURL,
	})
	return nil
}

// RemoveCharacter 将角色移出名单
func (s *MembershipServiceImpl) RemoveCharacter(ctx context.Context, convID, actorID, characterID uint64) error {
	actor, err := s.convRepo.GetMember(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return ErrNotAMember
	}
	if actor.Role != model.ConvRoleOwner && actor.Role != model.ConvRoleModerator {
		return ErrPermissionDenied
	}

	if err := s.convRepo.RemoveCharacter(ctx, convID, characterID); err != nil {
		return err
	}

	s.emit(ctx, hub.EventCharacterRemoved, convID, &dto.ConversationCharacterDTO{CharacterID: characterID})
	return nil
}

// ListCharacters 会话角色名单，按入驻顺序
func (s *MembershipServiceImpl) ListCharacters(ctx context.Context, convID, viewerID uint64) ([]*dto.ConversationCharacterDTO, error) {
	viewer, err := s.convRepo.GetMember(ctx, convID, viewerID)
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, ErrNotAMember
	}

	list, err := s.convRepo.ListCharacters(ctx, convID)
	if err != nil {
		return nil, err
	}
	result := make([]*dto.ConversationCharacterDTO, 0, len(list))
	for _, cc := range list {
		result = append(result, &dto.ConversationCharacterDTO{
			CharacterID:  cc.CharacterID,
			Name:         cc.Character.Name,
			AvatarURL:    cc.Character.AvatarURL,
			Position:     cc.Position,
			LastReplySeq: cc.LastReplySeq,
		})
	}
	return result, nil
}

// NameIndex 汇总会话内所有发言方的称呼，供上下文装配与记忆压缩使用
func (s *MembershipServiceImpl) NameIndex(ctx context.Context, convID uint64) (*NameIndex, error) {
	return buildNameIndex(ctx, s.convRepo, s.userRepo, convID)
}

func buildNameIndex(ctx context.Context, convRepo repository.ConversationRepo, userRepo repository.UserRepo, convID uint64) (*NameIndex, error) {
	idx := &NameIndex{
		Users:      make(map[uint64]string),
		Characters: make(map[uint64]string),
	}

	members, err := convRepo.ListMembers(ctx, convID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
		if m.Nickname != "" {
			idx.Users[m.UserID] = m.Nickname
		}
	}
	details, err := userRepo.GetUserSimpleInfoByIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range details {
		// 会话内昵称优先于账号昵称
		if _, ok := idx.Users[d.UserID]; !ok {
			idx.Users[d.UserID] = d.Nickname
		}
	}

	characters, err := convRepo.ListCharacters(ctx, convID)
	if err != nil {
		return nil, err
	}
	for _, cc := range characters {
		idx.Characters[cc.CharacterID] = cc.Character.Name
	}
	return idx, nil
}

// loadPair 取操作者与被操作者的成员记录，任一缺席即报 ErrNotAMember
func (s *MembershipServiceImpl) loadPair(ctx context.Context, convID, actorID, targetID uint64) (*model.ConversationMember, *model.ConversationMember, error) {
	actor, err := s.convRepo.GetMember(ctx, convID, actorID)
	if err != nil {
		return nil, nil, err
	}
	if actor == nil {
		return nil, nil, ErrNotAMember
	}
	target, err := s.convRepo.GetMember(ctx, convID, targetID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, ErrNotAMember
	}
	return actor, target, nil
}

// canManage 角色权限矩阵：拥有者可处置任何人，协管只能处置成员与旁观者
func canManage(actor, target *model.ConversationMember) bool {
	switch actor.Role {
	case model.ConvRoleOwner:
		return true
	case model.ConvRoleModerator:
		return target.Role == model.ConvRoleMember || target.Role == model.ConvRoleViewer
	default:
		return false
	}
}

func (s *MembershipServiceImpl) emit(ctx context.Context, eventType string, convID uint64, payload any) {
	if err := s.broadcaster.Broadcast(ctx, hub.NewEvent(eventType, convID, 0, payload)); err != nil {
		log.Warn("broadcast event failed", "type", eventType, "conv_id", convID, "err", err)
	}
}

func (s *MembershipServiceImpl) notify(ctx context.Context, notice *mongo.NoticeModel) {
	notice.CreatedAt = time.Now()
	if err := s.noticeRepo.CreateNotice(ctx, notice); err != nil {
		log.Warn("create notice failed", "receiver", notice.ReceiverID, "err", err)
	}
}
