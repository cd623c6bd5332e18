package handler

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type MembershipHandler struct {
	membershipService service.MembershipService
}

func NewMembershipHandler(membershipService service.MembershipService) *MembershipHandler {
	return &MembershipHandler{membershipService: membershipService}
}

// CreateConversation 创建会话
func (s *MembershipHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	ownerID := c.GetUint64("user_id")

	res, err := s.membershipService.CreateConversation(c, ownerID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Join 加入会话
func (s *MembershipHandler) Join(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)
	userID := c.GetUint64("user_id")

	if err := s.membershipService.Join(c, convID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Invite 邀请成员
func (s *MembershipHandler) Invite(c *gin.Context) {
	var req dto.InviteMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	inviterID := c.GetUint64("user_id")

	if err := s.membershipService.Invite(c, req.ConversationID, inviterID, req.UserID, req.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Leave 退出会话
func (s *MembershipHandler) Leave(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)
	userID := c.GetUint64("user_id")

	if err := s.membershipService.Leave(c, convID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Kick 移出成员
func (s *MembershipHandler) Kick(c *gin.Context) {
	var req dto.MemberTargetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.Kick(c, req.ConversationID, actorID, req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// UpdateRole 调整成员角色
func (s *MembershipHandler) UpdateRole(c *gin.Context) {
	var req dto.UpdateRoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.UpdateRole(c, req.ConversationID, actorID, req.UserID, req.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// TransferOwnership 移交所有权
func (s *MembershipHandler) TransferOwnership(c *gin.Context) {
	var req dto.TransferOwnershipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	fromUserID := c.GetUint64("user_id")

	if err := s.membershipService.TransferOwnership(c, req.ConversationID, fromUserID, req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SetWritable 调整成员发言权
func (s *MembershipHandler) SetWritable(c *gin.Context) {
	var req dto.SetWritableReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.SetWritable(c, req.ConversationID, actorID, req.UserID, *req.CanWrite); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// UpdateMode 切换单人/多人模式
func (s *MembershipHandler) UpdateMode(c *gin.Context) {
	var req dto.UpdateModeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.UpdateMode(c, req.ConversationID, actorID, *req.IsMultiUser, req.MaxUsers); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListMembers 成员列表
func (s *MembershipHandler) ListMembers(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)
	viewerID := c.GetUint64("user_id")

	res, err := s.membershipService.ListMembers(c, convID, viewerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// AddCharacter 向会话添加角色
func (s *MembershipHandler) AddCharacter(c *gin.Context) {
	var req dto.ConversationCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.AddCharacter(c, req.ConversationID, actorID, req.CharacterID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// RemoveCharacter 从会话移除角色
func (s *MembershipHandler) RemoveCharacter(c *gin.Context) {
	var req dto.ConversationCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	actorID := c.GetUint64("user_id")

	if err := s.membershipService.RemoveCharacter(c, req.ConversationID, actorID, req.CharacterID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListCharacters 会话角色名单
func (s *MembershipHandler) ListCharacters(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)
	viewerID := c.GetUint64("user_id")

	res, err := s.membershipService.ListCharacters(c, convID, viewerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
