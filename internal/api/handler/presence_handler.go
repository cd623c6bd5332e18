package handler

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presenceService service.PresenceService
}

func NewPresenceHandler(presenceService service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// Typing 输入状态上报，长连接以外的兜底通道
func (s *PresenceHandler) Typing(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if err := s.presenceService.SetTyping(c, req.ConversationID, userID, *req.IsTyping); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListOnline 会话在场名单
func (s *PresenceHandler) ListOnline(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)

	res, err := s.presenceService.ListOnline(c, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListTyping 正在输入的用户
func (s *PresenceHandler) ListTyping(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)

	res, err := s.presenceService.ListTyping(c, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
