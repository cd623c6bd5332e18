package handler

import (
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type MemoryHandler struct {
	memoryService service.MemoryService
}

func NewMemoryHandler(memoryService service.MemoryService) *MemoryHandler {
	return &MemoryHandler{memoryService: memoryService}
}

// ListMemories 会话记忆时间线，新的在前
func (s *MemoryHandler) ListMemories(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conv_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	viewerID := c.GetUint64("user_id")

	res, err := s.memoryService.ListMemories(c, convID, viewerID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
