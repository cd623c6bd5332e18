package handler

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type StoryHandler struct {
	storyService service.StoryService
}

func NewStoryHandler(storyService service.StoryService) *StoryHandler {
	return &StoryHandler{storyService: storyService}
}

// CreateStory 创建剧本
func (s *StoryHandler) CreateStory(c *gin.Context) {
	var req dto.StoryBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	res, err := s.storyService.CreateStory(c, userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// UpdateStory 更新剧本
func (s *StoryHandler) UpdateStory(c *gin.Context) {
	storyID, _ := strconv.ParseUint(c.Param("story_id"), 10, 64)

	var req dto.StoryBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if err := s.storyService.UpdateStory(c, userID, storyID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteStory 删除剧本
func (s *StoryHandler) DeleteStory(c *gin.Context) {
	storyID, _ := strconv.ParseUint(c.Param("story_id"), 10, 64)
	userID := c.GetUint64("user_id")

	if err := s.storyService.DeleteStory(c, userID, storyID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetStory 剧本详情
func (s *StoryHandler) GetStory(c *gin.Context) {
	storyID, _ := strconv.ParseUint(c.Param("story_id"), 10, 64)
	userID := c.GetUint64("user_id")

	res, err := s.storyService.GetStory(c, userID, storyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListMyStories 我的剧本
func (s *StoryHandler) ListMyStories(c *gin.Context) {
	userID := c.GetUint64("user_id")

	res, err := s.storyService.ListMyStories(c, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListPublicStories 公开剧本广场
func (s *StoryHandler) ListPublicStories(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	res, err := s.storyService.ListPublicStories(c, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// LaunchStory 剧本开局
func (s *StoryHandler) LaunchStory(c *gin.Context) {
	var req dto.LaunchStoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	res, err := s.storyService.LaunchStory(c, userID, req.StoryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
