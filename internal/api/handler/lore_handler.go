package handler

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type LoreHandler struct {
	loreService service.LoreService
}

func NewLoreHandler(loreService service.LoreService) *LoreHandler {
	return &LoreHandler{loreService: loreService}
}

// CreateLore 新建设定条目
func (s *LoreHandler) CreateLore(c *gin.Context) {
	var req dto.LoreBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	res, err := s.loreService.CreateLore(c, userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// UpdateLore 更新设定条目
func (s *LoreHandler) UpdateLore(c *gin.Context) {
	loreID, _ := strconv.ParseUint(c.Param("lore_id"), 10, 64)

	var req dto.LoreBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if err := s.loreService.UpdateLore(c, userID, loreID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteLore 删除设定条目
func (s *LoreHandler) DeleteLore(c *gin.Context) {
	loreID, _ := strconv.ParseUint(c.Param("lore_id"), 10, 64)
	userID := c.GetUint64("user_id")

	if err := s.loreService.DeleteLore(c, userID, loreID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetLore 设定条目详情
func (s *LoreHandler) GetLore(c *gin.Context) {
	loreID, _ := strconv.ParseUint(c.Param("lore_id"), 10, 64)

	res, err := s.loreService.GetLore(c, loreID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SearchLore 设定混合检索
func (s *LoreHandler) SearchLore(c *gin.Context) {
	query := c.Query("query")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	res, err := s.loreService.SearchLore(c, query, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Suggest 搜索补全
func (s *LoreHandler) Suggest(c *gin.Context) {
	keyword := c.Query("keyword")

	res, err := s.loreService.Suggest(c, keyword)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListByKind 按类别浏览，游标翻页
func (s *LoreHandler) ListByKind(c *gin.Context) {
	kind := c.Param("kind")
	cursor := c.Query("cursor")
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	res, err := s.loreService.ListByKind(c, kind, cursor, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
