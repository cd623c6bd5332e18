package handler

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/response"
	"Chorus/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type CharacterHandler struct {
	characterService service.CharacterService
}

func NewCharacterHandler(characterService service.CharacterService) *CharacterHandler {
	return &CharacterHandler{characterService: characterService}
}

// CreateCharacter 创建角色卡
func (s *CharacterHandler) CreateCharacter(c *gin.Context) {
	var req dto.CharacterBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	res, err := s.characterService.CreateCharacter(c, userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// UpdateCharacter 更新角色卡
func (s *CharacterHandler) UpdateCharacter(c *gin.Context) {
	charID, _ := strconv.ParseUint(c.Param("char_id"), 10, 64)

	var req dto.CharacterBaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if err := s.characterService.UpdateCharacter(c, userID, charID, &req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteCharacter 删除角色卡
func (s *CharacterHandler) DeleteCharacter(c *gin.Context) {
	charID, _ := strconv.ParseUint(c.Param("char_id"), 10, 64)
	userID := c.GetUint64("user_id")

	if err := s.characterService.DeleteCharacter(c, userID, charID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetCharacter 角色卡详情
func (s *CharacterHandler) GetCharacter(c *gin.Context) {
	charID, _ := strconv.ParseUint(c.Param("char_id"), 10, 64)
	userID := c.GetUint64("user_id")

	res, err := s.characterService.GetCharacter(c, userID, charID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListMyCharacters 我的角色卡
func (s *CharacterHandler) ListMyCharacters(c *gin.Context) {
	userID := c.GetUint64("user_id")

	res, err := s.characterService.ListMyCharacters(c, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListPublicCharacters 公开角色广场
func (s *CharacterHandler) ListPublicCharacters(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	res, err := s.characterService.ListPublicCharacters(c, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
