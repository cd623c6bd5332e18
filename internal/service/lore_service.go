package service

import (
	"Chorus/internal/api/dto"
	"Chorus/internal/pkg/es"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/util"
	"context"
	log "log/slog"
	"time"

	"github.com/jinzhu/copier"
)

type LoreService interface {
	CreateLore(ctx context.Context, userID uint64, req *dto.LoreBaseDTO) (*dto.LoreDTO, error)
	UpdateLore(ctx context.Context, userID, loreID uint64, req *dto.LoreBaseDTO) error
	DeleteLore(ctx context.Context, userID, loreID uint64) error
	GetLore(ctx context.Context, loreID uint64) (*dto.LoreDTO, error)
	SearchLore(ctx context.Context, query string, page, pageSize int) ([]*dto.LoreDTO, error)
	Suggest(ctx context.Context, keyword string) ([]string, error)
	ListByKind(ctx context.Context, kind, cursor string, pageSize int) (*dto.LoreListDTO, error)
}

type loreServiceImpl struct {
	loreRepo es.LoreRepo
}

func NewLoreService(loreRepo es.LoreRepo) LoreService {
	return &loreServiceImpl{loreRepo: loreRepo}
}

// CreateLore 新建设定条目并生成内容向量
func (s *loreServiceImpl) CreateLore(ctx context.Context, userID uint64, req *dto.LoreBaseDTO) (*dto.LoreDTO, error) {
	now := time.Now()
	entry := &es.LoreES{
		ID:        uint64(now.UnixNano()),
		Kind:      req.Kind,
		RefID:     req.RefID,
		OwnerID:   userID,
		IsPublic:  req.IsPublic,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      mergeTags(req.Tags, util.ExtractTags(req.Content)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	vector, err := llm.Embed(ctx, req.Title+"\n"+req.Content)
	if err != nil {
		log.Error("设定向量生成失败", "title", req.Title, "err", err)
		return nil, err
	}
	entry.ContentVector = vector

	if err := s.loreRepo.IndexLore(ctx, entry, now.UnixNano()); err != nil {
		return nil, err
	}
	return toLoreDTO(entry), nil
}

// UpdateLore 更新设定条目，内容变更时重新生成向量
func (s *loreServiceImpl) UpdateLore(ctx context.Context, userID, loreID uint64, req *dto.LoreBaseDTO) error {
	entry, err := s.loreRepo.GetLoreById(ctx, loreID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrLoreNotFound
	}
	if entry.OwnerID != userID {
		return ErrPermissionDenied
	}

	contentChanged := entry.Title != req.Title || entry.Content != req.Content
	entry.Kind = req.Kind
	entry.RefID = req.RefID
	entry.IsPublic = req.IsPublic
	entry.Title = req.Title
	entry.Content = req.Content
	entry.Tags = mergeTags(req.Tags, util.ExtractTags(req.Content))
	entry.UpdatedAt = time.Now()

	if contentChanged {
		vector, err := llm.Embed(ctx, req.Title+"\n"+req.Content)
		if err != nil {
			log.Error("设定向量生成失败", "loreID", loreID, "err", err)
			return err
		}
		entry.ContentVector = vector
	}

	return s.loreRepo.IndexLore(ctx, entry, entry.UpdatedAt.UnixNano())
}

func (s *loreServiceImpl) DeleteLore(ctx context.Context, userID, loreID uint64) error {
	entry, err := s.loreRepo.GetLoreById(ctx, loreID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrLoreNotFound
	}
	if entry.OwnerID != userID {
		return ErrPermissionDenied
	}
	return s.loreRepo.DeleteLore(ctx, loreID)
}

func (s *loreServiceImpl) GetLore(ctx context.Context, loreID uint64) (*dto.LoreDTO, error) {
	entry, err := s.loreRepo.GetLoreById(ctx, loreID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrLoreNotFound
	}
	return toLoreDTO(entry), nil
}

// SearchLore 公开设定的混合检索
func (s *loreServiceImpl) SearchLore(ctx context.Context, query string, page, pageSize int) ([]*dto.LoreDTO, error) {
	if query == "" {
		return nil, ErrParamInvalid
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 10
	}

	vector, err := llm.Embed(ctx, query)
	if err != nil {
		// 向量不可用时退化为纯文本召回
		log.Warn("查询向量生成失败，退化为文本检索", "err", err)
		vector = nil
	}

	hits, err := s.loreRepo.HybridSearch(ctx, query, vector, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	return toLoreDTOs(hits), nil
}

func (s *loreServiceImpl) Suggest(ctx context.Context, keyword string) ([]string, error) {
	if keyword == "" {
		return []string{}, nil
	}
	return s.loreRepo.GetSuggestions(ctx, keyword)
}

// ListByKind 按类别浏览，游标翻页。游标透传 ES 的 search_after 排序值
func (s *loreServiceImpl) ListByKind(ctx context.Context, kind, cursor string, pageSize int) (*dto.LoreListDTO, error) {
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 20
	}

	lastSortValues, err := util.DecodeCursor(cursor)
	if err != nil {
		log.ErrorContext(ctx, "decode cursor error", "err", err)
		lastSortValues = nil
	}

	// 多取一条判断是否还有下一页
	hits, err := s.loreRepo.GetLoreByKind(ctx, kind, lastSortValues, pageSize+1)
	if err != nil {
		return nil, err
	}

	hasMore := false
	if len(hits) > pageSize {
		hasMore = true
		hits = hits[:pageSize]
	}

	var nextCursor string
	if len(hits) > 0 {
		last := hits[len(hits)-1]
		if len(last.Sort) > 0 {
			nextCursor = util.EncodeCursor(last.Sort)
		}
	}

	return &dto.LoreListDTO{
		List:       toLoreDTOs(hits),
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// mergeTags 合并显式标签与正文内联标签，保序去重
func mergeTags(explicit, inline []string) []string {
	seen := make(map[string]struct{}, len(explicit)+len(inline))
	var tags []string
	for _, t := range append(explicit, inline...) {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return tags
}

func toLoreDTO(entry *es.LoreES) *dto.LoreDTO {
	d := &dto.LoreDTO{}
	_ = copier.Copy(d, entry)
	return d
}

func toLoreDTOs(list []*es.LoreES) []*dto.LoreDTO {
	res := make([]*dto.LoreDTO, 0, len(list))
	for _, entry := range list {
		res = append(res, toLoreDTO(entry))
	}
	return res
}
