package es

import (
	"Chorus/internal/pkg/util"
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types/enums/sortorder"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types/enums/versiontype"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const MaxSearchDepth = 400

type LoreRepo interface {
	HybridSearch(ctx context.Context, queryText string, queryVector []float32, from, size int) ([]*LoreES, error)
	GetSuggestions(ctx context.Context, keyword string) ([]string, error)
	GetLoreById(ctx context.Context, id uint64) (*LoreES, error)
	GetLoreByKind(ctx context.Context, kind string, lastSortValues []interface{}, size int) ([]*LoreES, error)
	IndexLore(ctx context.Context, entry *LoreES, version int64) error
	DeleteLore(ctx context.Context, id uint64) error
}

type LoreRepoImpl struct {
	client *elasticsearch.TypedClient
}

func NewLoreRepo(client *elasticsearch.TypedClient) LoreRepo {
	return &LoreRepoImpl{client: client}
}

// HybridSearch 文本与向量双路召回，RRF 融合排序
func (s *LoreRepoImpl) HybridSearch(ctx context.Context, queryText string, queryVector []float32, from, size int) ([]*LoreES, error) {
	if from >= MaxSearchDepth {
		return []*LoreES{}, nil
	}

	requestedDepth := from + size
	candidateLimit := s.calculateCandidateLimit(requestedDepth)

	publicFilter := []types.Query{{
		Term: map[string]types.TermQuery{
			"is_public": {Value: true},
		},
	}}

	return s.executeHybridFusion(ctx, queryText, queryVector, publicFilter, candidateLimit, from, size)
}

func (s *LoreRepoImpl) GetSuggestions(ctx context.Context, keyword string) ([]string, error) {
	suggestKey := "lore-suggest"

	suggester := types.NewSuggester()
	suggester.Suggesters[suggestKey] = types.FieldSuggester{
		Prefix: &keyword,
		Completion: &types.CompletionSuggester{
			Field: "title.suggestion",
			Fuzzy: &types.SuggestFuzziness{
				Fuzziness: util.PtrStr("AUTO"),
			},
			Size: util.PtrInt(5),
		},
	}

	res, err := s.client.Search().
		Index(LoreIndex).
		Suggest(suggester).
		Size(0).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := make([]string, 0)
	if results, ok := res.Suggest[suggestKey]; ok {
		for _, r := range results {
			if cs, ok := r.(*types.CompletionSuggest); ok {
				for _, opt := range cs.Options {
					suggestions = append(suggestions, opt.Text)
				}
			}
		}
	}
	return suggestions, nil
}

func (s *LoreRepoImpl) GetLoreById(ctx context.Context, id uint64) (*LoreES, error) {
	docID := strconv.FormatUint(id, 10)
	result, err := s.client.Get(LoreIndex, docID).Do(ctx)
	if err != nil {
		var e *types.ElasticsearchError
		if errors.As(err, &e) {
			if e.Status == NotFoundCode {
				return nil, nil
			}
		}
		return nil, err
	}
	if result.Source_ == nil {
		return nil, nil
	}
	var entry LoreES
	if err = json.Unmarshal(result.Source_, &entry); err != nil {
		return nil, err
	}
	if entry.Tags == nil {
		entry.Tags = make([]string, 0)
	}
	return &entry, nil
}

func (s *LoreRepoImpl) GetLoreByKind(ctx context.Context, kind string, lastSortValues []interface{}, size int) ([]*LoreES, error) {
	searchReq := s.client.Search().
		Index(LoreIndex).
		Query(&types.Query{
			Bool: &types.BoolQuery{
				Must: []types.Query{
					{
						Term: map[string]types.TermQuery{
							"kind": {Value: kind},
						},
					},
				},
				Filter: []types.Query{
					{
						Term: map[string]types.TermQuery{
							"is_public": {Value: true},
						},
					},
				},
			},
		}).
		Source_(&types.SourceFilter{
			Excludes: []string{"content_vector"},
		}).
		Sort(types.SortOptions{
			SortOptions: map[string]types.FieldSort{
				"created_at": {Order: &sortorder.Desc},
			},
		}).
		Size(size)

	// 注入游标
	if len(lastSortValues) > 0 {
		searchAfterValues := make([]types.FieldValue, len(lastSortValues))
		for i, v := range lastSortValues {
			searchAfterValues[i] = v
		}
		searchReq.SearchAfter(searchAfterValues...)
	}

	return s.executeSearch(ctx, searchReq)
}

func (s *LoreRepoImpl) IndexLore(ctx context.Context, entry *LoreES, version int64) error {
	docID := strconv.FormatUint(entry.ID, 10)

	_, err := s.client.Index(LoreIndex).
		Id(docID).
		Document(entry).
		Version(strconv.FormatInt(version, 10)).
		VersionType(versiontype.External).
		Do(ctx)

	if err != nil {
		var e *types.ElasticsearchError
		if errors.As(err, &e) {
			if e.Status == ConflictCode {
				return nil
			}
		}
		return err
	}

	return nil
}

func (s *LoreRepoImpl) DeleteLore(ctx context.Context, id uint64) error {
	docID := strconv.FormatUint(id, 10)

	_, err := s.client.Delete(LoreIndex, docID).Do(ctx)

	if err != nil {
		var e *types.ElasticsearchError
		if errors.As(err, &e) {
			if e.Status == NotFoundCode {
				return nil
			}
		}
		return err
	}

	return nil
}

func (s *LoreRepoImpl) executeHybridFusion(ctx context.Context, queryText string, queryVector []float32, filters []types.Query, limit, from, size int) ([]*LoreES, error) {
	var (
		vectorResults []*LoreES
		textResults   []*LoreES
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		vectorResults, err = s.vectorSearch(ctx, queryVector, limit, filters)
		return err
	})

	g.Go(func() error {
		var err error
		textResults, err = s.textSearch(ctx, queryText, limit, filters)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := s.manualRRF(vectorResults, textResults)

	start := from
	if start > len(merged) {
		return []*LoreES{}, nil
	}
	end := start + size
	if end > len(merged) {
		end = len(merged)
	}

	return merged[start:end], nil
}

func (s *LoreRepoImpl) vectorSearch(ctx context.Context, vector []float32, limit int, filters []types.Query) ([]*LoreES, error) {
	if len(vector) == 0 {
		return []*LoreES{}, nil
	}
	req := s.client.Search().Index(LoreIndex).
		Knn(types.KnnSearch{
			Field:         "content_vector",
			QueryVector:   vector,
			K:             util.PtrInt(limit),
			NumCandidates: util.PtrInt(limit * 2),
			Filter:        filters,
		}).
		Source_(&types.SourceFilter{Excludes: []string{"content_vector"}}).
		Size(limit)

	return s.executeSearch(ctx, req)
}

func (s *LoreRepoImpl) textSearch(ctx context.Context, text string, limit int, filters []types.Query) ([]*LoreES, error) {
	if text == "" {
		return []*LoreES{}, nil
	}

	req := s.client.Search().Index(LoreIndex).
		Query(&types.Query{
			Bool: &types.BoolQuery{
				Should: []types.Query{
					{
						MultiMatch: &types.MultiMatchQuery{
							Query:  text,
							Fields: []string{"title^3", "title.pinyin^1", "content^1", "tags^3"},
							Boost:  util.PtrFloat32(2.0),
						},
					},
					{
						MultiMatch: &types.MultiMatchQuery{
							Query:     text,
							Fields:    []string{"title", "content"},
							Fuzziness: util.PtrStr("AUTO"),
							Boost:     util.PtrFloat32(0.5),
						},
					},
				},
				Filter: filters,
			},
		}).
		Source_(&types.SourceFilter{Excludes: []string{"content_vector"}}).
		Size(limit)

	return s.executeSearch(ctx, req)
}

func (s *LoreRepoImpl) manualRRF(ranks ...[]*LoreES) []*LoreES {
	const k = 60
	scoreMap := make(map[uint64]float64)
	entryMap := make(map[uint64]*LoreES)

	for _, resultList := range ranks {
		for rank, entry := range resultList {
			scoreMap[entry.ID] += 1.0 / float64(k+rank+1)
			entryMap[entry.ID] = entry
		}
	}

	merged := make([]*LoreES, 0, len(entryMap))
	for id := range entryMap {
		merged = append(merged, entryMap[id])
	}

	sort.Slice(merged, func(i, j int) bool {
		return scoreMap[merged[i].ID] > scoreMap[merged[j].ID]
	})

	return merged
}

func (s *LoreRepoImpl) calculateCandidateLimit(depth int) int {
	limit := depth * 2

	if limit < depth {
		limit = depth
	}

	if limit > MaxSearchDepth {
		limit = MaxSearchDepth
	}

	return limit
}

func (s *LoreRepoImpl) executeSearch(ctx context.Context, req *search.Search) ([]*LoreES, error) {
	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*LoreES, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var entry LoreES
		if hit.Source_ == nil {
			continue
		}
		if err = json.Unmarshal(hit.Source_, &entry); err != nil {
			continue
		}
		if len(hit.Sort) > 0 {
			entry.Sort = make([]interface{}, len(hit.Sort))
			for i, v := range hit.Sort {
				entry.Sort[i] = v
			}
		}
		results = append(results, &entry)
	}
	return results, nil
}
