package es

import (
	"context"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types/enums/conflicts"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types/enums/sortorder"
	"github.com/goccy/go-json"
)

type MessageRepo interface {
	IndexMessage(ctx context.Context, msg *MessageES) error
	SearchMessages(ctx context.Context, convID uint64, queryText string, from, size int) ([]*MessageES, error)
	MarkMessageDeleted(ctx context.Context, convID, seq uint64) error
	DeleteByConversation(ctx context.Context, convID uint64) error
}

type MessageRepoImpl struct {
}

func NewMessageRepo() MessageRepo {
	return &MessageRepoImpl{}
}

// 文档主键由会话与序号拼成，重复消费天然幂等
func messageDocID(convID, seq uint64) string {
	return fmt.Sprintf("%d-%d", convID, seq)
}

func (s *MessageRepoImpl) IndexMessage(ctx context.Context, msg *MessageES) error {
	_, err := Client.Index(MessageIndex).
		Id(messageDocID(msg.ConversationID, msg.Seq)).
		Document(msg).
		Do(ctx)
	return err
}

// SearchMessages 会话内全文检索，按序号倒序
func (s *MessageRepoImpl) SearchMessages(ctx context.Context, convID uint64, queryText string, from, size int) ([]*MessageES, error) {
	resp, err := Client.Search().
		Index(MessageIndex).
		Query(&types.Query{
			Bool: &types.BoolQuery{
				Must: []types.Query{
					{
						MultiMatch: &types.MultiMatchQuery{
							Query:  queryText,
							Fields: []string{"content^2", "sender_name"},
						},
					},
				},
				Filter: []types.Query{
					{Term: map[string]types.TermQuery{"conversation_id": {Value: convID}}},
					{Term: map[string]types.TermQuery{"is_deleted": {Value: false}}},
				},
			},
		}).
		Sort(types.SortOptions{SortOptions: map[string]types.FieldSort{
			"seq": {Order: &sortorder.Desc},
		}}).
		From(from).
		Size(size).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*MessageES, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		if hit.Source_ == nil {
			continue
		}
		var msg MessageES
		if err = json.Unmarshal(hit.Source_, &msg); err != nil {
			continue
		}
		results = append(results, &msg)
	}
	return results, nil
}

// MarkMessageDeleted 消息删除后同步摘出检索结果
func (s *MessageRepoImpl) MarkMessageDeleted(ctx context.Context, convID, seq uint64) error {
	scriptSource := "ctx._source.is_deleted = true;"

	_, err := Client.Update(MessageIndex, messageDocID(convID, seq)).
		Script(&types.Script{Source: &scriptSource}).
		Do(ctx)
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

// DeleteByConversation 会话销毁时清空索引
func (s *MessageRepoImpl) DeleteByConversation(ctx context.Context, convID uint64) error {
	_, err := Client.DeleteByQuery(MessageIndex).
		Query(&types.Query{
			Term: map[string]types.TermQuery{"conversation_id": {Value: convID}},
		}).
		Conflicts(conflicts.Proceed).
		Do(ctx)
	return err
}
