package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetHistory(ctx context.Context, convID uint64, lastSeq uint64, pageSize int) ([]*Message, error)
	GetMessageBySeq(ctx context.Context, convID uint64, seq uint64) (*Message, error)
	GetRange(ctx context.Context, convID uint64, fromSeq, toSeq uint64) ([]*Message, error)
	GetRecentSince(ctx context.Context, convID uint64, sinceSeq uint64, limit int) ([]*Message, error)
	ReplaceBody(ctx context.Context, convID uint64, seq uint64, cipher string, triggerUserID uint64) error
	MarkDeleted(ctx context.Context, convID uint64, seq uint64) error
	MarkFlagged(ctx context.Context, convID uint64, seq uint64, reason string) error
	SetTranscript(ctx context.Context, convID uint64, seq uint64, transcript string) error
	DeleteByConversation(ctx context.Context, convID uint64) error
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 将消息存入 MongoDB
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// GetHistory 历史消息查询逻辑
// lastSeq 为当前页面最旧一条消息的序号。如果是第一页，传 0。
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID uint64, lastSeq uint64, pageSize int) ([]*Message, error) {
	// 基础过滤：指定会话 ID
	filter := bson.M{"conversation_id": convID}

	// 游标过滤：如果是拉取历史记录，找比当前最旧序号 (lastSeq) 更小的消息
	if lastSeq > 0 {
		filter["seq"] = bson.M{"$lt": lastSeq}
	}

	// 排序与限制，按照 seq 降序排列 (最新的在前)，限制返回条数
	findOptions := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	// 解析结果
	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// GetMessageBySeq 精确查询，不存在时返回 nil
func (s *messageRepoImpl) GetMessageBySeq(ctx context.Context, convID uint64, seq uint64) (*Message, error) {
	var msg Message
	filter := bson.M{
		"conversation_id": convID,
		"seq":             seq,
	}
	err := s.col.FindOne(ctx, filter).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetRange 按序号闭区间升序取消息，记忆压缩的取数入口
func (s *messageRepoImpl) GetRange(ctx context.Context, convID uint64, fromSeq, toSeq uint64) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": convID,
		"seq":             bson.M{"$gte": fromSeq, "$lte": toSeq},
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetRecentSince 取 sinceSeq 之后的消息（升序），上下文装配使用
func (s *messageRepoImpl) GetRecentSince(ctx context.Context, convID uint64, sinceSeq uint64, limit int) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": convID,
		"seq":             bson.M{"$gt": sinceSeq},
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		findOptions = findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ReplaceBody 原位替换某条消息的密文，重新生成时复用原序号
func (s *messageRepoImpl) ReplaceBody(ctx context.Context, convID uint64, seq uint64, cipher string, triggerUserID uint64) error {
	filter := bson.M{"conversation_id": convID, "seq": seq}
	update := bson.M{"$set": bson.M{
		"cipher":          cipher,
		"trigger_user_id": triggerUserID,
		"is_deleted":      false,
	}}
	_, err := s.col.UpdateOne(ctx, filter, update)
	return err
}

// MarkDeleted 软删除，正文保留密文但对外不再可见
func (s *messageRepoImpl) MarkDeleted(ctx context.Context, convID uint64, seq uint64) error {
	filter := bson.M{"conversation_id": convID, "seq": seq}
	_, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_deleted": true}})
	return err
}

// MarkFlagged 审核标记
func (s *messageRepoImpl) MarkFlagged(ctx context.Context, convID uint64, seq uint64, reason string) error {
	filter := bson.M{"conversation_id": convID, "seq": seq}
	_, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_flagged": true, "flag_reason": reason}})
	return err
}

// SetTranscript 回填语音转写结果
func (s *messageRepoImpl) SetTranscript(ctx context.Context, convID uint64, seq uint64, transcript string) error {
	filter := bson.M{"conversation_id": convID, "seq": seq}
	_, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"transcript": transcript}})
	return err
}

// DeleteByConversation 会话销毁时清空消息
func (s *messageRepoImpl) DeleteByConversation(ctx context.Context, convID uint64) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"conversation_id": convID})
	return err
}
