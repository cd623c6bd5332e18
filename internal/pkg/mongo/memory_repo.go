package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MemoryRepo interface {
	SaveMemory(ctx context.Context, mem *ConversationMemory) error
	GetLatest(ctx context.Context, convID uint64) (*ConversationMemory, error)
	GetRecent(ctx context.Context, convID uint64, limit int) ([]*ConversationMemory, error)
	DeleteByConversation(ctx context.Context, convID uint64) error
}

type memoryRepoImpl struct {
	col *mongo.Collection
}

func NewMemoryRepo(db *mongo.Database) MemoryRepo {
	return &memoryRepoImpl{
		col: db.Collection("conversation_memories"),
	}
}

// SaveMemory 直接存储
func (s *memoryRepoImpl) SaveMemory(ctx context.Context, mem *ConversationMemory) error {
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	_, err := s.col.InsertOne(ctx, mem)
	return err
}

// GetLatest 取覆盖位置最靠后的一条记忆，没有时返回 nil
func (s *memoryRepoImpl) GetLatest(ctx context.Context, convID uint64) (*ConversationMemory, error) {
	var mem ConversationMemory
	err := s.col.FindOne(ctx,
		bson.M{"conversation_id": convID},
		options.FindOne().SetSort(bson.D{{Key: "end_seq", Value: -1}}),
	).Decode(&mem)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &mem, nil
}

// GetRecent 取最近 limit 条记忆，按区间从旧到新排列
func (s *memoryRepoImpl) GetRecent(ctx context.Context, convID uint64, limit int) ([]*ConversationMemory, error) {
	if limit <= 0 {
		limit = 3
	}

	filter := bson.M{"conversation_id": convID}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "end_seq", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	memories := make([]*ConversationMemory, 0)
	if err := cursor.All(ctx, &memories); err != nil {
		return nil, err
	}

	// 反转列表，保证记忆从旧到新排列
	for i, j := 0, len(memories)-1; i < j; i, j = i+1, j-1 {
		memories[i], memories[j] = memories[j], memories[i]
	}

	return memories, nil
}

// DeleteByConversation 记忆随会话一并销毁
func (s *memoryRepoImpl) DeleteByConversation(ctx context.Context, convID uint64) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"conversation_id": convID})
	return err
}
