package redis

import (
	"Chorus/internal/pkg/consts"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore 在场状态存储。成员格式 "userID:connID"，分数为最近心跳时间戳。
// 连接登记表以 connID 为键，记录归属用户与已上线的会话，下线时只凭 connID 即可反查
type PresenceStore interface {
	Upsert(ctx context.Context, convID, userID uint64, connID string, at time.Time) error
	Remove(ctx context.Context, convID, userID uint64, connID string) error
	Connections(ctx context.Context, convID uint64, since time.Time) (map[uint64][]string, error)
	Trim(ctx context.Context, convID uint64, before time.Time) (int64, error)
	ActiveConvIDs(ctx context.Context) ([]uint64, error)
	BindConn(ctx context.Context, connID string, userID uint64, ttl time.Duration) error
	AddConnConv(ctx context.Context, connID string, convID uint64, ttl time.Duration) error
	RemoveConnConv(ctx context.Context, connID string, convID uint64) error
	ConnInfo(ctx context.Context, connID string) (uint64, []uint64, error)
	DropConn(ctx context.Context, connID string) error
	SetTyping(ctx context.Context, convID, userID uint64, at time.Time) error
	ClearTyping(ctx context.Context, convID, userID uint64) error
	ListTyping(ctx context.Context, convID uint64, since time.Time) ([]uint64, error)
}

type presenceStoreImpl struct{}

func NewPresenceStore() PresenceStore {
	return &presenceStoreImpl{}
}

func presenceMember(userID uint64, connID string) string {
	return fmt.Sprintf("%d:%s", userID, connID)
}

func parsePresenceMember(member string) (uint64, string, bool) {
	uidStr, connID, ok := strings.Cut(member, ":")
	if !ok {
		return 0, "", false
	}
	uid, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return uid, connID, true
}

// Upsert 写入或刷新一条连接的心跳
func (s *presenceStoreImpl) Upsert(ctx context.Context, convID, userID uint64, connID string, at time.Time) error {
	key := consts.PresenceKey + strconv.FormatUint(convID, 10)
	pipe := Rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: presenceMember(userID, connID)})
	pipe.SAdd(ctx, consts.PresenceConnKey+"index", strconv.FormatUint(convID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// Remove 摘掉一条连接
func (s *presenceStoreImpl) Remove(ctx context.Context, convID, userID uint64, connID string) error {
	key := consts.PresenceKey + strconv.FormatUint(convID, 10)
	return Rdb.ZRem(ctx, key, presenceMember(userID, connID)).Err()
}

// Connections 返回 since 之后仍有心跳的连接，按用户归并
func (s *presenceStoreImpl) Connections(ctx context.Context, convID uint64, since time.Time) (map[uint64][]string, error) {
	key := consts.PresenceKey + strconv.FormatUint(convID, 10)
	members, err := Rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[uint64][]string)
	for _, m := range members {
		uid, connID, ok := parsePresenceMember(m)
		if !ok {
			continue
		}
		result[uid] = append(result[uid], connID)
	}
	return result, nil
}

// Trim 清除 before 之前失联的连接，返回回收数量
func (s *presenceStoreImpl) Trim(ctx context.Context, convID uint64, before time.Time) (int64, error) {
	key := consts.PresenceKey + strconv.FormatUint(convID, 10)
	removed, err := Rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(before.Unix(), 10)).Result()
	if err != nil {
		return 0, err
	}

	// 会话清空后从活跃索引摘除
	count, err := Rdb.ZCard(ctx, key).Result()
	if err == nil && count == 0 {
		Rdb.SRem(ctx, consts.PresenceConnKey+"index", strconv.FormatUint(convID, 10))
	}
	return removed, nil
}

// ActiveConvIDs 返回当前有在场记录的会话，清扫任务的扫描范围
func (s *presenceStoreImpl) ActiveConvIDs(ctx context.Context) ([]uint64, error) {
	members, err := Rdb.SMembers(ctx, consts.PresenceConnKey+"index").Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BindConn 登记连接归属的用户
func (s *presenceStoreImpl) BindConn(ctx context.Context, connID string, userID uint64, ttl time.Duration) error {
	key := consts.PresenceConnKey + connID
	pipe := Rdb.TxPipeline()
	pipe.HSet(ctx, key, "user_id", strconv.FormatUint(userID, 10))
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// AddConnConv 记录连接在某会话上线，同时续期登记表
func (s *presenceStoreImpl) AddConnConv(ctx context.Context, connID string, convID uint64, ttl time.Duration) error {
	key := consts.PresenceConnKey + connID
	pipe := Rdb.TxPipeline()
	pipe.HSet(ctx, key, "conv:"+strconv.FormatUint(convID, 10), "1")
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveConnConv 连接在某会话退订后摘除记录
func (s *presenceStoreImpl) RemoveConnConv(ctx context.Context, connID string, convID uint64) error {
	key := consts.PresenceConnKey + connID
	return Rdb.HDel(ctx, key, "conv:"+strconv.FormatUint(convID, 10)).Err()
}

// ConnInfo 反查连接归属的用户与会话列表，登记已过期时用户返回 0
func (s *presenceStoreImpl) ConnInfo(ctx context.Context, connID string) (uint64, []uint64, error) {
	key := consts.PresenceConnKey + connID
	fields, err := Rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, nil, err
	}
	if len(fields) == 0 {
		return 0, nil, nil
	}

	var userID uint64
	convIDs := make([]uint64, 0, len(fields))
	for field, value := range fields {
		if field == "user_id" {
			userID, _ = strconv.ParseUint(value, 10, 64)
			continue
		}
		if idStr, ok := strings.CutPrefix(field, "conv:"); ok {
			if id, err := strconv.ParseUint(idStr, 10, 64); err == nil {
				convIDs = append(convIDs, id)
			}
		}
	}
	return userID, convIDs, nil
}

// DropConn 删除连接登记
func (s *presenceStoreImpl) DropConn(ctx context.Context, connID string) error {
	return Rdb.Del(ctx, consts.PresenceConnKey+connID).Err()
}

// SetTyping 打点输入状态，分数过期即失效，无需显式停止信号
func (s *presenceStoreImpl) SetTyping(ctx context.Context, convID, userID uint64, at time.Time) error {
	key := consts.TypingKey + strconv.FormatUint(convID, 10)
	return Rdb.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: strconv.FormatUint(userID, 10)}).Err()
}

// ClearTyping 发送消息后立即清除输入状态
func (s *presenceStoreImpl) ClearTyping(ctx context.Context, convID, userID uint64) error {
	key := consts.TypingKey + strconv.FormatUint(convID, 10)
	return Rdb.ZRem(ctx, key, strconv.FormatUint(userID, 10)).Err()
}

// ListTyping 返回 since 之后仍在输入的用户，顺带清掉过期成员
func (s *presenceStoreImpl) ListTyping(ctx context.Context, convID uint64, since time.Time) ([]uint64, error) {
	key := consts.TypingKey + strconv.FormatUint(convID, 10)

	Rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(since.Unix()-1, 10))

	members, err := Rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
