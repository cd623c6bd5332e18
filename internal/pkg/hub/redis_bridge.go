package hub

import (
	"Chorus/internal/pkg/consts"
	"Chorus/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"strings"
)

// redisBroadcaster 经 Redis 频道跨节点广播，频道按会话隔离保序
type redisBroadcaster struct{}

func NewRedisBroadcaster() Broadcaster {
	return &redisBroadcaster{}
}

func (b *redisBroadcaster) Broadcast(ctx context.Context, ev *Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	channel := consts.ConversationEventKey + strconv.FormatUint(ev.ConversationID, 10)
	return redis.Publish(ctx, channel, data)
}

// StartRelay 订阅事件频道并转投本地 Hub，每节点一条中继协程。
// 单订阅串行消费，Redis 的频道内顺序因此原样传入 Hub
func StartRelay(ctx context.Context, h *Hub) {
	pubsub := redis.PSubscribe(ctx, consts.ConversationEventKey+"*")

	go func() {
		defer func() {
			_ = pubsub.Close()
		}()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					log.Warn("事件中继通道已关闭")
					return
				}
				idStr := strings.TrimPrefix(msg.Channel, consts.ConversationEventKey)
				convID, err := strconv.ParseUint(idStr, 10, 64)
				if err != nil {
					log.Warn("事件频道名非法", "channel", msg.Channel)
					continue
				}
				h.Dispatch(convID, []byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()
}
