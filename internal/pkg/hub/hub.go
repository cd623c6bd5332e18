package hub

import (
	"context"
	log "log/slog"
	"sync"
)

// Broadcaster 会话事件出口。实现者保证同一会话内事件先发先至
type Broadcaster interface {
	Broadcast(ctx context.Context, ev *Event) error
}

// Conn 一条客户端连接在 Hub 内的登记
type Conn struct {
	ID     string
	UserID uint64

	send      chan []byte
	closeOnce sync.Once
	hub       *Hub
}

// Outbound 写循环消费的下行通道
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub 本地连接注册表。每条连接一个有序缓冲通道，发布方按序入队，
// 写循环单协程出队，保证会话事件对单连接先进先出、至多一次
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	subs    map[uint64]map[string]*Conn // convID -> connID -> conn
	bufSize int
}

func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		conns:   make(map[string]*Conn),
		subs:    make(map[uint64]map[string]*Conn),
		bufSize: bufSize,
	}
}

// Register 登记连接
func (h *Hub) Register(connID string, userID uint64) *Conn {
	conn := &Conn{
		ID:     connID,
		UserID: userID,
		send:   make(chan []byte, h.bufSize),
		hub:    h,
	}

	h.mu.Lock()
	h.conns[connID] = conn
	h.mu.Unlock()
	return conn
}

// Unregister 注销连接并退订全部会话，下行通道随之关闭
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
		for convID, members := range h.subs {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.subs, convID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		conn.close()
	}
}

// Subscribe 订阅会话
func (h *Hub) Subscribe(connID string, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	if h.subs[convID] == nil {
		h.subs[convID] = make(map[string]*Conn)
	}
	h.subs[convID][connID] = conn
}

// Unsubscribe 退订会话
func (h *Hub) Unsubscribe(connID string, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.subs[convID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.subs, convID)
	}
}

// SubscriberCount 会话当前订阅连接数
func (h *Hub) SubscriberCount(convID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[convID])
}

// Dispatch 将事件字节投递给会话的全部本地订阅者。
// 队列打满说明消费端已失速，直接摘除连接而不是阻塞发布方
func (h *Hub) Dispatch(convID uint64, data []byte) {
	h.mu.RLock()
	var stalled []string
	for connID, conn := range h.subs[convID] {
		select {
		case conn.send <- data:
		default:
			stalled = append(stalled, connID)
		}
	}
	h.mu.RUnlock()

	for _, connID := range stalled {
		log.Warn("连接消费过慢，强制摘除", "connID", connID, "convID", convID)
		h.Unregister(connID)
	}
}

// localBroadcaster 单进程直投实现，测试与单机部署使用
type localBroadcaster struct {
	hub *Hub
}

func NewLocalBroadcaster(h *Hub) Broadcaster {
	return &localBroadcaster{hub: h}
}

func (b *localBroadcaster) Broadcast(_ context.Context, ev *Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	b.hub.Dispatch(ev.ConversationID, data)
	return nil
}
