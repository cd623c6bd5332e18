package handler

import (
	"Chorus/internal/api/config"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/response"
	"Chorus/internal/pkg/security"
	"Chorus/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound 客户端上行帧
type wsInbound struct {
	Type           string `json:"type"` // TYPING / SUBSCRIBE
	ConversationID uint64 `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type WsHandler struct {
	hub             *hub.Hub
	chatService     service.ChatService
	presenceService service.PresenceService
}

func NewWsHandler(h *hub.Hub, chat service.ChatService, presence service.PresenceService) *WsHandler {
	return &WsHandler{
		hub:             h,
		chatService:     chat,
		presenceService: presence,
	}
}

func (s *WsHandler) Connect(c *gin.Context) {
	// 鉴权
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	// 升级 Websocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	connID := uuid.NewString()
	reg := s.hub.Register(connID, userID)
	defer s.hub.Unregister(connID)

	// 下线只凭连接号，跨会话的在场清理由在场服务反查完成
	defer func() {
		if err := s.presenceService.MarkOffline(context.Background(), connID); err != nil {
			log.Warn("WS 下线清理失败", "connID", connID, "err", err)
		}
	}()

	// 订阅自己所在的全部会话并登记在场
	list, err := s.chatService.GetConversationList(context.Background(), userID)
	if err != nil {
		log.Error("获取会话列表失败", "userID", userID, "err", err)
		return
	}
	for _, conv := range list {
		s.hub.Subscribe(connID, conv.ConversationID)
		if err := s.presenceService.MarkOnline(context.Background(), conv.ConversationID, userID, connID); err != nil {
			log.Warn("在场登记失败", "convID", conv.ConversationID, "err", err)
		}
	}

	log.Info("用户 WS 连接已建立", "userID", userID, "connID", connID, "conversations", len(list))

	heartbeat := time.Duration(config.Cfg.Chat.HeartbeatInterval) * time.Second
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	readWait := heartbeat * 2

	stopChan := make(chan struct{})

	// 读循环：心跳续期与上行帧
	go func() {
		defer close(stopChan)
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			if err := s.presenceService.Touch(context.Background(), connID); err != nil {
				log.Warn("心跳续期失败", "connID", connID, "err", err)
			}
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			s.handleInbound(userID, connID, data)
		}
	}()

	// 写循环：Hub 下行与周期心跳
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-reg.Outbound():
			if !ok {
				log.Info("连接已被 Hub 摘除", "connID", connID)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("WS 推送失败", "userID", userID, "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stopChan:
			log.Info("用户 WS 连接已断开", "userID", userID, "connID", connID)
			return
		}
	}
}

// handleInbound 处理客户端上行帧，未知类型直接丢弃
func (s *WsHandler) handleInbound(userID uint64, connID string, data []byte) {
	var frame wsInbound
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	switch frame.Type {
	case "TYPING":
		if frame.ConversationID == 0 {
			return
		}
		if err := s.presenceService.SetTyping(ctx, frame.ConversationID, userID, frame.IsTyping); err != nil {
			log.Warn("输入状态上报失败", "convID", frame.ConversationID, "err", err)
		}
	case "SUBSCRIBE":
		// 入会后不重连即可收到新会话的事件
		if frame.ConversationID == 0 {
			return
		}
		s.hub.Subscribe(connID, frame.ConversationID)
		if err := s.presenceService.MarkOnline(ctx, frame.ConversationID, userID, connID); err != nil {
			log.Warn("在场登记失败", "convID", frame.ConversationID, "err", err)
		}
	}
}
