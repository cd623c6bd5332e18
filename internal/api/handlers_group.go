package api

import "Chorus/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	UserHandler       *handler.UserHandler
	CharacterHandler  *handler.CharacterHandler
	StoryHandler      *handler.StoryHandler
	MembershipHandler *handler.MembershipHandler
	ChatHandler       *handler.ChatHandler
	PresenceHandler   *handler.PresenceHandler
	MemoryHandler     *handler.MemoryHandler
	LoreHandler       *handler.LoreHandler
	NoticeHandler     *handler.NoticeHandler
	MediaHandler      *handler.MediaHandler
	WsHandler         *handler.WsHandler
}
