package api

import (
	"Chorus/internal/api/middleware"
	"Chorus/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		userGroup := apiGroup.Group("/user")
		{
			// 无需登录即可访问的接口
			userGroup.POST("/login", group.UserHandler.Login)
			userGroup.POST("/register", group.UserHandler.Register)
			userGroup.GET("/:user_id/simple", group.UserHandler.GetUserSimpleInfoById)
			userGroup.GET("/batch/simple", group.UserHandler.GetUserSimpleInfoByIds)
			userGroup.GET("/search", group.UserHandler.SearchUser)

			authGroup := userGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/logout", group.UserHandler.Logout)
				authGroup.GET("/info", group.UserHandler.GetUserInfo)
				authGroup.PUT("/info", group.UserHandler.UpdateUserInfo)
				authGroup.PUT("/password", group.UserHandler.ChangePassword)
				authGroup.PUT("/username", group.UserHandler.ChangeUsername)
				authGroup.POST("/avatar", group.UserHandler.UploadAvatar)
				authGroup.POST("/cancel", group.UserHandler.CancelUser)
			}

			adminGroup := userGroup.Group("")
			adminGroup.Use(middleware.AuthMiddleware(), middleware.CheckRoles("ADMIN"))
			{
				adminGroup.POST("/ban", group.UserHandler.BanUser)
				adminGroup.POST("/unban", group.UserHandler.UnbanUser)
				adminGroup.GET("/condition", group.UserHandler.GetUserByCondition)
				adminGroup.GET("/roles", group.UserHandler.GetAllRoles)
				adminGroup.POST("/role", group.UserHandler.AddUserRole)
				adminGroup.DELETE("/role", group.UserHandler.DeleteUserRole)
			}
		}

		characterGroup := apiGroup.Group("/character")
		{
			optGroup := characterGroup.Group("")
			optGroup.Use(middleware.AuthOptionalMiddleware())
			{
				optGroup.GET("/public", group.CharacterHandler.ListPublicCharacters)
				optGroup.GET("/:char_id", group.CharacterHandler.GetCharacter)
			}

			authGroup := characterGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("", group.CharacterHandler.CreateCharacter)
				authGroup.PUT("/:char_id", group.CharacterHandler.UpdateCharacter)
				authGroup.DELETE("/:char_id", group.CharacterHandler.DeleteCharacter)
				authGroup.GET("/mine", group.CharacterHandler.ListMyCharacters)
			}
		}

		storyGroup := apiGroup.Group("/story")
		{
			optGroup := storyGroup.Group("")
			optGroup.Use(middleware.AuthOptionalMiddleware())
			{
				optGroup.GET("/public", group.StoryHandler.ListPublicStories)
				optGroup.GET("/:story_id", group.StoryHandler.GetStory)
			}

			authGroup := storyGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("", group.StoryHandler.CreateStory)
				authGroup.PUT("/:story_id", group.StoryHandler.UpdateStory)
				authGroup.DELETE("/:story_id", group.StoryHandler.DeleteStory)
				authGroup.GET("/mine", group.StoryHandler.ListMyStories)
				authGroup.POST("/:story_id/launch", group.StoryHandler.LaunchStory)
			}
		}

		convGroup := apiGroup.Group("/conversation")
		convGroup.Use(middleware.AuthMiddleware())
		{
			convGroup.POST("", group.MembershipHandler.CreateConversation)
			convGroup.POST("/:conv_id/join", group.MembershipHandler.Join)
			convGroup.POST("/:conv_id/leave", group.MembershipHandler.Leave)
			convGroup.GET("/:conv_id/members", group.MembershipHandler.ListMembers)
			convGroup.GET("/:conv_id/characters", group.MembershipHandler.ListCharacters)
			convGroup.POST("/invite", group.MembershipHandler.Invite)
			convGroup.POST("/kick", group.MembershipHandler.Kick)
			convGroup.PUT("/role", group.MembershipHandler.UpdateRole)
			convGroup.POST("/transfer", group.MembershipHandler.TransferOwnership)
			convGroup.PUT("/writable", group.MembershipHandler.SetWritable)
			convGroup.PUT("/mode", group.MembershipHandler.UpdateMode)
			convGroup.POST("/character", group.MembershipHandler.AddCharacter)
			convGroup.DELETE("/character", group.MembershipHandler.RemoveCharacter)

			convGroup.GET("/:conv_id/online", group.PresenceHandler.ListOnline)
			convGroup.GET("/:conv_id/typing", group.PresenceHandler.ListTyping)
			convGroup.POST("/typing", group.PresenceHandler.Typing)

			convGroup.GET("/:conv_id/memory", group.MemoryHandler.ListMemories)
		}

		chatGroup := apiGroup.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware())
		{
			chatGroup.POST("/send", group.ChatHandler.SendMessage)
			chatGroup.POST("/reprocess", group.ChatHandler.Reprocess)
			chatGroup.DELETE("/message", group.ChatHandler.DeleteMessage)
			chatGroup.POST("/read", group.ChatHandler.MarkAsRead)
			chatGroup.GET("/history", group.ChatHandler.GetChatHistory)
			chatGroup.GET("/sync", group.ChatHandler.GetNewMessages)
			chatGroup.GET("/list", group.ChatHandler.GetConversationList)
			chatGroup.GET("/search", group.ChatHandler.SearchMessages)
		}

		loreGroup := apiGroup.Group("/lore")
		{
			optGroup := loreGroup.Group("")
			optGroup.Use(middleware.AuthOptionalMiddleware())
			{
				optGroup.GET("/search", group.LoreHandler.SearchLore)
				optGroup.GET("/suggest", group.LoreHandler.Suggest)
				optGroup.GET("/kind/:kind", group.LoreHandler.ListByKind)
				optGroup.GET("/:lore_id", group.LoreHandler.GetLore)
			}

			authGroup := loreGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("", group.LoreHandler.CreateLore)
				authGroup.PUT("/:lore_id", group.LoreHandler.UpdateLore)
				authGroup.DELETE("/:lore_id", group.LoreHandler.DeleteLore)
			}
		}

		noticeGroup := apiGroup.Group("/notice")
		noticeGroup.Use(middleware.AuthMiddleware())
		{
			noticeGroup.GET("/list", group.NoticeHandler.GetNoticeList)
			noticeGroup.GET("/unread", group.NoticeHandler.GetUnreadCount)
			noticeGroup.POST("/read", group.NoticeHandler.MarkRead)
			noticeGroup.POST("/read/all", group.NoticeHandler.MarkAllRead)
		}

		mediaGroup := apiGroup.Group("/media")
		mediaGroup.Use(middleware.AuthMiddleware())
		{
			mediaGroup.POST("/upload", group.MediaHandler.Upload)
		}

		// WebSocket 握手自带 token 校验，不走统一鉴权中间件
		imGroup := apiGroup.Group("/im")
		{
			imGroup.GET("", group.WsHandler.Connect)
		}
	}

	return r
}
