package wire

import (
	"Chorus/internal/api"
	"Chorus/internal/api/config"
	"Chorus/internal/api/handler"
	"Chorus/internal/job"
	"Chorus/internal/pkg/billing"
	"Chorus/internal/pkg/cron"
	"Chorus/internal/pkg/es"
	"Chorus/internal/pkg/hub"
	"Chorus/internal/pkg/kafka"
	"Chorus/internal/pkg/llm"
	"Chorus/internal/pkg/mongo"
	"Chorus/internal/pkg/processor"
	"Chorus/internal/pkg/queue"
	"Chorus/internal/pkg/redis"
	"Chorus/internal/repository"
	"Chorus/internal/service"
	"time"

	"github.com/gin-gonic/gin"
	mongodb "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router       *gin.Engine
	DB           *gorm.DB
	KafkaManager *kafka.ConsumerManager
	CronMgr      *cron.Manager
	Hub          *hub.Hub
	ChatService  service.ChatService
	Dispatcher   *queue.Dispatcher
	ToolHandler  *llm.ToolHandler
}

func BuildApplication(db *gorm.DB, mongoConn *mongodb.Database, cfg *config.Config) (*ApplicationContainer, error) {
	// MySQL 仓储
	userRepo := repository.NewUserRepo(db)
	userRolesRepo := repository.NewUserRolesRepo(db)
	roleRepo := repository.NewRoleRepo(db)
	convRepo := repository.NewConversationRepo(db)
	characterRepo := repository.NewCharacterRepo(db)
	storyRepo := repository.NewStoryRepo(db)
	usageRepo := repository.NewUsageRepo(db)

	// Mongo 仓储
	msgRepo := mongo.NewMessageRepo(mongoConn)
	memRepo := mongo.NewMemoryRepo(mongoConn)
	noticeRepo := mongo.NewNoticeRepo(mongoConn)

	// ES 仓储
	msgESRepo := es.NewMessageRepo()
	loreRepo := es.NewLoreRepo(es.Client)

	// 连接枢纽与跨实例广播
	h := hub.NewHub(256)
	broadcaster := hub.NewRedisBroadcaster()
	presenceStore := redis.NewPresenceStore()

	// LLM 侧组件
	toolHandler := llm.NewToolHandler(loreRepo)
	replier := llm.NewReplier(toolHandler)
	summarizer := llm.NewSummarizer()
	auditor := processor.NewMessageAuditor()

	// 账本与消息队列
	ledger := billing.NewLedger(cfg.Billing)
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	dispatcher := queue.NewDispatcher(cfg.Chat.JobQueueSize)

	// 业务服务
	userService := service.NewUserService(userRepo, roleRepo)
	userRolesService := service.NewUserRolesService(userRolesRepo)
	characterService := service.NewCharacterService(characterRepo)
	memoryService := service.NewMemoryService(convRepo, userRepo, msgRepo, memRepo, summarizer, broadcaster)
	presenceService := service.NewPresenceService(
		presenceStore, convRepo, userRepo, broadcaster,
		time.Duration(cfg.Chat.PresenceWindow)*time.Second,
		time.Duration(cfg.Chat.TypingTTL)*time.Second,
	)
	membershipService := service.NewMembershipService(convRepo, userRepo, characterRepo, noticeRepo, broadcaster)
	chatService := service.NewChatService(
		convRepo, userRepo, characterRepo,
		msgRepo, msgESRepo, memRepo, noticeRepo,
		memoryService, presenceStore, replier, ledger, producer, broadcaster, dispatcher,
	)
	storyService := service.NewStoryService(storyRepo, characterRepo, convRepo, msgRepo, chatService)
	loreService := service.NewLoreService(loreRepo)
	noticeService := service.NewNoticeService(noticeRepo, userRepo)

	handlers := &api.HandlersGroup{
		UserHandler:       handler.NewUserHandler(userService, userRolesService),
		CharacterHandler:  handler.NewCharacterHandler(characterService),
		StoryHandler:      handler.NewStoryHandler(storyService),
		MembershipHandler: handler.NewMembershipHandler(membershipService),
		ChatHandler:       handler.NewChatHandler(chatService),
		PresenceHandler:   handler.NewPresenceHandler(presenceService),
		MemoryHandler:     handler.NewMemoryHandler(memoryService),
		LoreHandler:       handler.NewLoreHandler(loreService),
		NoticeHandler:     handler.NewNoticeHandler(noticeService),
		MediaHandler:      handler.NewMediaHandler(),
		WsHandler:         handler.NewWsHandler(h, chatService, presenceService),
	}

	router := api.SetupRouter(handlers)

	kafkaMgr, err := kafka.NewConsumerManager(cfg, msgRepo, msgESRepo, ledger, broadcaster, auditor)
	if err != nil {
		return nil, err
	}

	// 定时任务
	presenceSweepJob := job.NewPresenceSweepJob(presenceService)
	memoryRetryJob := job.NewMemoryRetryJob(memoryService)
	usageRollupJob := job.NewUsageRollupJob(usageRepo)
	mediaCleanupJob := job.NewMediaCleanupJob()
	cronMgr := cron.NewCronManager(presenceSweepJob, memoryRetryJob, usageRollupJob, mediaCleanupJob)

	return &ApplicationContainer{
		Router:       router,
		DB:           db,
		KafkaManager: kafkaMgr,
		CronMgr:      cronMgr,
		Hub:          h,
		ChatService:  chatService,
		Dispatcher:   dispatcher,
		ToolHandler:  toolHandler,
	}, nil
}
