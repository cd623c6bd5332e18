package consts

const (
	ConversationEventKey  = "chat:conversation:events:"
	PresenceKey           = "chat:presence:"
	PresenceConnKey       = "chat:presence:conn:"
	TypingKey             = "chat:typing:"
	UserSimpleInfoKey     = "user:simple:info:"
	CharacterInfoKey      = "character:info:"
	GenerateFailNoticeKey = "chat:generate:fail:"
	UsageDirtyKey         = "chat:usage:dirty"
	UsageCounterKey       = "chat:usage:counter:"
	TokenBlacklistKey     = "auth:token:blacklist:"
	MediaTempKey          = "media:temp:pending"
)

const (
	StoryLaunchLock = "story:launch:lock:"
	UserDetailLock  = "user:detail:lock:"
)
