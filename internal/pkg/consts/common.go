package consts

const (
	MimePrefixImage = "image"
	MimePrefixAudio = "audio"
)

const (
	DefaultAvatarURL = "default_avatar.png"
)

const (
	DefaultMaxUsers        = 8
	DefaultMemoryThreshold = 50
	DefaultKeepRecent      = 10
)
