package config

// Config 配置主体
type Config struct {
	Server                 ServerConfig           `mapstructure:"server"`
	DB                     DBConfig               `mapstructure:"database"`
	Redis                  RedisConfig            `mapstructure:"redis"`
	Mongo                  MongoConfig            `mapstructure:"mongo"`
	LLM                    LLMConfig              `mapstructure:"llm"`
	MinIO                  MinIOConfig            `mapstructure:"minio"`
	Elastic                ElasticConfig          `mapstructure:"elastic"`
	LibPath                LibPathConfig          `mapstructure:"lib_path"`
	Logstash               LogstashConfig         `mapstructure:"logstash"`
	Billing                BillingConfig          `mapstructure:"billing"`
	Chat                   ChatConfig             `mapstructure:"chat"`
	Kafka                  KafkaConfig            `mapstructure:"kafka"`
	KafkaModerateConsumer  KafkaModerateConsumer  `mapstructure:"kafka_moderate_consumer"`
	KafkaMsgIndexConsumer  KafkaMsgIndexConsumer  `mapstructure:"kafka_msg_index_consumer"`
	KafkaBillingReconciler KafkaBillingReconciler `mapstructure:"kafka_billing_reconciler"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	SearchGateway string `mapstructure:"search_gateway"`
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MongoConfig Mongo配置
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type LLMConfig struct {
	URL          string           `mapstructure:"url"`
	TextModel    string           `mapstructure:"text_model"`
	SummaryModel string           `mapstructure:"summary_model"`
	VisionModel  string           `mapstructure:"vision_model"`
	EmbedModel   string           `mapstructure:"embed_model"`
	ApiKey       string           `mapstructure:"api_key"`
	ThinkingMode string           `mapstructure:"thinking_mode"` // GLM 系模型的思考开关
	Dimensions   int              `mapstructure:"dimensions"`
	PromptsPath  PromptPathConfig `mapstructure:"prompts_path"`
}

type PromptPathConfig struct {
	Persona     string `mapstructure:"persona"`
	Summary     string `mapstructure:"summary"`
	ContentSafe string `mapstructure:"content_safe"`
	ImageSafe   string `mapstructure:"image_safe"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	InternalEndpoint string `mapstructure:"internal_endpoint"`
	ExternalEndpoint string `mapstructure:"external_endpoint"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	MainBucket       string `mapstructure:"main_bucket"`
	TempBucket       string `mapstructure:"temp_bucket"`
	InternalUseSSL   bool   `mapstructure:"internal_use_ssl"`
	UsePublicLink    bool   `mapstructure:"use_public_link"`
}

// ElasticConfig Elastic配置
type ElasticConfig struct {
	Address  string         `mapstructure:"address"`
	Username string         `mapstructure:"username"`
	Password string         `mapstructure:"password"`
	Indices  ElasticIndices `mapstructure:"indices"`
}

// ElasticIndices Elastic索引
type ElasticIndices struct {
	MessageIndex string `mapstructure:"message_index"`
	LoreIndex    string `mapstructure:"lore_index"`
}

// LibPathConfig 库路径
type LibPathConfig struct {
	FFmpeg       string `mapstructure:"ffmpeg"`
	FFprobe      string `mapstructure:"ffprobe"`
	Whisper      string `mapstructure:"whisper"`
	WhisperModel string `mapstructure:"whisper_model"`
}

// LogstashConfig 日志上报配置
type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}

// BillingConfig 积分账本服务配置
type BillingConfig struct {
	URL     string `mapstructure:"url"`
	ApiKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// ChatConfig 会话编排配置
type ChatConfig struct {
	MsgSecret         string `mapstructure:"msg_secret"`
	DefaultMaxUsers   int    `mapstructure:"default_max_users"`
	MemoryThreshold   int64  `mapstructure:"memory_threshold"`
	MemoryKeepRecent  int64  `mapstructure:"memory_keep_recent"`
	JobQueueSize      int    `mapstructure:"job_queue_size"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	RetryBackoff      int    `mapstructure:"retry_backoff"`
	GenerateTimeout   int    `mapstructure:"generate_timeout"`
	PresenceWindow    int    `mapstructure:"presence_window"`
	TypingTTL         int    `mapstructure:"typing_ttl"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval"`
}

type KafkaConfig struct {
	Brokers      []string       `mapstructure:"brokers"`
	MessageTopic string         `mapstructure:"message_topic"`
	BillingTopic string         `mapstructure:"billing_topic"`
	Sasl         SaslConfig     `mapstructure:"sasl"`
	Consumer     ConsumerConfig `mapstructure:"consumer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ConsumerConfig struct {
	SessionTimeout    int `mapstructure:"session_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	RebalanceTimeout  int `mapstructure:"rebalance_timeout"`
	MaxProcessingTime int `mapstructure:"max_processing_time"`
}

type KafkaModerateConsumer struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type KafkaMsgIndexConsumer struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type KafkaBillingReconciler struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}
