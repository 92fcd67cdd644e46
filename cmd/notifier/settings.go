package main

type Settings struct {
	ServerURL string `env:"SERVER_URL,default=ws://localhost:8000/broadcaster/websocket"`
	Token     string `env:"TOKEN,required=true"`
	Role      string `env:"ROLE"`
	JWTSecret string `env:"JWT_SECRET"`

	GeneralTopic  string `env:"GENERAL_TOPIC,default=notifications"`
	ElevatedTopic string `env:"ELEVATED_TOPIC,default=admin-owner:notifications"`

	ReconnectBaseDelayMs int `env:"RECONNECT_BASE_DELAY_MS,default=1000"`
	ReconnectMaxDelayMs  int `env:"RECONNECT_MAX_DELAY_MS,default=30000"`
	ReconnectMaxAttempts int `env:"RECONNECT_MAX_ATTEMPTS,default=10"`
	HeartbeatIntervalMs  int `env:"HEARTBEAT_INTERVAL_MS,default=15000"`

	HistoryLimit  int    `env:"HISTORY_LIMIT,default=50"`
	HistoryKey    string `env:"HISTORY_KEY,default=notifications"`
	PermissionKey string `env:"PERMISSION_KEY,default=notification-permission"`

	StorageDriver   string `env:"STORAGE_DRIVER,default=file"`
	StoragePath     string `env:"STORAGE_PATH,default=.notifier"`
	MongoDBURI      string `env:"MONGODB_URI"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=notifier"`
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisPrefix     string `env:"REDIS_PREFIX,default=notifier:"`

	Notifier            string `env:"NOTIFIER,default=log"`
	WebPushSubscription string `env:"WEBPUSH_SUBSCRIPTION"`
	VAPIDPublicKey      string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey     string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber     string `env:"VAPID_SUBSCRIBER"`
	Sound               bool   `env:"SOUND,default=true"`

	Port        int    `env:"PORT,default=8090"`
	BasePath    string `env:"BASE_PATH,default=/notifier"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}
