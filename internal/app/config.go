package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string
	SentryDSN   string

	// Speech and completion providers
	DeepgramAPIKey string
	OpenAIAPIKey   string
	OpenAIModel    string

	// Device authentication
	DeviceKey string
	JWTSecret string
	JWTExpiry time.Duration

	// Assist pipeline
	AssistConfigPath string
	RecordingDir     string
	RetentionDays    int

	// APNs push notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool

	// Summary webhook
	DiscordWebhookURL string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisAddr:   getenv("REDIS_ADDR", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// Speech and completion providers
		DeepgramAPIKey: getenv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:   getenv("OPENAI_API_KEY", ""),
		OpenAIModel:    getenv("OPENAI_MODEL", ""),

		// Device authentication
		DeviceKey: os.Getenv("DEVICE_KEY"), // Required - no fallback
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		// Assist pipeline
		AssistConfigPath: getenv("ASSIST_CONFIG_PATH", ""),
		RecordingDir:     getenv("RECORDING_DIR", "recordings"),
		RetentionDays:    getenvIntClamped("RETENTION_DAYS", 90, 0, 3650),

		// APNs push notifications
		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenvBool("APNS_PRODUCTION", false),

		// Summary webhook
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
