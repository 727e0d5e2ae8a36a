package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	RateLimit RateLimitConfig
	Suno      SunoConfig
	R2        R2Config
	Telegram  TelegramConfig
	Sweeper   SweeperConfig
	GC        GCConfig
	Credits   CreditsConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ApiDomain      string
	InternalSecret string
}

type PostgresConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	GeneratePerHour int
	RetryPerHour    int
}

type SunoConfig struct {
	APIKey         string
	BaseURL        string
	CallbackURL    string
	TimeoutSeconds int
	ExpectedClips  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	FailAfter  time.Duration
	BatchLimit int
}

type GCConfig struct {
	Interval       time.Duration
	Retention      time.Duration
	PurgeFailed    bool
	PurgeOrphans   bool
	ExpireCounters bool
}

type CreditsConfig struct {
	Enabled        bool
	GenerationCost int64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("SUNO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("TELEGRAM_BOT_TOKEN")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("INTERNAL_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("server.internal_secret", "INTERNAL_SECRET")
	_ = viper.BindEnv("postgres.url", "DATABASE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.retry_per_hour", "RATELIMIT_RETRY_PER_HOUR")
	_ = viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = viper.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = viper.BindEnv("suno.timeout_seconds", "SUNO_TIMEOUT_SECONDS")
	_ = viper.BindEnv("suno.expected_clips", "SUNO_EXPECTED_CLIPS")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
	_ = viper.BindEnv("sweeper.interval", "SWEEPER_INTERVAL")
	_ = viper.BindEnv("sweeper.stale_after", "SWEEPER_STALE_AFTER")
	_ = viper.BindEnv("sweeper.fail_after", "SWEEPER_FAIL_AFTER")
	_ = viper.BindEnv("sweeper.batch_limit", "SWEEPER_BATCH_LIMIT")
	_ = viper.BindEnv("gc.interval", "GC_INTERVAL")
	_ = viper.BindEnv("gc.retention", "GC_RETENTION")
	_ = viper.BindEnv("gc.purge_failed", "GC_PURGE_FAILED")
	_ = viper.BindEnv("gc.purge_orphans", "GC_PURGE_ORPHANS")
	_ = viper.BindEnv("gc.expire_counters", "GC_EXPIRE_COUNTERS")
	_ = viper.BindEnv("credits.enabled", "CREDITS_ENABLED")
	_ = viper.BindEnv("credits.generation_cost", "CREDITS_GENERATION_COST")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("postgres.url", "postgres://localhost:5432/musicverse?sslmode=disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 20)
	viper.SetDefault("ratelimit.retry_per_hour", 10)
	viper.SetDefault("suno.base_url", "https://api.sunoapi.org")
	viper.SetDefault("suno.timeout_seconds", 120)
	viper.SetDefault("suno.expected_clips", 2)
	viper.SetDefault("sweeper.interval", "5m")
	viper.SetDefault("sweeper.stale_after", "10m")
	viper.SetDefault("sweeper.fail_after", "1h")
	viper.SetDefault("sweeper.batch_limit", 50)
	viper.SetDefault("gc.interval", "1h")
	viper.SetDefault("gc.retention", "168h")
	viper.SetDefault("gc.purge_failed", true)
	viper.SetDefault("gc.purge_orphans", true)
	viper.SetDefault("gc.expire_counters", true)
	viper.SetDefault("credits.enabled", false)
	viper.SetDefault("credits.generation_cost", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			Env:            viper.GetString("server.env"),
			LogLevel:       viper.GetString("server.log_level"),
			ApiDomain:      viper.GetString("server.api_domain"),
			InternalSecret: viper.GetString("server.internal_secret"),
		},
		Postgres: PostgresConfig{
			URL: viper.GetString("postgres.url"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			RetryPerHour:    viper.GetInt("ratelimit.retry_per_hour"),
		},
		Suno: SunoConfig{
			APIKey:         viper.GetString("suno.api_key"),
			BaseURL:        viper.GetString("suno.base_url"),
			CallbackURL:    viper.GetString("suno.callback_url"),
			TimeoutSeconds: viper.GetInt("suno.timeout_seconds"),
			ExpectedClips:  viper.GetInt("suno.expected_clips"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Telegram: TelegramConfig{
			BotToken: viper.GetString("telegram.bot_token"),
			ChatID:   viper.GetString("telegram.chat_id"),
		},
		Sweeper: SweeperConfig{
			Interval:   viper.GetDuration("sweeper.interval"),
			StaleAfter: viper.GetDuration("sweeper.stale_after"),
			FailAfter:  viper.GetDuration("sweeper.fail_after"),
			BatchLimit: viper.GetInt("sweeper.batch_limit"),
		},
		GC: GCConfig{
			Interval:       viper.GetDuration("gc.interval"),
			Retention:      viper.GetDuration("gc.retention"),
			PurgeFailed:    viper.GetBool("gc.purge_failed"),
			PurgeOrphans:   viper.GetBool("gc.purge_orphans"),
			ExpireCounters: viper.GetBool("gc.expire_counters"),
		},
		Credits: CreditsConfig{
			Enabled:        viper.GetBool("credits.enabled"),
			GenerationCost: viper.GetInt64("credits.generation_cost"),
		},
	}

	return cfg, nil
}
