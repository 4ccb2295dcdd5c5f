package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"outreach/utils"
)

var envLoaded bool

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address" validate:"required_if=Enabled true"`
	Password string `json:"-"`
	DB       int    `json:"db" validate:"gte=0"`
}

type MongoConfig struct {
	URI      string `json:"-"`
	Database string `json:"database"`
}

// WorkerConfig tunes the polling loops.
type WorkerConfig struct {
	SendPollInterval time.Duration `json:"send_poll_interval" validate:"gt=0"`
	SendBatchSize    int           `json:"send_batch_size" validate:"gte=1"`
	CycleBackoff     time.Duration `json:"cycle_backoff" validate:"gt=0"`
	SaturatedBackoff time.Duration `json:"saturated_backoff" validate:"gt=0"`
	CampaignLockTTL  time.Duration `json:"campaign_lock_ttl" validate:"gt=0"`
	ContactLeaseTTL  time.Duration `json:"contact_lease_ttl" validate:"gt=0"`
	ReplyFetchLimit  int           `json:"reply_fetch_limit" validate:"gte=1"`
	Transport        string        `json:"transport" validate:"oneof=simulated smtp"`
}

type AIConfig struct {
	OpenAIBaseURL   string        `json:"openai_base_url"`
	DeepSeekBaseURL string        `json:"deepseek_base_url" validate:"required"`
	Timeout         time.Duration `json:"timeout" validate:"gt=0"`
	EnrichTimeout   time.Duration `json:"enrich_timeout" validate:"gt=0"`
}

type Config struct {
	Environment    string       `json:"environment" validate:"oneof=development staging production test"`
	ServerPort     string       `json:"server_port" validate:"required"`
	EncryptionKey  string       `json:"-" validate:"required,len=32"`
	JWTSecret      string       `json:"-" validate:"required"`
	LogLevel       string       `json:"log_level"`
	LogFormat      string       `json:"log_format" validate:"oneof=text json"`
	SentryDSN      string       `json:"-"`
	DBHost         string       `json:"db_host" validate:"required"`
	DBPort         string       `json:"db_port" validate:"required"`
	DBUser         string       `json:"db_user" validate:"required"`
	DBPassword     string       `json:"-" validate:"required"`
	DBName         string       `json:"db_name" validate:"required"`
	DBSSLMode      string       `json:"db_ssl_mode"`
	DBMaxIdleConns int          `json:"db_max_idle_conns" validate:"gte=1"`
	DBMaxOpenConns int          `json:"db_max_open_conns" validate:"gte=1"`
	APIRateLimit   int          `json:"api_rate_limit" validate:"gte=1"`
	CORSOrigins    []string     `json:"cors_origins"`
	Redis          RedisConfig  `json:"redis"`
	Mongo          MongoConfig  `json:"mongo"`
	Worker         WorkerConfig `json:"worker"`
	AI             AIConfig     `json:"ai"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "outreach"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		APIRateLimit:   getEnvAsInt("API_RATE_LIMIT", 30),
		CORSOrigins:    getEnvAsList("CORS_ORIGINS", "http://localhost:3000"),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", ""),
			Database: getEnv("MONGODB_DATABASE", "outreach"),
		},
		Worker: WorkerConfig{
			SendPollInterval: getEnvAsDuration("SEND_POLL_INTERVAL", time.Minute),
			SendBatchSize:    getEnvAsInt("SEND_BATCH_SIZE", 1),
			CycleBackoff:     getEnvAsDuration("CYCLE_BACKOFF", 30*time.Second),
			SaturatedBackoff: getEnvAsDuration("SATURATED_BACKOFF", 15*time.Minute),
			CampaignLockTTL:  getEnvAsDuration("CAMPAIGN_LOCK_TTL", 10*time.Minute),
			ContactLeaseTTL:  getEnvAsDuration("CONTACT_LEASE_TTL", 10*time.Minute),
			ReplyFetchLimit:  getEnvAsInt("REPLY_FETCH_LIMIT", 50),
			Transport:        strings.ToLower(getEnv("TRANSPORT", "simulated")),
		},
		AI: AIConfig{
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
			Timeout:         getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
			EnrichTimeout:   getEnvAsDuration("ENRICH_TIMEOUT", 10*time.Second),
		},
	}

	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logConfig(cfg)
	return cfg, nil
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, fallback), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg *Config) {
	logrus.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"server_port":   cfg.ServerPort,
		"database":      fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName),
		"redis":         cfg.Redis.Enabled,
		"mongo_logs":    cfg.Mongo.URI != "",
		"transport":     cfg.Worker.Transport,
		"poll_interval": cfg.Worker.SendPollInterval.String(),
	}).Info("Loaded configuration")
}
