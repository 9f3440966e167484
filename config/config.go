package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Mail     MailConfig
	Auth     AuthConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	FrontendURL string
}

// StoreConfig selects the backends. An empty DatabaseURL means no remote store.
type StoreConfig struct {
	DatabaseURL  string
	LocalDBPath  string
	SeedFile     string
	EnsureTables bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers            []string
	TopicNotifications string
	ConsumerGroup      string
}

type MailConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type AuthConfig struct {
	JWTSecret string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	LogFile        string
}

type BusinessConfig struct {
	NotifyWorkers int
	LockTTL       time.Duration
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	smtpPort, _ := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	notifyWorkers, _ := strconv.Atoi(getEnv("NOTIFY_WORKERS", "8"))
	lockTTL, _ := strconv.Atoi(getEnv("LOCK_TTL_SECONDS", "10"))

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Env:         getEnv("ENV", "development"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Store: StoreConfig{
			DatabaseURL:  getEnv("DATABASE_URL", ""),
			LocalDBPath:  getEnv("LOCAL_DB_PATH", "data/orderly.db"),
			SeedFile:     getEnv("SEED_FILE", "data/db.json"),
			EnsureTables: getEnv("ENSURE_TABLES", "true") == "true",
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(getEnv("KAFKA_BROKERS", "")),
			TopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "notification-events"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "orderly-notifier"),
		},
		Mail: MailConfig{
			Host: getEnv("SMTP_HOST", ""),
			Port: smtpPort,
			User: getEnv("SMTP_USER", ""),
			Pass: getEnv("SMTP_PASS", ""),
			From: getEnv("SMTP_FROM", "no-reply@orderly.local"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			LogFile:        getEnv("LOG_FILE", ""),
		},
		Business: BusinessConfig{
			NotifyWorkers: notifyWorkers,
			LockTTL:       time.Duration(lockTTL) * time.Second,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, remote=%t", cfg.Server.Env, cfg.Server.Port, cfg.RemoteConfigured())
	return cfg
}

// RemoteConfigured reports whether the remote store is selected
func (c *Config) RemoteConfigured() bool {
	return c.Store.DatabaseURL != ""
}

// MailConfigured reports whether SMTP delivery is possible
func (c *Config) MailConfigured() bool {
	return c.Mail.Host != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
