package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBDriver   string // "pgx" or "sqlite3"
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RenderQueueName      string
	RenderJobName        string
	RenderJobAttempts    int
	RenderJobBackoff     time.Duration
	RenderJobBackoffType string
	CompletedJobTTL      time.Duration
	FailedJobTTL         time.Duration

	SubjectLockPrefix     string
	SubjectLockTTLSeconds int

	PipelineEnabled     bool
	PipelineGateKey     string
	CanaryPolicyPath    string
	CanaryUsagePrefix   string
	RenderOutputBaseURL string
	AutoMigrate         bool
	WorkerEnabled       bool
	DefaultListLimit    int
	MigrationsSourceURL string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:    getEnv("API_PORT", "8080"),
		JWTKey:     []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:     time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBDriver:   getEnv("DB_DRIVER", "pgx"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "video_jobs_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "videojobs.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		RenderQueueName:      getEnv("RENDER_QUEUE_NAME", "video_render_queue"),
		RenderJobName:        getEnv("RENDER_JOB_NAME", "video-render"),
		RenderJobAttempts:    getEnvAsInt("RENDER_JOB_ATTEMPTS", 3),
		RenderJobBackoff:     time.Duration(getEnvAsInt("RENDER_JOB_BACKOFF_MS", 5000)) * time.Millisecond,
		RenderJobBackoffType: getEnv("RENDER_JOB_BACKOFF_TYPE", "exponential"),
		CompletedJobTTL:      time.Duration(getEnvAsInt("RENDER_JOB_COMPLETED_TTL_HOURS", 24)) * time.Hour,
		FailedJobTTL:         time.Duration(getEnvAsInt("RENDER_JOB_FAILED_TTL_HOURS", 168)) * time.Hour,

		SubjectLockPrefix:     getEnv("SUBJECT_LOCK_PREFIX", "video_render_lock:"),
		SubjectLockTTLSeconds: getEnvAsInt("SUBJECT_LOCK_TTL_SECONDS", 900),

		PipelineEnabled:     getEnvAsBool("VIDEO_PIPELINE_ENABLED", false),
		PipelineGateKey:     getEnv("VIDEO_PIPELINE_GATE_KEY", "video_pipeline:enabled"),
		CanaryPolicyPath:    getEnv("CANARY_POLICY_PATH", "canary_policy.yaml"),
		CanaryUsagePrefix:   getEnv("CANARY_USAGE_PREFIX", "canary:usage:"),
		RenderOutputBaseURL: getEnv("RENDER_OUTPUT_BASE_URL", "https://media.local/renders"),
		AutoMigrate:         getEnvAsBool("DB_AUTO_MIGRATE", false),
		WorkerEnabled:       getEnvAsBool("RENDER_WORKER_ENABLED", true),
		DefaultListLimit:    getEnvAsInt("EXECUTION_LIST_DEFAULT_LIMIT", 20),
		MigrationsSourceURL: getEnv("MIGRATIONS_SOURCE_URL", "file://migrations"),
	}

	AppConfig.DBConnStr = "postgres://" + AppConfig.DBUser + ":" + AppConfig.DBPassword +
		"@" + AppConfig.DBHost + ":" + AppConfig.DBPort +
		"/" + AppConfig.DBName + "?sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
