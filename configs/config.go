package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

type Drive struct {
	ClientID     string
	ClientSecret string
}

type AI struct {
	BaseURL     string
	APIKey      string `validate:"required"`
	VisionModel string
	TextModel   string
	Timeout     time.Duration
}

type Publishing struct {
	BaseURL string `validate:"required,url"`
	APIKey  string `validate:"required"`
	Timeout time.Duration
}

type Transform struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Instagram struct {
	GraphURL string
}

type Scheduler struct {
	DispatchEvery    string
	CredentialEvery  string
	Concurrency      int
	LockStaleAfter   time.Duration
	MinRunInterval   time.Duration
	DailyPostLimit   int
	RateLimitBackend string `validate:"oneof=postgres redis"`
	NativePlatforms  []string
	TaskUniqueWindow time.Duration
}

type Log struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type Config struct {
	PostgresURI string `validate:"required"`
	RedisURI    string `validate:"required"`
	SecretKey   string `validate:"required"`
	APIKey      string
	ListenAddr  string
	R2          R2
	Drive       Drive
	AI          AI
	Publishing  Publishing
	Transform   Transform
	Instagram   Instagram
	Scheduler   Scheduler
	Log         Log
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "localhost:6379"),
		SecretKey:   getEnv("SECRET_KEY", ""),
		APIKey:      getEnv("API_KEY", ""),
		ListenAddr:  getEnv("LISTEN_ADDR", ":3000"),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("R2_PUBLIC_BASE_URL", ""),
		},
		Drive: Drive{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		AI: AI{
			BaseURL:     getEnv("AI_BASE_URL", ""),
			APIKey:      getEnv("AI_API_KEY", ""),
			VisionModel: getEnv("AI_VISION_MODEL", "gpt-4o-mini"),
			TextModel:   getEnv("AI_TEXT_MODEL", "gpt-4o-mini"),
			Timeout:     getEnvDuration("AI_TIMEOUT", 60*time.Second),
		},
		Publishing: Publishing{
			BaseURL: getEnv("PUBLISHING_BASE_URL", ""),
			APIKey:  getEnv("PUBLISHING_API_KEY", ""),
			Timeout: getEnvDuration("PUBLISHING_TIMEOUT", 2*time.Minute),
		},
		Transform: Transform{
			BaseURL: getEnv("TRANSFORM_BASE_URL", ""),
			APIKey:  getEnv("TRANSFORM_API_KEY", ""),
			Timeout: getEnvDuration("TRANSFORM_TIMEOUT", 5*time.Minute),
		},
		Instagram: Instagram{
			GraphURL: getEnv("INSTAGRAM_GRAPH_URL", "https://graph.instagram.com/v21.0"),
		},
		Scheduler: Scheduler{
			DispatchEvery:    getEnv("DISPATCH_EVERY", "@every 00h05m00s"),
			CredentialEvery:  getEnv("CREDENTIAL_REFRESH_EVERY", "@every 00h10m00s"),
			Concurrency:      getEnvInt("WORKER_CONCURRENCY", 10),
			LockStaleAfter:   getEnvDuration("LOCK_STALE_AFTER", 10*time.Minute),
			MinRunInterval:   getEnvDuration("MIN_RUN_INTERVAL", 0),
			DailyPostLimit:   getEnvInt("DAILY_POST_LIMIT", 8),
			RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "postgres"),
			NativePlatforms:  getEnvList("NATIVE_PLATFORMS", []string{"instagram"}),
			TaskUniqueWindow: getEnvDuration("TASK_UNIQUE_WINDOW", 15*time.Minute),
		},
		Log: Log{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", "data/seriesflow.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		},
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
