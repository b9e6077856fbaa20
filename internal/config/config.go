package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - структура для хранения конфигурации приложения
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis Config
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Audit Emitter Config
	AuditWebhookURL    string        `env:"AUDIT_WEBHOOK_URL"`
	AuditWebhookSecret string        `env:"AUDIT_WEBHOOK_SECRET"`
	AuditTimeout       time.Duration `env:"AUDIT_TIMEOUT" envDefault:"5s"`
	AuditMaxRetries    int           `env:"AUDIT_MAX_RETRIES" envDefault:"3"`
	AuditBaseDelay     time.Duration `env:"AUDIT_BASE_DELAY" envDefault:"500ms"`

	// Geocoder Config
	GeocoderURL     string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org"`
	GeocoderTimeout time.Duration `env:"GEOCODER_TIMEOUT" envDefault:"3s"`

	// Allocation Engine Config
	ResponderRadiusKM float64 `env:"RESPONDER_RADIUS_KM" envDefault:"10"`
	HospitalRadiusKM  float64 `env:"HOSPITAL_RADIUS_KM" envDefault:"20"`
	RadiusExpansions  int     `env:"RADIUS_EXPANSIONS" envDefault:"4"`
	CandidateLimit    int     `env:"CANDIDATE_LIMIT" envDefault:"10"`
	AvgSpeedKMH       float64 `env:"AVG_SPEED_KMH" envDefault:"40"`

	// Pipeline stage soft deadlines per priority
	StageTimeoutP1 time.Duration `env:"STAGE_TIMEOUT_P1" envDefault:"2s"`
	StageTimeoutP2 time.Duration `env:"STAGE_TIMEOUT_P2" envDefault:"10s"`
	StageTimeoutP3 time.Duration `env:"STAGE_TIMEOUT_P3" envDefault:"30s"`

	// API Keys for authentication
	APIKeys []string `env:"API_KEYS"`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvAsInt("REDIS_DB", 0),
		AuditWebhookURL:    os.Getenv("AUDIT_WEBHOOK_URL"),
		AuditWebhookSecret: os.Getenv("AUDIT_WEBHOOK_SECRET"),
		AuditTimeout:       getEnvAsDuration("AUDIT_TIMEOUT", 5*time.Second),
		AuditMaxRetries:    getEnvAsInt("AUDIT_MAX_RETRIES", 3),
		AuditBaseDelay:     getEnvAsDuration("AUDIT_BASE_DELAY", 500*time.Millisecond),
		GeocoderURL:        getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:    getEnvAsDuration("GEOCODER_TIMEOUT", 3*time.Second),
		ResponderRadiusKM:  getEnvAsFloat("RESPONDER_RADIUS_KM", 10),
		HospitalRadiusKM:   getEnvAsFloat("HOSPITAL_RADIUS_KM", 20),
		RadiusExpansions:   getEnvAsInt("RADIUS_EXPANSIONS", 4),
		CandidateLimit:     getEnvAsInt("CANDIDATE_LIMIT", 10),
		AvgSpeedKMH:        getEnvAsFloat("AVG_SPEED_KMH", 40),
		StageTimeoutP1:     getEnvAsDuration("STAGE_TIMEOUT_P1", 2*time.Second),
		StageTimeoutP2:     getEnvAsDuration("STAGE_TIMEOUT_P2", 10*time.Second),
		StageTimeoutP3:     getEnvAsDuration("STAGE_TIMEOUT_P3", 30*time.Second),
	}

	// Загрузка API ключей
	apiKeysStr := os.Getenv("API_KEYS")
	if apiKeysStr != "" {
		cfg.APIKeys = strings.Split(apiKeysStr, ",")
		for i, key := range cfg.APIKeys {
			cfg.APIKeys[i] = strings.TrimSpace(key)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	return cfg, nil
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat возвращает значение переменной окружения как float64 или значение по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

// StageTimeout возвращает мягкий дедлайн этапа для заданного приоритета
func (c *Config) StageTimeout(priority string) time.Duration {
	switch priority {
	case "P1":
		return c.StageTimeoutP1
	case "P2":
		return c.StageTimeoutP2
	default:
		return c.StageTimeoutP3
	}
}
