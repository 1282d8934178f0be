package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	GRPCPort     string
	HTTPPort     string
	DetectorAddr string
	ModelPath    string
	CORSOrigins  string

	DefaultConfidence      float64
	MaxUploadMB            int
	MaxImagesPerBatch      int
	RateLimitPerMin        int
	DetectTimeout          time.Duration
	DetectorStartupTimeout time.Duration
	SessionTTL             time.Duration
	LogLevel               string
	Environment            string

	// DashboardPasswordHash is a bcrypt hash; empty disables basic auth.
	DashboardPasswordHash string

	HistoryEnabled bool
	DBName         string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBSSLMode      string
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog hides the password.
func (p *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// MaxUploadBytes is the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LoadConfig reads an optional .env file and then the process environment.
// The returned notice is non-empty when no .env file was found.
func LoadConfig() (*Config, string) {
	notice := ""
	if err := godotenv.Load(); err != nil {
		notice = "No .env file found, using system environment variables"
	}
	return FromEnv(), notice
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		GRPCPort:               getEnv("GRPC_PORT", "50051"),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		DetectorAddr:           getEnv("DETECTOR_ADDR", "localhost:9000"),
		ModelPath:              getEnv("MODEL_PATH", "best.pt"),
		CORSOrigins:            getEnv("CORS_ORIGINS", "*"),
		DefaultConfidence:      getEnvFloat("DEFAULT_CONFIDENCE", 0.5),
		MaxUploadMB:            getEnvInt("MAX_UPLOAD_MB", 50),
		MaxImagesPerBatch:      getEnvInt("MAX_IMAGES_PER_BATCH", 64),
		RateLimitPerMin:        getEnvInt("RATE_PER_MIN", 120),
		DetectTimeout:          getEnvDuration("DETECT_TIMEOUT", 30*time.Second),
		DetectorStartupTimeout: getEnvDuration("DETECTOR_STARTUP_TIMEOUT", 30*time.Second),
		SessionTTL:             getEnvDuration("SESSION_TTL", 2*time.Hour),
		LogLevel:               getEnv("LOG_LEVEL", "INFO"),
		Environment:            getEnv("ENVIRONMENT", "production"),
		DashboardPasswordHash:  getEnv("DASHBOARD_PASSWORD_HASH", ""),
		HistoryEnabled:         getEnvBool("HISTORY_ENABLED", false),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "postgres"),
		DBPassword:             getEnv("DB_PASSWORD", ""),
		DBName:                 getEnv("DB_NAME", "silkworm_dashboard"),
		DBSSLMode:              getEnv("DB_SSLMODE", "disable"),
	}
}

// Validate rejects settings the dashboard cannot run with.
func (c *Config) Validate() error {
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return errors.Errorf("DEFAULT_CONFIDENCE must be within [0,1], got %v", c.DefaultConfidence)
	}
	if c.MaxUploadMB <= 0 {
		return errors.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.MaxImagesPerBatch <= 0 {
		return errors.Errorf("MAX_IMAGES_PER_BATCH must be positive, got %d", c.MaxImagesPerBatch)
	}
	if c.RateLimitPerMin <= 0 {
		return errors.Errorf("RATE_PER_MIN must be positive, got %d", c.RateLimitPerMin)
	}
	if c.ModelPath == "" {
		return errors.New("MODEL_PATH is required")
	}
	if c.HistoryEnabled && c.DBName == "" {
		return errors.New("DB_NAME is required when HISTORY_ENABLED is set")
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
