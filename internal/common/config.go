package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	Scan     ScanConfig
	Budget   BudgetConfig
	Metrics  MetricsConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	SQLitePath       string
	RedisURL         string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// StoreConfig holds job store configuration
type StoreConfig struct {
	Backend        string
	JobTTL         time.Duration
	TombstoneGrace time.Duration
	SweepInterval  time.Duration
	ResultsFile    string
}

// ScanConfig holds scan pipeline configuration
type ScanConfig struct {
	Timeout         time.Duration
	Workers         int
	QueueSize       int
	RateLimitPerMin int
	DefaultLanguage string
	ProfilesFile    string
	InboxDir        string
}

// BudgetConfig holds token budget configuration
type BudgetConfig struct {
	MaxItems  int
	Protected []string
	Priority  string
}

// MetricsConfig holds phase collector configuration
type MetricsConfig struct {
	Capacity int
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract   string
	TessdataDir string
	Language    string
	PSM         int
}

// LLM providers selectable with LLM_PROVIDER.
const (
	ProviderOpenAI  = "openai"
	ProviderKeyword = "keyword"
)

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "file:menu-safety.db?_pragma=busy_timeout(5000)"),
			RedisURL:         getEnv("REDIS_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Store: StoreConfig{
			Backend:        strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			JobTTL:         getEnvAsDuration("JOB_TTL", 10*time.Minute),
			TombstoneGrace: getEnvAsDuration("JOB_TOMBSTONE_GRACE", 30*time.Minute),
			SweepInterval:  getEnvAsDuration("JOB_SWEEP_INTERVAL", time.Minute),
			ResultsFile:    getEnv("RESULTS_FILE", "menu-safety-results.jsonl"),
		},
		Scan: ScanConfig{
			Timeout:         getEnvAsDuration("SCAN_TIMEOUT", 90*time.Second),
			Workers:         getEnvAsInt("SCAN_WORKERS", 4),
			QueueSize:       getEnvAsInt("SCAN_QUEUE_SIZE", 256),
			RateLimitPerMin: getEnvAsInt("RATE_LIMIT_PER_MIN", 30),
			DefaultLanguage: getEnv("SCAN_DEFAULT_LANGUAGE", "en"),
			ProfilesFile:    getEnv("PROFILES_FILE", ""),
			InboxDir:        getEnv("SCAN_INBOX_DIR", ""),
		},
		Budget: BudgetConfig{
			MaxItems:  getEnvAsInt("TOKEN_MAX_ITEMS", 60),
			Protected: getEnvAsList("TOKEN_PROTECTED", nil),
			Priority:  getEnv("TOKEN_PRIORITY", "tail"),
		},
		Metrics: MetricsConfig{
			Capacity: getEnvAsInt("METRICS_CAPACITY", 512),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
		},
		OCR: OCRConfig{
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			Language:    getEnv("OCR_LANG", "eng"),
			PSM:         getEnvAsInt("OCR_PSM", 4),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// comma separated; empty entries dropped
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
		if c.Store.ResultsFile == "" {
			return NewAppError("CONFIG_ERROR", "RESULTS_FILE is required for the "+c.Store.Backend+" backend", ErrInvalidInput)
		}
		if c.Store.Backend == BackendRedis && c.Database.RedisURL == "" {
			return NewAppError("CONFIG_ERROR", "REDIS_URL is required for the redis backend", ErrInvalidInput)
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres backend", ErrInvalidInput)
		}
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			return NewAppError("CONFIG_ERROR", "SQLITE_PATH is required for the sqlite backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown STORE_BACKEND "+c.Store.Backend, ErrInvalidInput)
	}
	if c.Store.JobTTL <= 0 {
		return NewAppError("CONFIG_ERROR", "JOB_TTL must be positive", ErrInvalidInput)
	}
	if c.Budget.MaxItems <= 0 {
		return NewAppError("CONFIG_ERROR", "TOKEN_MAX_ITEMS must be positive", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case ProviderKeyword:
	default:
		return NewAppError("CONFIG_ERROR", "unknown LLM_PROVIDER "+c.LLM.Provider, ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
