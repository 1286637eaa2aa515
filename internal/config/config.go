// Package config loads process configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// Data sources
	MoviesCSVPath    string
	ModelsConfigPath string
	StagingDir       string

	// Model configuration source
	UseSSM      bool
	Environment string

	// Server
	ServerPort     string
	ServerURL      string
	ClientTimeout  time.Duration
	RateLimit      int
	RequestTimeout time.Duration

	// Embedding providers
	OllamaHost     string
	OpenAIAPIKey   string
	ONNXRuntimeLib string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		MoviesCSVPath:    getEnv("MOVIES_CSV_PATH", "data/processed/movies_processed.csv"),
		ModelsConfigPath: getEnv("MODELS_CONFIG_PATH", "config/models_config.json"),
		StagingDir:       getEnv("MOVIEREC_STAGING_DIR", os.TempDir()),

		UseSSM:      strings.EqualFold(getEnv("USE_SSM", "false"), "true"),
		Environment: getEnv("ENVIRONMENT", "dev"),

		ServerPort:     getEnv("MOVIEREC_SERVER_PORT", "8000"),
		ServerURL:      getEnv("MOVIEREC_SERVER_URL", ""),
		ClientTimeout:  getEnvDuration("MOVIEREC_CLIENT_TIMEOUT", 120*time.Second),
		RateLimit:      getEnvInt("MOVIEREC_RATE_LIMIT", 120),
		RequestTimeout: getEnvDuration("MOVIEREC_REQUEST_TIMEOUT", 60*time.Second),

		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		ONNXRuntimeLib: getEnv("ONNXRUNTIME_LIB", ""),

		LogFile:  getEnv("MOVIEREC_LOG_FILE", "/tmp/movierec.log"),
		LogLevel: parseLogLevel(getEnv("MOVIEREC_LOG_LEVEL", "INFO")),
	}
}

// SSMParameterName returns the parameter store key holding the model config.
func (c Config) SSMParameterName() string {
	return "/" + c.Environment + "/movie-recommender/models-config"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
