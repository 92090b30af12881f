package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
)

type Config struct {
	Port string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	DeepgramAPIKey     string
	DeepgramEncoding   string
	DeepgramSampleRate int

	RedisHost        string
	RedisPort        string
	RedisPassword    string
	AnalysisCacheTTL time.Duration

	PineconeAPIKey string
	PineconeIndex  string

	CameraDevice    int
	CaptureWindow   time.Duration
	CaptureInterval time.Duration
	AnalyzeTimeout  time.Duration

	LogLevel        string
	DefaultLanguage models.Language
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:             os.Getenv("PORT"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramEncoding: os.Getenv("DEEPGRAM_ENCODING"),
		RedisHost:        os.Getenv("REDIS_HOST"),
		RedisPort:        os.Getenv("REDIS_PORT"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		PineconeAPIKey:   os.Getenv("PINECONE_API_KEY"),
		PineconeIndex:    os.Getenv("PINECONE_INDEX"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o"
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.DeepgramEncoding == "" {
		cfg.DeepgramEncoding = "linear16"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	var err error
	if cfg.DeepgramSampleRate, err = intEnv("DEEPGRAM_SAMPLE_RATE", 16000); err != nil {
		return nil, err
	}
	if cfg.CameraDevice, err = intEnv("CAMERA_DEVICE", 0); err != nil {
		return nil, err
	}
	if cfg.AnalysisCacheTTL, err = durationEnv("ANALYSIS_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CaptureWindow, err = durationEnv("CAPTURE_WINDOW", 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.CaptureInterval, err = durationEnv("CAPTURE_INTERVAL", 600*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.AnalyzeTimeout, err = durationEnv("ANALYZE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.DefaultLanguage = models.LanguageEnglish
	if v := os.Getenv("DEFAULT_LANGUAGE"); v != "" {
		lang, err := models.ParseLanguage(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_LANGUAGE: %w", err)
		}
		cfg.DefaultLanguage = lang
	}

	return cfg, nil
}

// RedisEnabled reports whether the analysis cache should be used.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// PineconeEnabled reports whether the product knowledge base is configured.
func (c *Config) PineconeEnabled() bool {
	return c.PineconeAPIKey != "" && c.PineconeIndex != ""
}

func (c *Config) DictationEnabled() bool {
	return c.DeepgramAPIKey != ""
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}
