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
	HTTPAddr    string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	// persistence; empty DSN means chat history is not saved
	DBDriver string
	DBDSN    string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	HistoryCacheTTL time.Duration
	RateLimitQPS    int

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	// AI provider
	AIProvider        string
	AIMaxTokens       int
	AITemperature     float32
	GroqAPIKey        string
	GroqBaseURL       string
	GroqModel         string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	OllamaBaseURL     string
	OllamaModel       string

	// stream relay
	ChatContextWindowSize int
	StreamTimeout         time.Duration
	StreamIdleTimeout     time.Duration
	StreamHeartbeat       time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	dbDriver := strings.ToLower(os.Getenv("DB_DRIVER"))
	if dbDriver == "" {
		dbDriver = "mysql"
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_message_events"
	}

	aiProvider := strings.ToLower(os.Getenv("AI_PROVIDER"))
	if aiProvider == "" {
		aiProvider = "groq"
	}

	temperature := float32(0.7)
	if v := os.Getenv("AI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			temperature = float32(f)
		}
	}

	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		DBDriver: dbDriver,
		DBDSN:    os.Getenv("DB_DSN"),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getInt("REDIS_DB", 0),
		HistoryCacheTTL: getDuration("HISTORY_CACHE_TTL", 10*time.Minute),
		RateLimitQPS:    getInt("RATE_LIMIT_QPS", 5),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       rabbitQueue,
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),

		AIProvider:        aiProvider,
		AIMaxTokens:       getInt("AI_MAX_TOKENS", 8192),
		AITemperature:     temperature,
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:       getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:         getEnv("GROQ_MODEL", "openai/gpt-oss-120b"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),

		ChatContextWindowSize: getInt("CHAT_CONTEXT_WINDOW_SIZE", 40),
		StreamTimeout:         getDuration("STREAM_TIMEOUT", 5*time.Minute),
		StreamIdleTimeout:     getDuration("STREAM_IDLE_TIMEOUT", 60*time.Second),
		StreamHeartbeat:       getDuration("STREAM_HEARTBEAT", 15*time.Second),
	}
}

// PersistenceEnabled reports whether a database DSN was supplied.
func (c Config) PersistenceEnabled() bool {
	return strings.TrimSpace(c.DBDSN) != ""
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid integer %q, using %d", v, defaultValue)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.WithField("key", key).Warnf("invalid duration %q, using %s", v, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
