package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	// StatsTTL is how long an idle service's learned model survives in Redis.
	// Zero keeps it forever.
	StatsTTL time.Duration

	PollInterval    time.Duration
	BatchSize       int
	RefreshInterval time.Duration
	RefreshWorkers  int
	OffsetConsumer  string

	Timezone    string
	RecentLimit int

	RateLimitPerMinute int
	RateLimitBurst     int

	LogLevel string
	LogDir   string

	OTLPEndpoint string
	OTLPInsecure bool
	// TraceSampleRatio is the share of root spans kept, from 0 to 1.
	TraceSampleRatio float64
	InstanceID       string
}

// Load reads the environment, after merging an optional .env file in the
// working directory. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("DISPLAY_PORT")
	if port == "" {
		port = "8086"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	consumer := os.Getenv("DISPLAY_OFFSET_CONSUMER")
	if consumer == "" {
		consumer = "display-service"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisAddr:          redisAddr,
		RedisDB:            readInt("REDIS_DB", 0),
		StatsTTL:           readDurationSeconds("DISPLAY_STATS_TTL_SECONDS", 0),
		PollInterval:       readDurationSeconds("DISPLAY_POLL_SECONDS", 1),
		BatchSize:          readInt("DISPLAY_BATCH_SIZE", 100),
		RefreshInterval:    readDurationSeconds("DISPLAY_REFRESH_SECONDS", 60),
		RefreshWorkers:     readInt("DISPLAY_REFRESH_WORKERS", 4),
		OffsetConsumer:     consumer,
		Timezone:           strings.TrimSpace(os.Getenv("DISPLAY_TIMEZONE")),
		RecentLimit:        readInt("DISPLAY_RECENT_LIMIT", 5),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		LogLevel:           strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		LogDir:             strings.TrimSpace(os.Getenv("LOG_DIR")),
		OTLPEndpoint:       strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure:       readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:   readFloat("DISPLAY_TRACE_SAMPLE_RATIO", 1),
		InstanceID:         strings.TrimSpace(os.Getenv("DISPLAY_INSTANCE_ID")),
	}
}

// Location resolves Timezone, falling back to the process's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
