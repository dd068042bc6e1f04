// Package config loads worker settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read once at process start.
type Config struct {
	RabbitAddress         string        `env:"RABBIT_ADDRESS,required,notEmpty"`
	InputQueue            string        `env:"INPUT_QUEUE" envDefault:"ImageToText"`
	ReplyQueue            string        `env:"REPLY_QUEUE" envDefault:"Reply"`
	DeadLetterQueue       string        `env:"DEAD_LETTER_QUEUE" envDefault:"ImageToText.dead"`
	ConsumerTag           string        `env:"CONSUMER_TAG" envDefault:"image_consumer"`
	DeclareQueues         bool          `env:"DECLARE_QUEUES" envDefault:"true"`
	BrokerConnectAttempts int           `env:"BROKER_CONNECT_ATTEMPTS" envDefault:"5"`
	BrokerConnectBackoff  time.Duration `env:"BROKER_CONNECT_BACKOFF" envDefault:"1s"`
	PublishTimeout        time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`

	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	TelegramAPIURL   string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramTimeout  time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"30s"`

	GoogleVisionAPIKey string        `env:"GOOGLE_VISION_API_KEY,required,notEmpty"`
	OCREndpoint        string        `env:"OCR_ENDPOINT" envDefault:"https://vision.googleapis.com/v1/images:annotate"`
	OCRTimeout         time.Duration `env:"OCR_TIMEOUT" envDefault:"30s"`

	RedisURL      string        `env:"REDIS_URL"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`
	CacheDisabled bool          `env:"CACHE_DISABLED" envDefault:"false"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.BrokerConnectAttempts < 1 {
		return nil, fmt.Errorf("load config: BROKER_CONNECT_ATTEMPTS must be at least 1, got %d", cfg.BrokerConnectAttempts)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// ParseLevel maps LOG_LEVEL to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
