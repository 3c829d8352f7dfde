// internal/pkg/config/config.go
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是订单服务的全部配置。优先级：环境变量 > YAML 文件 > Default()。
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	HTTP       HTTPConfig       `yaml:"http"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Toss       TossConfig       `yaml:"toss"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Acceptance AcceptanceConfig `yaml:"acceptance"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

type ServiceConfig struct {
	Name string `yaml:"name" env:"SERVICE_NAME"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	RateLimitRPS   float64       `yaml:"rateLimitRps" env:"HTTP_RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rateLimitBurst" env:"HTTP_RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"HTTP_REQUEST_TIMEOUT"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs" env:"REDIS_ADDRS" envSeparator:","`
	Password string   `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int      `yaml:"db" env:"REDIS_DB"`
}

// KafkaConfig 关闭时，超时任务使用进程内定时器，事件不做镜像。
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	EventTopic string   `yaml:"eventTopic" env:"KAFKA_EVENT_TOPIC"`
	DLTTopic   string   `yaml:"dltTopic" env:"KAFKA_DLT_TOPIC"`
	GroupID    string   `yaml:"groupId" env:"KAFKA_GROUP_ID"`
}

type TossConfig struct {
	BaseURL   string        `yaml:"baseUrl" env:"TOSS_BASE_URL"`
	SecretKey string        `yaml:"secretKey" env:"TOSS_SECRET_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"TOSS_TIMEOUT"`
}

type TimeoutsConfig struct {
	PaymentExpiry time.Duration `yaml:"paymentExpiry" env:"PAYMENT_EXPIRY"`
	AutoAccept    time.Duration `yaml:"autoAccept" env:"AUTO_ACCEPT_DELAY"`
}

type AcceptanceConfig struct {
	// Policy 取值 timed 或 manual
	Policy string `yaml:"policy" env:"ACCEPTANCE_POLICY"`
}

type PaymentsConfig struct {
	SessionTTL time.Duration `yaml:"sessionTtl" env:"PAYMENT_SESSION_TTL"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"JAEGER_ENDPOINT"`
	SampleRatio float64 `yaml:"sampleRatio" env:"TRACE_SAMPLE_RATIO"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"`
}

// Default 返回本地开发可直接使用的配置。
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "order-service"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			RequestTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{Addrs: []string{"localhost:6379"}},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			EventTopic: "kiosk-order-events",
			DLTTopic:   "kiosk-order-dlt",
			GroupID:    "order-service",
		},
		Toss: TossConfig{
			BaseURL: "https://api.tosspayments.com",
			Timeout: 10 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			PaymentExpiry: 10 * time.Minute,
			AutoAccept:    3 * time.Second,
		},
		Acceptance: AcceptanceConfig{Policy: "timed"},
		Payments:   PaymentsConfig{SessionTTL: 1800 * time.Second},
		Tracing:    TracingConfig{SampleRatio: 1},
		Log:        LogConfig{Level: "info"},
	}
}

// Load 依次应用默认值、YAML 文件 (path 为空则跳过) 和环境变量。
// 当前目录下的 .env 会先被载入环境变量。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查无法通过默认值补齐的配置。
func (c *Config) Validate() error {
	switch {
	case len(c.Redis.Addrs) == 0:
		return errors.New("redis.addrs is required")
	case c.Kafka.Enabled && len(c.Kafka.Brokers) == 0:
		return errors.New("kafka.brokers is required when kafka is enabled")
	case c.Acceptance.Policy != "timed" && c.Acceptance.Policy != "manual":
		return errors.Errorf("acceptance.policy must be timed or manual, got %q", c.Acceptance.Policy)
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return errors.Errorf("tracing.sampleRatio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	case c.Timeouts.PaymentExpiry <= 0 || c.Timeouts.AutoAccept <= 0:
		return errors.New("timeouts must be positive")
	}
	return nil
}
