// Package config 提供 TOML 配置加载、.env 与环境变量覆盖以及配置校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 结算引擎配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment  string             `mapstructure:"environment"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Bank         BankConfig         `mapstructure:"bank"`
	Interbank    InterbankConfig    `mapstructure:"interbank"`
	Verification VerificationConfig `mapstructure:"verification"`
	Services     ServicesConfig     `mapstructure:"services"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 最大并发流数
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, memory
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"`
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// 汇率缓存有效期（秒）
	RateTTL int `mapstructure:"rate_ttl"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 为空时使用进程内队列
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	Topic          string   `mapstructure:"topic"`
	DelayTopic     string   `mapstructure:"delay_topic"`
	SessionTimeout int      `mapstructure:"session_timeout"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoff   int      `mapstructure:"retry_backoff"`
	// 延迟队列的投递延迟（秒）
	Delay int `mapstructure:"delay"`
	// 消费者并发数
	Workers int `mapstructure:"workers"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// BankConfig 本行参数
type BankConfig struct {
	// 本币，同时作为汇率桥接货币
	HomeCurrency string `mapstructure:"home_currency"`
	// 汇率佣金系数，作用于解析后的汇率
	Commission string `mapstructure:"commission"`
	// 金额小数位
	AmountScale int32 `mapstructure:"amount_scale"`
	// 雪花算法节点号
	NodeID int64 `mapstructure:"node_id"`
}

// InterbankConfig 跨行结算配置
type InterbankConfig struct {
	// 对手行账户号前缀
	PartnerPrefixes []string `mapstructure:"partner_prefixes"`
	// 对手行传输方式：http, grpc
	Transport string `mapstructure:"transport"`
	BaseURL   string `mapstructure:"base_url"`
	Target    string `mapstructure:"target"`
	// 单次请求超时（秒）
	Timeout int `mapstructure:"timeout"`
	// 作为收款行时收取的手续费率
	Fee         string `mapstructure:"fee"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	// 重试间隔（毫秒）
	RetryDelay int `mapstructure:"retry_delay"`
	// 熔断：连续失败次数阈值与打开时长（秒）
	BreakerFailures int `mapstructure:"breaker_failures"`
	BreakerTimeout  int `mapstructure:"breaker_timeout"`
	// 待重试记录超过该时长（秒）后由恢复任务重新投递
	RecoveryAfter    int `mapstructure:"recovery_after"`
	RecoveryInterval int `mapstructure:"recovery_interval"`
}

// VerificationConfig 二次验证配置
type VerificationConfig struct {
	// local 使用内置验证模块，remote 调用身份服务
	Mode string `mapstructure:"mode"`
	URL  string `mapstructure:"url"`
	// 有效期（秒）
	TTL           int `mapstructure:"ttl"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	SweepInterval int `mapstructure:"sweep_interval"`
}

// ServicesConfig 依赖的外部服务
type ServicesConfig struct {
	UserURL string `mapstructure:"user_url"`
	// 内部回调共享令牌，为空时不校验
	InternalToken string `mapstructure:"internal_token"`
}

// Load 依次加载 .env、TOML 文件与 APP_ 前缀的环境变量，文件缺失时使用默认值
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if len(c.Bank.HomeCurrency) != 3 {
		return fmt.Errorf("invalid home currency: %q", c.Bank.HomeCurrency)
	}
	commission, err := decimal.NewFromString(c.Bank.Commission)
	if err != nil || !commission.IsPositive() {
		return fmt.Errorf("invalid commission: %q", c.Bank.Commission)
	}
	if fee, err := decimal.NewFromString(c.Interbank.Fee); err != nil || fee.IsNegative() {
		return fmt.Errorf("invalid interbank fee: %q", c.Interbank.Fee)
	}
	if c.Interbank.MaxAttempts <= 0 {
		return fmt.Errorf("interbank.max_attempts must be positive: %d", c.Interbank.MaxAttempts)
	}
	switch c.Interbank.Transport {
	case "http", "grpc":
	default:
		return fmt.Errorf("unsupported interbank transport: %s", c.Interbank.Transport)
	}
	return nil
}

// CommissionRate 返回汇率佣金系数
func (b BankConfig) CommissionRate() decimal.Decimal {
	return decimal.RequireFromString(b.Commission)
}

// FeeRate 返回收款行手续费率
func (i InterbankConfig) FeeRate() decimal.Decimal {
	return decimal.RequireFromString(i.Fee)
}

// RetryInterval 返回重试间隔
func (i InterbankConfig) RetryInterval() time.Duration {
	return time.Duration(i.RetryDelay) * time.Millisecond
}

// Expiry 返回验证请求有效期
func (v VerificationConfig) Expiry() time.Duration {
	return time.Duration(v.TTL) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "settlement")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.rate_ttl", 300)

	v.SetDefault("kafka.group_id", "settlement")
	v.SetDefault("kafka.topic", "bank.transaction")
	v.SetDefault("kafka.delay_topic", "bank.transaction.delay")
	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.delay", 60)
	v.SetDefault("kafka.workers", 4)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/settlement.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("bank.home_currency", "RSD")
	v.SetDefault("bank.commission", "0.99")
	v.SetDefault("bank.amount_scale", 2)
	v.SetDefault("bank.node_id", 1)

	v.SetDefault("interbank.partner_prefixes", []string{"222"})
	v.SetDefault("interbank.transport", "http")
	v.SetDefault("interbank.timeout", 10)
	v.SetDefault("interbank.fee", "0.01")
	v.SetDefault("interbank.max_attempts", 3)
	v.SetDefault("interbank.retry_delay", 5000)
	v.SetDefault("interbank.breaker_failures", 5)
	v.SetDefault("interbank.breaker_timeout", 30)
	v.SetDefault("interbank.recovery_after", 300)
	v.SetDefault("interbank.recovery_interval", 60)

	v.SetDefault("verification.mode", "local")
	v.SetDefault("verification.ttl", 300)
	v.SetDefault("verification.max_attempts", 3)
	v.SetDefault("verification.sweep_interval", 30)

	v.SetDefault("services.user_url", "")
	v.SetDefault("services.internal_token", "")
}
