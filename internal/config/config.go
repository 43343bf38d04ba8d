package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Coupon   CouponConfig   `mapstructure:"coupon"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Security SecurityConfig `mapstructure:"security"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Level:      c.Level,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置（模板缓存、发放闸门、待处理缓冲区）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`
}

// QueueConfig 发放队列配置
type QueueConfig struct {
	Driver             string         `mapstructure:"driver"` // asynq / kafka
	Host               string         `mapstructure:"host"`
	Port               int            `mapstructure:"port"`
	Password           string         `mapstructure:"password"`
	DB                 int            `mapstructure:"db"`
	Concurrency        int            `mapstructure:"concurrency"`
	Queues             map[string]int `mapstructure:"queues"`
	MaxRetry           int            `mapstructure:"max_retry"`
	TaskTimeoutSeconds int            `mapstructure:"task_timeout_seconds"`
	Kafka              KafkaConfig    `mapstructure:"kafka"`
}

// KafkaConfig Kafka 传输配置
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	GroupID         string   `mapstructure:"group_id"`
	MaxAttempts     int      `mapstructure:"max_attempts"`
}

// CouponConfig 发放链路配置
type CouponConfig struct {
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds"`
	ReconcileChunkSize       int `mapstructure:"reconcile_chunk_size"`
	CacheLockTTLSeconds      int `mapstructure:"cache_lock_ttl_seconds"`
	CacheRetryDelayMS        int `mapstructure:"cache_retry_delay_ms"`
	CacheMaxRetries          int `mapstructure:"cache_max_retries"`
	PublishTimeoutMS         int `mapstructure:"publish_timeout_ms"`
}

// ReconcileInterval 批处理间隔
func (c CouponConfig) ReconcileInterval() time.Duration {
	return secondsOr(c.ReconcileIntervalSeconds, constants.ReconcileIntervalSecondsDefault)
}

// CacheLockTTL 模板缓存回源锁时长
func (c CouponConfig) CacheLockTTL() time.Duration {
	return secondsOr(c.CacheLockTTLSeconds, 5)
}

// CacheRetryDelay 回源锁竞争失败后的等待时长
func (c CouponConfig) CacheRetryDelay() time.Duration {
	return millisOr(c.CacheRetryDelayMS, 100)
}

// PublishTimeout 发布消息超时
func (c CouponConfig) PublishTimeout() time.Duration {
	return millisOr(c.PublishTimeoutMS, 3000)
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	IssueRateLimit RateLimitConfig `mapstructure:"issue_rate_limit"`
}

// RateLimitConfig 限流配置（窗口内同一用户的请求次数）
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// MetricsConfig 指标暴露配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹
	setDefaults(v)

	// 环境变量支持（例如 coupon.reconcile_chunk_size -> COUPON_RECONCILE_CHUNK_SIZE）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "b2b-point.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.level", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/b2b_point.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "")
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("queue.driver", constants.QueueDriverAsynq)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 20)
	v.SetDefault("queue.queues", map[string]int{
		constants.QueueCouponIssue: 10,
		constants.QueueDefault:     1,
	})
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("queue.task_timeout_seconds", 10)
	v.SetDefault("queue.kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("queue.kafka.topic", constants.KafkaTopicCouponIssue)
	v.SetDefault("queue.kafka.dead_letter_topic", constants.KafkaTopicCouponIssueDeadLetter)
	v.SetDefault("queue.kafka.group_id", constants.KafkaGroupCouponIssue)
	v.SetDefault("queue.kafka.max_attempts", 3)
	v.SetDefault("coupon.reconcile_interval_seconds", constants.ReconcileIntervalSecondsDefault)
	v.SetDefault("coupon.reconcile_chunk_size", constants.ReconcileChunkSizeDefault)
	v.SetDefault("coupon.cache_lock_ttl_seconds", 5)
	v.SetDefault("coupon.cache_retry_delay_ms", 100)
	v.SetDefault("coupon.cache_max_retries", 50)
	v.SetDefault("coupon.publish_timeout_ms", 3000)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Cache-Control",
		"X-Requested-With",
		constants.HeaderPartnerAPIKey,
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.issue_rate_limit.window_seconds", 1)
	v.SetDefault("security.issue_rate_limit.max_requests", 5)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func millisOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Millisecond
}
