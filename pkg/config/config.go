// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config GTNet 节点配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置（M2M 端点）
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置（健康检查）
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// GTNet 协议配置
	GTNet GTNetConfig `mapstructure:"gtnet"`
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

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
}

// Addr 监听地址
func (c GRPCConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时是否自动迁移表结构
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置，Addr 为空时每日计数退回数据库
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// 最大连接数
	PoolSize int `mapstructure:"pool_size"`
	// 连接超时（秒）
	DialTimeout int `mapstructure:"dial_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置，Brokers 为空时不启动 outbox 中继
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	// 写超时（毫秒）
	WriteTimeout int `mapstructure:"write_timeout"`
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

// GTNetConfig 协议相关配置
type GTNetConfig struct {
	// 本节点域名，对应本地 Peer 记录
	LocalDomain string `mapstructure:"local_domain"`
	// 是否接受未握手节点的首次握手
	AcceptUnknownPeers bool `mapstructure:"accept_unknown_peers"`
	// 本地节点各数据种类的初始接受模式：Closed、Open 或 PushOpen
	DefaultAcceptMode string `mapstructure:"default_accept_mode"`
	// 历史行情批量查询阈值（天）
	HistoryBatchThresholdDays int `mapstructure:"history_batch_threshold_days"`
	// outbox 中继轮询间隔（毫秒）
	OutboxRelayIntervalMs int `mapstructure:"outbox_relay_interval_ms"`
	// outbox 每批处理条数
	OutboxBatchSize int `mapstructure:"outbox_batch_size"`
	// 数据同步任务 topic
	ExchangeSyncTopic string `mapstructure:"exchange_sync_topic"`
	// gRPC 健康状态刷新间隔（毫秒）
	HealthPollIntervalMs int `mapstructure:"health_poll_interval_ms"`
}

// OutboxRelayInterval outbox 轮询间隔
func (c GTNetConfig) OutboxRelayInterval() time.Duration {
	return time.Duration(c.OutboxRelayIntervalMs) * time.Millisecond
}

// HealthPollInterval 健康状态刷新间隔
func (c GTNetConfig) HealthPollInterval() time.Duration {
	return time.Duration(c.HealthPollIntervalMs) * time.Millisecond
}

// Load 从 TOML 文件加载配置，文件不存在时仅使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 环境变量覆盖：APP_GTNET_LOCAL_DOMAIN -> gtnet.local_domain
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.GTNet.LocalDomain == "" {
		return fmt.Errorf("gtnet.local_domain is required")
	}
	switch strings.ToLower(c.GTNet.DefaultAcceptMode) {
	case "closed", "open", "pushopen":
	default:
		return fmt.Errorf("invalid gtnet.default_accept_mode: %q", c.GTNet.DefaultAcceptMode)
	}
	if c.GTNet.HistoryBatchThresholdDays <= 0 {
		return fmt.Errorf("invalid gtnet.history_batch_threshold_days: %d", c.GTNet.HistoryBatchThresholdDays)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "gtnet")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.enabled", true)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.write_timeout", 5000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/gtnet.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("gtnet.local_domain", "")
	v.SetDefault("gtnet.accept_unknown_peers", true)
	v.SetDefault("gtnet.default_accept_mode", "Open")
	v.SetDefault("gtnet.history_batch_threshold_days", 10)
	v.SetDefault("gtnet.outbox_relay_interval_ms", 2000)
	v.SetDefault("gtnet.outbox_batch_size", 100)
	v.SetDefault("gtnet.exchange_sync_topic", "gtnet.exchange.sync")
	v.SetDefault("gtnet.health_poll_interval_ms", 10000)
}
