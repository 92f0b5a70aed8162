package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 设备监控服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 端点连接管理
	Endpoint struct {
		ReconnectBaseSeconds int // 重连退避基数（秒），delay = base × 2^attempt
		MaxReconnectAttempts int // 重连次数上限，超过后停在 disconnected 等待人工干预
	}

	// 缓存与事件流
	Cache struct {
		SnapshotKeyPrefix string // 快照缓存键前缀，如 "equipment:device:"
		SnapshotSuffix    string // 快照缓存键后缀，如 ":realtime"
		WarningSuffix     string // 告警缓存键后缀，如 ":warnings"
		SnapshotTTL       int    // 快照缓存 TTL（秒）
		WarningTTL        int    // 告警缓存 TTL（秒）
		ReadingStream     string // 读数事件 stream 名称
	}

	// 阈值评估
	Evaluator struct {
		ThresholdsFile string // 可选 YAML 文件，覆盖内置设备类型阈值
	}

	// 告警生命周期
	Warning struct {
		CooldownSeconds int // 持续越限的再通知间隔（秒）
	}

	// 升级调度
	Escalation struct {
		SweepIntervalSeconds      int // 到期条目扫描间隔（秒）
		SendDelayMillis           int // 条目间发送间隔（毫秒）
		CleanupIntervalSeconds    int // 清理任务间隔（秒）
		WarningRetentionDays      int // 已解决告警保留天数
		NotificationRetentionDays int // 终态通知条目保留天数
	}

	// 外部通知
	Notifier struct {
		WebhookURL     string
		TimeoutSeconds int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wisefido_equipment")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Endpoint.ReconnectBaseSeconds = getEnvInt("RECONNECT_BASE_SECONDS", 5)
	cfg.Endpoint.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", 5)

	cfg.Cache.SnapshotKeyPrefix = getEnv("CACHE_SNAPSHOT_PREFIX", "equipment:device:")
	cfg.Cache.SnapshotSuffix = ":realtime"
	cfg.Cache.WarningSuffix = ":warnings"
	cfg.Cache.SnapshotTTL = getEnvInt("CACHE_SNAPSHOT_TTL", 3600)
	cfg.Cache.WarningTTL = getEnvInt("CACHE_WARNING_TTL", 3600)
	cfg.Cache.ReadingStream = getEnv("READING_STREAM", "equipment:readings:stream")

	cfg.Evaluator.ThresholdsFile = getEnv("THRESHOLDS_FILE", "")

	cfg.Warning.CooldownSeconds = getEnvInt("WARNING_COOLDOWN_SECONDS", 300)

	cfg.Escalation.SweepIntervalSeconds = getEnvInt("ESCALATION_SWEEP_SECONDS", 60)
	cfg.Escalation.SendDelayMillis = getEnvInt("ESCALATION_SEND_DELAY_MS", 500)
	cfg.Escalation.CleanupIntervalSeconds = getEnvInt("CLEANUP_INTERVAL_SECONDS", 3600)
	cfg.Escalation.WarningRetentionDays = getEnvInt("WARNING_RETENTION_DAYS", 30)
	cfg.Escalation.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 7)

	cfg.Notifier.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notifier.TimeoutSeconds = getEnvInt("NOTIFY_TIMEOUT_SECONDS", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Validate 校验服务运行必需的配置项
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.Notifier.WebhookURL == "" {
		return fmt.Errorf("notify webhook url is required")
	}
	if c.Endpoint.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
