package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
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

// MQTTConfig MQTT配置（平台侧连接盒子的控制通道）
type MQTTConfig struct {
	Broker   string
	ClientID string // 每个设备会话的ClientID前缀，实际ID为 "<前缀>-<BoardId>"
	Username string
	Password string
	QoS      byte
}

// Config 网关配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string // 告警/视频上报 HTTP 服务监听地址
	}

	// 设备会话配置
	Session struct {
		HeartbeatInterval time.Duration // 盒子心跳周期（协议默认5秒）
		DegradedAfter     time.Duration // 心跳丢失判定阈值（默认3倍心跳周期）
		OfflineAfter      time.Duration // Degraded 之后再经过该时间判定离线
		ReconnectBase     time.Duration // 重连退避基础间隔
		ReconnectMax      time.Duration // 重连退避上限
		StateKeyPrefix    string        // Redis 在线状态键前缀
	}

	// 命令关联配置
	Command struct {
		DefaultTimeout time.Duration // 命令默认等待回复时间
	}

	// 告警摄取配置
	Ingest struct {
		DedupWindow   time.Duration // 去重窗口
		DedupPrefix   string        // Redis 去重键前缀
		VideoTTL      time.Duration // VideoId 关联缓存保留时间
		VideoPrefix   string        // Redis VideoId 键前缀
		QueueSize     int           // 下游投递重试队列容量
		Workers       int           // 重试工作协程数
		MaxRetries    int           // 投递最大重试次数
		BackoffBase   time.Duration // 投递退避基础间隔
		BackoffMax    time.Duration // 投递退避上限
		MaxUploadSize int64         // 视频上传大小限制（字节）
	}

	// 对象存储配置
	Storage struct {
		Endpoint string
		Bucket   string
		Timeout  time.Duration
	}

	// 下游告警通知配置
	Notify struct {
		Enabled  bool
		Endpoint string
		Path     string
		Timeout  time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "aibox")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "aibox-gateway")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Session.HeartbeatInterval = getEnvDuration("SESSION_HEARTBEAT_INTERVAL", 5*time.Second)
	cfg.Session.DegradedAfter = getEnvDuration("SESSION_DEGRADED_AFTER", 15*time.Second)
	cfg.Session.OfflineAfter = getEnvDuration("SESSION_OFFLINE_AFTER", 15*time.Second)
	cfg.Session.ReconnectBase = getEnvDuration("SESSION_RECONNECT_BASE", 2*time.Second)
	cfg.Session.ReconnectMax = getEnvDuration("SESSION_RECONNECT_MAX", 60*time.Second)
	cfg.Session.StateKeyPrefix = getEnv("SESSION_STATE_PREFIX", "aibox:board:")

	cfg.Command.DefaultTimeout = getEnvDuration("COMMAND_TIMEOUT", 30*time.Second)

	cfg.Ingest.DedupWindow = getEnvDuration("INGEST_DEDUP_WINDOW", 60*time.Second)
	cfg.Ingest.DedupPrefix = getEnv("INGEST_DEDUP_PREFIX", "aibox:alarm:dedup:")
	cfg.Ingest.VideoTTL = getEnvDuration("INGEST_VIDEO_TTL", 10*time.Minute)
	cfg.Ingest.VideoPrefix = getEnv("INGEST_VIDEO_PREFIX", "aibox:video:")
	cfg.Ingest.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 1024)
	cfg.Ingest.Workers = getEnvInt("INGEST_WORKERS", 4)
	cfg.Ingest.MaxRetries = getEnvInt("INGEST_MAX_RETRIES", 5)
	cfg.Ingest.BackoffBase = getEnvDuration("INGEST_BACKOFF_BASE", 2*time.Second)
	cfg.Ingest.BackoffMax = getEnvDuration("INGEST_BACKOFF_MAX", 60*time.Second)
	cfg.Ingest.MaxUploadSize = int64(getEnvInt("INGEST_MAX_UPLOAD_MB", 64)) * 1024 * 1024

	cfg.Storage.Endpoint = getEnv("STORAGE_ENDPOINT", "http://localhost:9000")
	cfg.Storage.Bucket = getEnv("STORAGE_BUCKET", "aibox-media")
	cfg.Storage.Timeout = getEnvDuration("STORAGE_TIMEOUT", 30*time.Second)

	cfg.Notify.Enabled = getEnv("NOTIFY_ENABLED", "false") == "true"
	cfg.Notify.Endpoint = getEnv("NOTIFY_ENDPOINT", "")
	cfg.Notify.Path = getEnv("NOTIFY_PATH", "/api/alarm_notify")
	cfg.Notify.Timeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
