package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "aibox", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "aibox-gateway", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 5*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Session.DegradedAfter)
	assert.Equal(t, 15*time.Second, cfg.Session.OfflineAfter)
	assert.Equal(t, 60*time.Second, cfg.Session.ReconnectMax)

	assert.Equal(t, 30*time.Second, cfg.Command.DefaultTimeout)

	assert.Equal(t, 60*time.Second, cfg.Ingest.DedupWindow)
	assert.Equal(t, 1024, cfg.Ingest.QueueSize)
	assert.Equal(t, 5, cfg.Ingest.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Ingest.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Ingest.BackoffMax)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("MQTT_BROKER", "tcp://broker:1883")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("SESSION_DEGRADED_AFTER", "30s")
	os.Setenv("INGEST_MAX_RETRIES", "3")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Session.DegradedAfter)
	assert.Equal(t, 3, cfg.Ingest.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestGetEnvDuration(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, 5*time.Second, getEnvDuration("TEST_DURATION", 5*time.Second))

	os.Setenv("TEST_DURATION", "2m")
	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DURATION", 5*time.Second))

	// 非法值回退默认
	os.Setenv("TEST_DURATION", "not-a-duration")
	assert.Equal(t, 5*time.Second, getEnvDuration("TEST_DURATION", 5*time.Second))

	os.Unsetenv("TEST_DURATION")
}
