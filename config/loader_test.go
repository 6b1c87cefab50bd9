// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "advisorflow:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)

	// 验证转接流程默认值
	assert.Equal(t, 100, cfg.Handoff.MaxQueueSize)
	assert.Equal(t, 30*time.Minute, cfg.Handoff.RequestTTL)
	assert.Equal(t, time.Minute, cfg.Handoff.SweepInterval)

	// 验证队列默认值
	assert.Equal(t, "advisorflow-workers", cfg.Queue.Group)
	assert.Equal(t, 16, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.RetryBase)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryMaxDelay)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "advisorflow:queue:messages", cfg.Queue.Stream)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

handoff:
  max_queue_size: 5
  request_ttl: 10m

queue:
  stream: "support:messages"
  group: "support-workers"
  max_retries: 7
  retry_base: 1s

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 5, cfg.Handoff.MaxQueueSize)
	assert.Equal(t, 10*time.Minute, cfg.Handoff.RequestTTL)

	assert.Equal(t, "support:messages", cfg.Queue.Stream)
	assert.Equal(t, "support-workers", cfg.Queue.Group)
	assert.Equal(t, 7, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Second, cfg.Queue.RetryBase)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未覆盖的字段保留默认值
	assert.Equal(t, 16, cfg.Queue.BatchSize)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	// 文件不存在时退回默认值，不报错
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [not a map"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("ADVISORFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("ADVISORFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("ADVISORFLOW_QUEUE_MAX_RETRIES", "9")
	t.Setenv("ADVISORFLOW_QUEUE_BLOCK_TIMEOUT", "5s")
	t.Setenv("ADVISORFLOW_TELEMETRY_ENABLED", "true")
	t.Setenv("ADVISORFLOW_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("ADVISORFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/advisorflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 9, cfg.Queue.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Queue.BlockTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/var/log/advisorflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("SUPPORT_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("SUPPORT").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_Validators(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Server.HTTPPort = -1
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Redis.Addr = ""
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Queue.RetryMaxDelay = bad.Queue.RetryBase / 2
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Telemetry.SampleRate = 1.5
	assert.Error(t, bad.Validate())
}

func TestMustLoad(t *testing.T) {
	cfg := MustLoad("")
	require.NotNil(t, cfg)
	assert.Equal(t, "advisorflow", cfg.Telemetry.ServiceName)
}
