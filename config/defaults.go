// =============================================================================
// 📦 AdvisorFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Handoff:   DefaultHandoffConfig(),
		Queue:     DefaultQueueConfig(),
		Notify:    DefaultNotifyConfig(),
		JWT:       DefaultJWTConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "advisorflow:",
		CacheTTL:     5 * time.Minute,
	}
}

// DefaultHandoffConfig 返回默认转接流程配置
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		MaxQueueSize:    100,
		RequestTTL:      30 * time.Minute,
		MaxTTLHorizon:   7 * 24 * time.Hour,
		SweepInterval:   time.Minute,
		RecordRetention: 24 * time.Hour,
	}
}

// DefaultQueueConfig 返回默认消息队列配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Stream:        "advisorflow:queue:messages",
		Group:         "advisorflow-workers",
		Consumer:      "",
		BatchSize:     16,
		BlockTimeout:  2 * time.Second,
		ClaimIdle:     30 * time.Second,
		MaxRetries:    3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 30 * time.Second,
		DedupeWindow:  10 * time.Minute,
	}
}

// DefaultNotifyConfig 返回默认实时推送配置
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		SendTimeout:   5 * time.Second,
		StaleAfter:    10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// DefaultJWTConfig 返回默认认证配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:   "",
		Issuer:   "advisorflow",
		Audience: "advisorflow-api",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "advisorflow",
		SampleRate:   0.1,
	}
}
