// =============================================================================
// 📦 herd 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Herd:      DefaultHerdConfig(),
		Queue:     DefaultQueueConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultHerdConfig 返回默认编排引擎配置
func DefaultHerdConfig() HerdConfig {
	return HerdConfig{
		Namespace:       "herd",
		Concurrency:     5,
		TTL:             23*time.Hour + 30*time.Minute,
		LockingDuration: 2 * time.Second,
		PollingInterval: 300 * time.Millisecond,
		LockRetries:     30,
		DispatchDelay:   5 * time.Second,
		IDRetries:       100,
	}
}

// DefaultQueueConfig 返回默认队列适配器配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		VisibilityTimeout: 5 * time.Minute,
		MaxDeliveries:     25,
		RetryBackoff:      15 * time.Second,
		PollRate:          20,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           1,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "herd",
		Password:        "",
		Name:            "herd",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
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
		ServiceName:  "herd",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标端点配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:         true,
		Addr:            ":9091",
		Namespace:       "herd",
		ShutdownTimeout: 15 * time.Second,
	}
}
