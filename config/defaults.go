// =============================================================================
// 📦 ScribeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Queue:     DefaultQueueConfig(),
		Providers: DefaultProvidersConfig(),
		Selector:  DefaultSelectorConfig(),
		CostLog:   DefaultCostLogConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		GRPCPort:        9090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultQueueConfig 返回默认流水线调度配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerConcurrency: 4,
		PollInterval:      2 * time.Second,
		MaxDownloadBytes:  500 * 1024 * 1024,
		StageDeadline:     0, // 0 = per-stage defaults
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
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "scribeflow",
		Password:        "",
		Name:            "scribeflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultProvidersConfig 返回默认对象存储参数
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		StorageDriver:   "memory",
		StorageEndpoint: "localhost:9000",
		StorageBucket:   "scribeflow",
		StorageUseSSL:   false,
		StorageRegion:   "us-east-1",
	}
}

// DefaultSelectorConfig 返回默认选择策略配置
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		DefaultStrategy: "balanced",
	}
}

// DefaultCostLogConfig 返回默认用量日志配置
func DefaultCostLogConfig() CostLogConfig {
	return CostLogConfig{
		Driver:          "gorm",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "scribeflow",
		MongoCollection: "usage_records",
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
		ServiceName:  "scribeflow",
		SampleRate:   0.1,
	}
}
