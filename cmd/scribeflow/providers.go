// =============================================================================
// 内置服务商注册
// =============================================================================
// 每个服务商在进程启动时显式注册 (service_type, name, metadata, factory)；
// 凭据全部来自环境变量，registry.Discover 只返回凭据齐全的条目。
// =============================================================================
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/asr"
	"github.com/scribeflow/scribeflow/config"
	"github.com/scribeflow/scribeflow/llm/providers/openaicompat"
	"github.com/scribeflow/scribeflow/llmprovider"
	"github.com/scribeflow/scribeflow/providers"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/storage"
)

// registerProviders populates the process-wide catalog with the built-in
// ASR, LLM and storage backends.
func registerProviders(reg *registry.Registry, cfg *config.Config, logger *zap.Logger) {
	registerASRProviders(reg)
	registerLLMProviders(reg, logger)
	registerStorageProviders(reg, cfg.Providers)
}

func registerASRProviders(reg *registry.Registry) {
	reg.Register(registry.Metadata{
		ServiceType:     registry.ServiceASR,
		Name:            "deepgram",
		DisplayName:     "Deepgram",
		RequiredEnvVars: []string{"DEEPGRAM_API_KEY"},
		DefaultModel:    "nova-2",
		CostPerUnit:     0.0043 / 60, // per second of audio
	}, func(overrides registry.Overrides) (any, error) {
		dcfg := asr.DefaultDeepgramConfig()
		dcfg.APIKey = os.Getenv("DEEPGRAM_API_KEY")
		if overrides.ModelID != "" {
			dcfg.Model = overrides.ModelID
		}
		return asr.NewDeepgramProvider(dcfg), nil
	})

	reg.Register(registry.Metadata{
		ServiceType:     registry.ServiceASR,
		Name:            "openai",
		DisplayName:     "OpenAI Whisper",
		RequiredEnvVars: []string{"OPENAI_API_KEY"},
		DefaultModel:    "whisper-1",
		CostPerUnit:     0.006 / 60,
	}, func(overrides registry.Overrides) (any, error) {
		wcfg := asr.DefaultWhisperConfig()
		wcfg.APIKey = os.Getenv("OPENAI_API_KEY")
		if overrides.ModelID != "" {
			wcfg.Model = overrides.ModelID
		}
		return asr.NewOpenAIProvider(wcfg), nil
	})
}

func registerLLMProviders(reg *registry.Registry, logger *zap.Logger) {
	reg.Register(registry.Metadata{
		ServiceType:     registry.ServiceLLM,
		Name:            "anthropic",
		DisplayName:     "Anthropic Claude",
		RequiredEnvVars: []string{"ANTHROPIC_API_KEY"},
		DefaultModel:    "claude-3-5-sonnet-20241022",
		CostPerUnit:     0.003, // per 1K input tokens, informational
	}, func(overrides registry.Overrides) (any, error) {
		if overrides.ModelID == "" {
			return nil, fmt.Errorf("anthropic: model id is required")
		}
		ccfg := providers.ClaudeConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  overrides.ModelID,
		}
		rates := llmprovider.CostRates{InputPer1K: 0.003, OutputPer1K: 0.015}
		return llmprovider.NewClaudeAdapter(ccfg, overrides.ModelID, rates, logger), nil
	})

	reg.Register(registry.Metadata{
		ServiceType:     registry.ServiceLLM,
		Name:            "openai",
		DisplayName:     "OpenAI",
		RequiredEnvVars: []string{"OPENAI_API_KEY"},
		DefaultModel:    "gpt-4o-mini",
		CostPerUnit:     0.00015,
	}, func(overrides registry.Overrides) (any, error) {
		if overrides.ModelID == "" {
			return nil, fmt.Errorf("openai: model id is required")
		}
		ocfg := openaicompat.Config{
			ProviderName: "openai",
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			BaseURL:      "https://api.openai.com",
			DefaultModel: overrides.ModelID,
		}
		rates := llmprovider.CostRates{InputPer1K: 0.00015, OutputPer1K: 0.0006}
		return llmprovider.NewOpenAICompatAdapter(ocfg, overrides.ModelID, rates, logger), nil
	})
}

func registerStorageProviders(reg *registry.Registry, pcfg config.ProvidersConfig) {
	reg.Register(registry.Metadata{
		ServiceType:     registry.ServiceStorage,
		Name:            "minio",
		DisplayName:     "MinIO / S3",
		RequiredEnvVars: []string{"MINIO_ACCESS_KEY", "MINIO_SECRET_KEY"},
	}, func(overrides registry.Overrides) (any, error) {
		return storage.NewMinioProvider(storage.MinioConfig{
			Endpoint:  pcfg.StorageEndpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    pcfg.StorageBucket,
			UseSSL:    pcfg.StorageUseSSL,
			Region:    pcfg.StorageRegion,
		})
	})

	// 内存存储：无凭据要求，本地开发与测试兜底
	mem := storage.NewMemoryProvider()
	reg.Register(registry.Metadata{
		ServiceType: registry.ServiceStorage,
		Name:        "memory",
		DisplayName: "In-Memory (dev only)",
	}, func(overrides registry.Overrides) (any, error) {
		return mem, nil
	})
}

// resolveSourceStorage instantiates the configured ingestion bucket backend.
func resolveSourceStorage(reg *registry.Registry, pcfg config.ProvidersConfig) (storage.Provider, error) {
	driver := pcfg.StorageDriver
	if driver == "" {
		driver = "memory"
	}
	client, err := reg.Instantiate(registry.ServiceStorage, driver, registry.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("instantiate storage %q: %w", driver, err)
	}
	provider, ok := client.(storage.Provider)
	if !ok {
		return nil, fmt.Errorf("storage %q does not implement storage.Provider", driver)
	}
	return provider, nil
}
