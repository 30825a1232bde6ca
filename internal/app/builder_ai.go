package app

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	tlcfg "tradeloop/internal/config"
	"tradeloop/internal/gateway/provider"
	"tradeloop/internal/llm/dispatch"
	"tradeloop/internal/llm/usage"
	"tradeloop/internal/logger"
)

func buildDispatchEngine(cfg tlcfg.LLMConfig) (*dispatch.Engine, error) {
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	ledger := usage.NewLedger(ledgerOptions(cfg))
	usagePath := cfg.UsageFile
	if abs, err := filepath.Abs(usagePath); err == nil {
		usagePath = abs
	}
	logger.Infof("✓ LLM 用量账本写入 %s", usagePath)

	client := provider.NewClient(&http.Client{})
	engine, err := dispatch.NewEngine(dispatchConfig(cfg), providers, client, ledger)
	if err != nil {
		return nil, fmt.Errorf("初始化 LLM 调度失败: %w", err)
	}
	return engine, nil
}

// buildProviders 把配置转换为不可变的 provider 列表；未指定 primary 时取第一个启用的 provider。
func buildProviders(cfg tlcfg.LLMConfig) ([]provider.Provider, error) {
	primary := strings.TrimSpace(cfg.Primary)
	out := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if pc.Disabled {
			logger.Infof("LLM provider %s disabled by config", pc.ID)
			continue
		}
		shape, err := provider.ParseResponseShape(pc.ResponseShape)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.ID, err)
		}
		if primary == "" {
			primary = pc.ID
		}
		out = append(out, provider.Provider{
			ID:           pc.ID,
			Name:         pc.Name,
			BaseURL:      pc.BaseURL,
			Model:        pc.Model,
			APIKey:       pc.ResolvedAPIKey(),
			RequiresAuth: pc.RequiresAuth,
			Primary:      pc.ID == primary,
			Shape:        shape,
			ExtraHeaders: pc.Headers,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled llm provider")
	}
	return out, nil
}

func ledgerOptions(cfg tlcfg.LLMConfig) usage.Options {
	quotas := make(map[usage.Key]usage.Quota, len(cfg.Quotas))
	for _, q := range cfg.Quotas {
		key := usage.Key{Provider: strings.TrimSpace(q.Provider), Model: strings.TrimSpace(q.Model)}
		quotas[key] = usage.Quota{PerDay: q.PerDay, PerHour: q.PerHour, PerMinute: q.PerMinute}
	}
	return usage.Options{
		Path:         cfg.UsageFile,
		SafetyBuffer: cfg.SafetyBuffer,
		Default: usage.Quota{
			PerDay:    cfg.DefaultBudget.PerDay,
			PerHour:   cfg.DefaultBudget.PerHour,
			PerMinute: cfg.DefaultBudget.PerMinute,
		},
		Quotas: quotas,
	}
}

func dispatchConfig(cfg tlcfg.LLMConfig) dispatch.Config {
	return dispatch.Config{
		MaxRetriesPerProvider: cfg.Retry.MaxRetriesPerProvider,
		BaseDelay:             cfg.Retry.BaseDelay(),
		MaxDelay:              cfg.Retry.MaxDelay(),
		Timeout:               cfg.Retry.Timeout(),
		BreakerEnabled:        cfg.Breaker.Enabled,
		BreakerThreshold:      cfg.Breaker.FailureThreshold,
		BreakerCooldown:       time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		PrimaryTolerance:      cfg.PrimaryTolerance,
	}
}
