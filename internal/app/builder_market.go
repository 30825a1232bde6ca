package app

import (
	"fmt"
	"time"

	tlcfg "tradeloop/internal/config"
	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/logger"
	"tradeloop/internal/monitor"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store"
)

func buildPriceSource(cfg tlcfg.MonitorConfig) (*binance.Source, error) {
	src, err := binance.New(binance.Config{
		RESTBaseURL: cfg.Binance.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.Binance.HTTPTimeoutSeconds) * time.Second,
		Interval:    cfg.KlineInterval,
		ProxyURL:    cfg.Binance.ProxyURL,
	}, store.NewPriceCache(0))
	if err != nil {
		return nil, fmt.Errorf("初始化 Binance 行情源失败: %w", err)
	}
	logger.Infof("✓ Binance K 线源 %s (周期 %s)", cfg.Binance.RESTBaseURL, cfg.KlineInterval)
	return src, nil
}

func buildVerifier(cfg tlcfg.MonitorConfig, prices monitor.PriceSource, queue monitor.PendingQueue, learner monitor.Learner) (*monitor.Verifier, error) {
	poll, ok := scheduler.ParseIntervalDuration(cfg.PollInterval)
	if !ok {
		return nil, fmt.Errorf("monitor.poll_interval=%q is not a valid interval", cfg.PollInterval)
	}
	v, err := monitor.NewVerifier(monitor.Config{PollInterval: poll}, prices, queue, learner)
	if err != nil {
		return nil, fmt.Errorf("初始化结果校验器失败: %w", err)
	}
	logger.Infof("✓ 结果校验器每 %s 轮询一次，最长观察 %s", poll, cfg.Ceiling())
	return v, nil
}
