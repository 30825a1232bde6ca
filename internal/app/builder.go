package app

import (
	"context"
	"fmt"
	"strings"

	tlcfg "tradeloop/internal/config"
	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/learning"
	"tradeloop/internal/llm/dispatch"
	"tradeloop/internal/logger"
	"tradeloop/internal/monitor"
	"tradeloop/internal/store/gormstore"
	adminhttp "tradeloop/internal/transport/http/admin"
)

type AppBuilder struct {
	cfg *tlcfg.Config

	engineFn   func(tlcfg.LLMConfig) (*dispatch.Engine, error)
	journalFn  func(tlcfg.JournalConfig) (*gormstore.GormStore, error)
	learnerFn  func(tlcfg.LearningConfig, learning.Journal) (*learning.Learner, error)
	sourceFn   func(tlcfg.MonitorConfig) (*binance.Source, error)
	verifierFn func(tlcfg.MonitorConfig, monitor.PriceSource, monitor.PendingQueue, monitor.Learner) (*monitor.Verifier, error)
	adminFn    func(adminhttp.ServerConfig) (*adminhttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithJournalFactory 替换交易日志构建（测试用）。
func WithJournalFactory(fn func(tlcfg.JournalConfig) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.journalFn = fn
		}
	}
}

func NewAppBuilder(cfg *tlcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		engineFn:   buildDispatchEngine,
		journalFn:  buildJournal,
		learnerFn:  buildLearner,
		sourceFn:   buildPriceSource,
		verifierFn: buildVerifier,
		adminFn:    buildAdminHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	engine, err := b.engineFn(cfg.LLM)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ LLM 调度就绪，调度顺序: %v", engine.Order())

	journal, err := b.journalFn(cfg.Journal)
	if err != nil {
		return nil, err
	}
	learner, err := b.learnerFn(cfg.Learning, journal)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	app := &App{cfg: cfg, engine: engine, learner: learner, journal: journal}
	adminCfg := adminhttp.ServerConfig{
		Addr:           cfg.App.HTTPAddr,
		Chat:           engine,
		Learning:       learner,
		Trades:         journal,
		DefaultCeiling: cfg.Monitor.Ceiling(),
	}

	var source *binance.Source
	if cfg.Monitor.Enabled {
		source, err = b.sourceFn(cfg.Monitor)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		verifier, err := b.verifierFn(cfg.Monitor, source, journal, learner)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		app.verifier = verifier
		adminCfg.Verifier = verifier
		adminCfg.Prices = source
	} else {
		logger.Infof("结果校验器未启用，交易结果需通过 /api/learning/trades 回灌")
	}

	server, err := b.adminFn(adminCfg)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	app.http = server
	app.Summary = b.summary(engine, source != nil)
	return app, nil
}

func (b *AppBuilder) summary(engine *dispatch.Engine, monitorOn bool) *StartupSummary {
	cfg := b.cfg
	s := &StartupSummary{
		Providers: formatProviderSummary(engine.Providers(), strings.TrimSpace(cfg.LLM.Primary)),
		Order:     engine.Order(),
		Learning: LearningSummary{
			StateFile:      cfg.Learning.StateFile,
			HistoryCap:     cfg.Learning.HistoryCap,
			MinTrades:      cfg.Learning.MinTrades,
			RerankInterval: cfg.Learning.RerankInterval,
		},
		Journal: cfg.Journal.Path,
		HTTP:    cfg.App.HTTPAddr,
	}
	if monitorOn {
		s.Monitor = MonitorSummary{
			PollInterval:  cfg.Monitor.PollInterval,
			KlineInterval: cfg.Monitor.KlineInterval,
			Ceiling:       cfg.Monitor.Ceiling().String(),
		}
	}
	return s
}
