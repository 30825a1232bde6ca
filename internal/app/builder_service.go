package app

import (
	"fmt"
	"path/filepath"

	tlcfg "tradeloop/internal/config"
	"tradeloop/internal/learning"
	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/metrics"
	"tradeloop/internal/learning/state"
	"tradeloop/internal/logger"
	"tradeloop/internal/store/gormstore"
	adminhttp "tradeloop/internal/transport/http/admin"
)

func buildJournal(cfg tlcfg.JournalConfig) (*gormstore.GormStore, error) {
	st, err := gormstore.NewGormStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化交易日志失败: %w", err)
	}
	path := cfg.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	logger.Infof("✓ 交易日志写入 %s", path)
	return st, nil
}

func buildLearner(cfg tlcfg.LearningConfig, journal learning.Journal) (*learning.Learner, error) {
	fs, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("初始化学习状态存储失败: %w", err)
	}
	var opts []learning.Option
	if journal != nil {
		opts = append(opts, learning.WithJournal(journal))
	}
	return learning.New(learningConfig(cfg), fs, opts...)
}

func learningConfig(cfg tlcfg.LearningConfig) learning.Config {
	r := cfg.Rules
	return learning.Config{
		Metrics: metrics.Config{
			HistoryCap:      cfg.HistoryCap,
			OvershootWeight: r.OvershootWeight,
			FavorableWeight: r.FavorableWeight,
		},
		Rules: adjust.Rules{
			MinTrades:         cfg.MinTrades,
			RecentWindow:      cfg.RecentWindow,
			PrecisionWindow:   cfg.PrecisionWindow,
			RerankInterval:    cfg.RerankInterval,
			WinRateSevere:     r.WinRateSevere,
			WinRateLow:        r.WinRateLow,
			WinRateHigh:       r.WinRateHigh,
			WinRateExcellent:  r.WinRateExcellent,
			ConfSevereStep:     r.ConfSevereStep,
			ConfSevereCap:      r.ConfSevereCap,
			ConfLowStep:        r.ConfLowStep,
			ConfLowCap:         r.ConfLowCap,
			ConfHighStep:       r.ConfHighStep,
			ConfHighFloor:      r.ConfHighFloor,
			ConfExcellentStep:  r.ConfExcellentStep,
			ConfExcellentFloor: r.ConfExcellentFloor,
			LossStreakTrigger: r.LossStreakTrigger,
			LossStreakBump:    r.LossStreakBump,
			RiskVolHigh:       r.RiskVolHigh,
			RiskVolElevated:   r.RiskVolElevated,
			RiskVolCalm:       r.RiskVolCalm,
			RiskHigh:          r.RiskHigh,
			RiskElevated:      r.RiskElevated,
			RiskCalm:          r.RiskCalm,
			RiskNeutral:       r.RiskNeutral,
			TPPrecisionPoor:   r.TPPrecisionPoor,
			TPPrecisionLow:    r.TPPrecisionLow,
			TPPrecisionHigh:   r.TPPrecisionHigh,
			TPPoorFloor:       r.TPPoorFloor,
			TPLowFloor:        r.TPLowFloor,
			TPStep:            r.TPStep,
			TPCeiling:         r.TPCeiling,
			TPOvershootScale:  r.TPOvershootScale,
			EntryTierLow:      r.EntryTierLow,
			EntryTierHigh:     r.EntryTierHigh,
			EntryRecoverBelow: r.EntryRecoverBelow,
			EntryStep:         r.EntryStep,
			EntryRecoverStep:  r.EntryRecoverStep,
			SLTierLow:         r.SLTierLow,
			SLTierHigh:        r.SLTierHigh,
			SLStep:            r.SLStep,
			SLTightenBelow:    r.SLTightenBelow,
			SLTightenAccuracy: r.SLTightenAccuracy,
			SLTightenStep:     r.SLTightenStep,
			PoorWinRate:       r.PoorWinRate,
			ExcellentWinRate:  r.ExcellentWinRate,
			LimitNudge:        r.LimitNudge,
		},
		Bounds: learningBounds(cfg.Bounds),
	}
}

func learningBounds(b tlcfg.LearningBounds) adjust.Bounds {
	conv := func(r tlcfg.Range) adjust.Range { return adjust.Range{Min: r.Min, Max: r.Max} }
	return adjust.Bounds{
		ConfidenceThreshold: conv(b.ConfidenceThreshold),
		EntryFactor:         conv(b.EntryFactor),
		SLFactor:            conv(b.SLFactor),
		TPFactor:            conv(b.TPFactor),
		RiskMultiplier:      conv(b.RiskMultiplier),
		SentimentReturn:     conv(b.SentimentReturn),
		NewsImpact:          conv(b.NewsImpact),
		MaxNewsBonus:        conv(b.MaxNewsBonus),
		LeverageCap:         conv(b.LeverageCap),
		DailyRiskLimit:      conv(b.DailyRiskLimit),
		SourceWeight:        conv(b.SourceWeight),
	}
}

func buildAdminHTTPServer(cfg adminhttp.ServerConfig) (*adminhttp.Server, error) {
	server, err := adminhttp.NewServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化管理接口失败: %w", err)
	}
	logger.Infof("✓ 管理接口监听 %s", server.Addr())
	return server, nil
}
