package app

import (
	"context"
	"fmt"
	"strings"

	tlcfg "tradeloop/internal/config"
	"tradeloop/internal/learning"
	"tradeloop/internal/llm/dispatch"
	"tradeloop/internal/logger"
	"tradeloop/internal/monitor"
	"tradeloop/internal/store/gormstore"
	adminhttp "tradeloop/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动管理接口与结果校验器。
type App struct {
	cfg      *tlcfg.Config
	engine   *dispatch.Engine
	learner  *learning.Learner
	journal  *gormstore.GormStore
	verifier *monitor.Verifier
	http     *adminhttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *tlcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动管理接口与校验器，直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}
	if a.verifier != nil {
		group.Go(func() error {
			return a.verifier.Run(ctx)
		})
	}
	return group.Wait()
}

// Close 释放持久化资源。
func (a *App) Close() {
	if a == nil || a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		logger.Warnf("close journal failed: %v", err)
	}
}

// Engine 返回调度引擎，供嵌入方与测试使用。
func (a *App) Engine() *dispatch.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Learner 返回参数自适应控制器。
func (a *App) Learner() *learning.Learner {
	if a == nil {
		return nil
	}
	return a.learner
}

func formatProviderSummary(ids []string, primary string) string {
	list := "-"
	if len(ids) > 0 {
		list = strings.Join(ids, ", ")
	}
	if primary == "" {
		primary = "-"
	}
	return strings.Join([]string{
		fmt.Sprintf("provider 数：%d", len(ids)),
		fmt.Sprintf("- 列表：%s", list),
		fmt.Sprintf("- 主 provider：%s", primary),
	}, "\n")
}
