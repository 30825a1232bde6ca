package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/gateway/provider"
	"tradeloop/internal/learning"
	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/llm/dispatch"
	"tradeloop/internal/logger"
	"tradeloop/internal/monitor"

	"github.com/gin-gonic/gin"
)

// ChatService 由 *dispatch.Engine 实现。
type ChatService interface {
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
	Stats() []dispatch.ProviderStats
}

// LearningService 由 *learning.Learner 实现。
type LearningService interface {
	LearnFromTrade(ctx context.Context, o outcome.TradeOutcome) (adjust.StrategyAdjustments, error)
	AdjustedParameters() adjust.StrategyAdjustments
	Summary() learning.PerformanceSummary
}

// TradeQueue 是交易日志中对外暴露的部分。
type TradeQueue interface {
	RegisterTrade(ctx context.Context, trade outcome.Trade) error
	ListPending(ctx context.Context, limit int) ([]outcome.Trade, error)
	RecentOutcomes(ctx context.Context, limit int) ([]outcome.TradeOutcome, error)
}

type VerifierStats interface {
	Stats() monitor.Stats
}

type PriceStats interface {
	Stats() binance.Stats
}

// Server 提供 tradeloop 的管理接口（LLM 调度、学习参数、待验证交易）。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 admin HTTP 服务依赖；Verifier/Prices 可为空。
type ServerConfig struct {
	Addr     string
	Chat     ChatService
	Learning LearningService
	Trades   TradeQueue
	Verifier VerifierStats
	Prices   PriceStats
	// DefaultCeiling 用于未指定观察时长的交易。
	DefaultCeiling time.Duration
}

// NewServer 构建 admin HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil || cfg.Learning == nil || cfg.Trades == nil {
		return nil, errors.New("admin http server requires chat, learning and trade services")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	if cfg.DefaultCeiling <= 0 {
		cfg.DefaultCeiling = outcome.DefaultCeiling
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewRouter(cfg).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 暴露路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// requestLogger 记录接口调用，便于追踪刷新与调用。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("admin http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
