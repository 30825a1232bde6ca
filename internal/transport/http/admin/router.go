package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/gateway/provider"
	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/llm/dispatch"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/jsonutil"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Router 挂载 /api 下的管理接口。
type Router struct {
	cfg ServerConfig
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{cfg: cfg}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/llm/chat", r.handleChat)
	group.GET("/llm/stats", r.handleLLMStats)
	group.GET("/learning/parameters", r.handleParameters)
	group.GET("/learning/summary", r.handleSummary)
	group.POST("/learning/trades", r.handleLearnTrade)
	group.GET("/learning/outcomes", r.handleRecentOutcomes)
	group.POST("/trades", r.handleRegisterTrade)
	group.GET("/trades/pending", r.handlePending)
	group.GET("/monitor/stats", r.handleMonitorStats)
}

type chatRequest struct {
	Prompt                string             `json:"prompt"`
	System                string             `json:"system"`
	Messages              []provider.Message `json:"messages"`
	Temperature           *float64           `json:"temperature"`
	MaxTokens             int                `json:"max_tokens"`
	MaxRetriesPerProvider int                `json:"max_retries_per_provider"`
	TimeoutSeconds        int                `json:"timeout_seconds"`
	// ExtractJSON 为 true 时额外返回回复里的第一段 JSON（代码块或首个平衡的 {}）。
	ExtractJSON bool `json:"extract_json"`
}

type failureView struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (r *Router) handleChat(c *gin.Context) {
	var payload chatRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msgs := payload.Messages
	if len(msgs) == 0 && strings.TrimSpace(payload.Prompt) != "" {
		system := strings.TrimSpace(payload.System)
		if system == "" {
			system = dispatch.DefaultSystemPrompt
		}
		msgs = dispatch.PromptMessages(system, payload.Prompt)
	}
	if len(msgs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt 或 messages 必填"})
		return
	}
	req := provider.ChatRequest{
		Messages:              msgs,
		Temperature:           0.3,
		MaxTokens:             payload.MaxTokens,
		MaxRetriesPerProvider: payload.MaxRetriesPerProvider,
		TimeoutSeconds:        payload.TimeoutSeconds,
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	text, err := r.cfg.Chat.Chat(c.Request.Context(), req)
	if err != nil {
		var de *provider.DispatchError
		switch {
		case errors.As(err, &de):
			failures := make([]failureView, 0, len(de.Failures))
			for _, f := range de.Failures {
				view := failureView{Provider: f.Provider, Kind: string(provider.KindOf(f.Err)), Attempts: f.Attempts}
				if f.Err != nil {
					view.Error = f.Err.Error()
				}
				failures = append(failures, view)
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "All LLM providers failed", "failures": failures})
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		default:
			logger.Errorf("[api] llm chat failed ip=%s err=%v", c.ClientIP(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	resp := gin.H{"content": text}
	if payload.ExtractJSON {
		if doc, ok := jsonutil.ExtractJSON(text); ok {
			resp["json"] = json.RawMessage(doc)
		} else {
			resp["json"] = nil
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleLLMStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": r.cfg.Chat.Stats()})
}

func (r *Router) handleParameters(c *gin.Context) {
	c.JSON(http.StatusOK, r.cfg.Learning.AdjustedParameters())
}

func (r *Router) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, r.cfg.Learning.Summary())
}

func (r *Router) handleLearnTrade(c *gin.Context) {
	var o outcome.TradeOutcome
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(o.TradeID) == "" {
		o.TradeID = uuid.NewString()
	}
	o, err := o.Canonical()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	adj, err := r.cfg.Learning.LearnFromTrade(c.Request.Context(), o)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_id": o.TradeID, "adjustments": adj})
}

func (r *Router) handleRecentOutcomes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	outcomes, err := r.cfg.Trades.RecentOutcomes(ctx, limit)
	if err != nil {
		logger.Errorf("[api] recent outcomes failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes, "count": len(outcomes)})
}

type registerTradeRequest struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Direction      string          `json:"direction"`
	Entry          decimal.Decimal `json:"entry"`
	Stop           decimal.Decimal `json:"stop"`
	Target         decimal.Decimal `json:"target"`
	OpenedAt       *time.Time      `json:"opened_at"`
	CeilingMinutes int             `json:"ceiling_minutes"`
	Signals        map[string]int  `json:"signals"`
}

func (r *Router) handleRegisterTrade(c *gin.Context) {
	var payload registerTradeRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := outcome.ParseDirection(payload.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sym := symbol.Canonical(payload.Symbol)
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	trade := outcome.Trade{
		ID:        strings.TrimSpace(payload.ID),
		Symbol:    sym,
		Direction: dir,
		Entry:     payload.Entry,
		Stop:      payload.Stop,
		Target:    payload.Target,
		OpenedAt:  time.Now().UTC(),
		Ceiling:   r.cfg.DefaultCeiling,
		Signals:   payload.Signals,
	}
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if payload.OpenedAt != nil && !payload.OpenedAt.IsZero() {
		trade.OpenedAt = payload.OpenedAt.UTC()
	}
	if payload.CeilingMinutes > 0 {
		trade.Ceiling = time.Duration(payload.CeilingMinutes) * time.Minute
	}
	if err := trade.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.cfg.Trades.RegisterTrade(c.Request.Context(), trade); err != nil {
		if errors.Is(err, store.ErrDuplicateTrade) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] register trade failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade": trade, "deadline": trade.Deadline()})
}

func (r *Router) handlePending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	trades, err := r.cfg.Trades.ListPending(ctx, limit)
	if err != nil {
		logger.Errorf("[api] list pending failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (r *Router) handleMonitorStats(c *gin.Context) {
	resp := gin.H{}
	if r.cfg.Verifier != nil {
		resp["verifier"] = r.cfg.Verifier.Stats()
	}
	if r.cfg.Prices != nil {
		resp["binance"] = r.cfg.Prices.Stats()
	}
	if len(resp) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "校验器未启用"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
