package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"tradeloop/internal/gateway/provider"
	"tradeloop/internal/llm/health"
	"tradeloop/internal/llm/usage"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/circuit"

	"github.com/google/uuid"
)

// DefaultSystemPrompt 用于只给出单条 prompt 的调用。
const DefaultSystemPrompt = "You are a helpful cryptocurrency analysis assistant."

// Chatter 发起一次 provider 调用（*provider.Client 实现）。
type Chatter interface {
	Chat(ctx context.Context, p provider.Provider, req provider.ChatRequest) (provider.Reply, error)
}

type Config struct {
	// MaxRetriesPerProvider 是每个 provider 的最大尝试次数（含首次）。
	MaxRetriesPerProvider int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	Timeout               time.Duration
	BreakerEnabled        bool
	BreakerThreshold      int
	BreakerCooldown       time.Duration
	// PrimaryTolerance 见 health.NewRegistry。
	PrimaryTolerance float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetriesPerProvider <= 0 {
		c.MaxRetriesPerProvider = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Engine 按健康度顺序在多个 provider 间故障转移，并负责配额记账与健康统计。
type Engine struct {
	cfg       Config
	client    Chatter
	ledger    *usage.Ledger
	health    *health.Registry
	providers map[string]provider.Provider
	ids       []string
	breakers  map[string]*circuit.CircuitBreaker
	sleep     func(context.Context, time.Duration) error
}

type Option func(*Engine)

// WithSleep 替换退避等待函数（测试用）。
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func NewEngine(cfg Config, providers []provider.Provider, client Chatter, ledger *usage.Ledger, opts ...Option) (*Engine, error) {
	if len(providers) == 0 {
		return nil, errors.New("dispatch engine requires at least one provider")
	}
	if client == nil || ledger == nil {
		return nil, errors.New("dispatch engine requires client and usage ledger")
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		client:    client,
		ledger:    ledger,
		providers: make(map[string]provider.Provider, len(providers)),
		breakers:  make(map[string]*circuit.CircuitBreaker),
		sleep:     sleepCtx,
	}
	candidates := make([]health.Candidate, 0, len(providers))
	for _, p := range providers {
		if _, dup := e.providers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %s", p.ID)
		}
		e.providers[p.ID] = p
		e.ids = append(e.ids, p.ID)
		candidates = append(candidates, health.Candidate{ID: p.ID, Primary: p.Primary, HasCredentials: p.HasCredentials()})
		if !p.HasCredentials() {
			logger.Warnf("dispatch: provider %s requires auth but has no api key, excluded", p.ID)
		}
		if cfg.BreakerEnabled {
			e.breakers[p.ID] = circuit.NewCircuitBreaker("llm:"+p.ID, cfg.BreakerThreshold, cfg.BreakerCooldown)
		}
	}
	e.health = health.NewRegistry(candidates, cfg.PrimaryTolerance)
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// PromptMessages 把单条 prompt 包装为 system + user 两条消息。
func PromptMessages(system, prompt string) []provider.Message {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
}

// Chat 依次尝试健康度排序后的 provider，返回第一个成功的规范化文本。
// 所有候选都失败时返回 *provider.DispatchError，列出每个 provider 的失败原因。
func (e *Engine) Chat(ctx context.Context, req provider.ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("chat request requires at least one message")
	}
	maxAttempts := req.MaxRetriesPerProvider
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxRetriesPerProvider
	}
	timeout := e.cfg.Timeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	traceID := uuid.NewString()[:8]
	e.dumpRequest(traceID, req)

	order := e.health.Order()
	failures := make([]provider.Failure, 0, len(order))
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("chat abandoned after %d provider(s): %w", len(failures), err)
		}
		p := e.providers[id]
		log := logger.With("provider", p.ID, "model", p.Model, "trace", traceID)

		if br := e.breakers[id]; br != nil && !br.Allow() {
			err := &provider.CallError{Kind: provider.KindCircuitOpen, Provider: id,
				Message: fmt.Sprintf("cooling down for %s", br.RetryAfter().Round(time.Second))}
			log.Info("skip provider, circuit open")
			failures = append(failures, provider.Failure{Provider: id, Err: err})
			continue
		}
		// 主 provider 即使接近配额也放行，让上游的 429 给出权威信号。
		if !p.Primary {
			if ok, reason := e.ledger.CheckBudget(p.ID, p.Model); !ok {
				log.Warn("skip provider, budget exhausted", "reason", reason)
				failures = append(failures, provider.Failure{Provider: id,
					Err: &provider.CallError{Kind: provider.KindBudget, Provider: id, Message: reason}})
				continue
			}
		}

		reply, attempts, err := e.tryProvider(ctx, p, req, maxAttempts, timeout, traceID)
		if err == nil {
			if rerr := e.ledger.RecordRequest(p.ID, p.Model); rerr != nil {
				log.Warn("usage ledger persistence failed", "err", rerr)
			}
			e.health.MarkSuccess(p.ID, reply.Latency)
			if br := e.breakers[id]; br != nil {
				br.RecordSuccess()
			}
			log.Info("provider responded", "latency", reply.Latency.Round(time.Millisecond), "attempts", attempts)
			logger.LogLLMResponse(p.ID, traceID, reply.Raw)
			return reply.Text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("chat abandoned during %s: %w", p.ID, ctxErr)
		}
		e.health.MarkError(p.ID, err.Error())
		if br := e.breakers[id]; br != nil {
			br.RecordFailure()
		}
		log.Warn("provider failed", "attempts", attempts, "kind", provider.KindOf(err), "err", err)
		logger.LogLLMFailure(p.ID, traceID, err.Error())
		failures = append(failures, provider.Failure{Provider: id, Attempts: attempts, Err: err})
	}
	derr := &provider.DispatchError{Failures: failures}
	logger.Errorf("%s", derr.Error())
	return "", derr
}

// tryProvider 在单个 provider 上执行带退避的重试循环。
// Transport / Malformed / 5xx 重试；401/403/429 立即放弃该 provider。
func (e *Engine) tryProvider(ctx context.Context, p provider.Provider, req provider.ChatRequest, maxAttempts int, timeout time.Duration, traceID string) (provider.Reply, int, error) {
	bo := newBackoff(e.cfg.BaseDelay, e.cfg.MaxDelay)
	for {
		reply, err := e.attempt(ctx, p, req, timeout)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Reply{}, bo.attempt + 1, ctxErr
		}
		if err == nil {
			return reply, bo.attempt + 1, nil
		}
		var ce *provider.CallError
		if !errors.As(err, &ce) {
			ce = &provider.CallError{Kind: provider.KindTransport, Provider: p.ID, Message: err.Error(), Err: err}
		}
		if !ce.Retryable() || bo.attempt+1 >= maxAttempts {
			return provider.Reply{}, bo.attempt + 1, ce
		}
		delay := bo.step()
		logger.Debugf("dispatch[%s]: %s attempt %d/%d failed (%v), retry in %s", traceID, p.ID, bo.attempt, maxAttempts, ce, delay)
		if err := e.sleep(ctx, delay); err != nil {
			return provider.Reply{}, bo.attempt, err
		}
	}
}

type attemptResult struct {
	reply provider.Reply
	err   error
}

// attempt 发起单次调用。单次超时不继承调用方的取消；
// 调用方放弃时立即返回，进行中的请求在后台跑完，结果丢弃。
func (e *Engine) attempt(ctx context.Context, p provider.Provider, req provider.ChatRequest, timeout time.Duration) (provider.Reply, error) {
	done := make(chan attemptResult, 1)
	go func() {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		reply, err := e.client.Chat(attemptCtx, p, req)
		done <- attemptResult{reply: reply, err: err}
	}()
	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return provider.Reply{}, ctx.Err()
	}
}

func (e *Engine) dumpRequest(traceID string, req provider.ChatRequest) {
	msgs := make([]logger.LLMMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, logger.LLMMessage{Role: m.Role, Content: m.Content})
	}
	payload, _ := json.Marshal(struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}{req.Temperature, req.MaxTokens})
	logger.LogLLMRequest("dispatch", traceID, msgs, string(payload))
}

// ProviderStats 汇总单个 provider 的健康、熔断与配额状态。
type ProviderStats struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Model        string          `json:"model"`
	Primary      bool            `json:"primary"`
	Eligible     bool            `json:"eligible"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	ErrorRate    float64         `json:"error_rate"`
	AvgLatencyMs int64           `json:"avg_latency_ms"`
	LastError    string          `json:"last_error,omitempty"`
	Circuit      string          `json:"circuit"`
	Budget       usage.Remaining `json:"budget"`
}

// Stats 按配置顺序返回所有 provider 的状态快照。
func (e *Engine) Stats() []ProviderStats {
	snap := e.health.Snapshot()
	out := make([]ProviderStats, 0, len(e.ids))
	for _, id := range e.ids {
		p := e.providers[id]
		st := snap[id]
		circuitState := "disabled"
		if br := e.breakers[id]; br != nil {
			circuitState = br.State().String()
		}
		out = append(out, ProviderStats{
			ID:           id,
			Name:         p.Name,
			Model:        p.Model,
			Primary:      p.Primary,
			Eligible:     p.HasCredentials(),
			SuccessCount: st.SuccessCount,
			ErrorCount:   st.ErrorCount,
			ErrorRate:    st.ErrorRate(),
			AvgLatencyMs: st.AvgLatency().Milliseconds(),
			LastError:    st.LastError,
			Circuit:      circuitState,
			Budget:       e.ledger.Remaining(p.ID, p.Model),
		})
	}
	return out
}

// Order 返回当前调度顺序（只读视图）。
func (e *Engine) Order() []string {
	return e.health.Order()
}

// Providers 返回已配置的 provider ID（有序）。
func (e *Engine) Providers() []string {
	out := append([]string(nil), e.ids...)
	sort.Strings(out)
	return out
}
