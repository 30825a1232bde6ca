package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tlcfg "tradeloop/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadTestConfig(t *testing.T, monitorOn bool) *tlcfg.Config {
	t.Helper()
	dir := t.TempDir()
	doc := map[string]any{
		"app": map[string]any{"http_addr": "127.0.0.1:0", "log_level": "warn"},
		"llm": map[string]any{
			"usage_file": filepath.Join(dir, "usage.json"),
			"providers": []any{
				map[string]any{"id": "groq", "base_url": "https://api.groq.com/openai/v1", "model": "llama-3.1-70b", "requires_auth": true, "api_key": "k"},
				map[string]any{"id": "off", "base_url": "http://127.0.0.1:1", "model": "m", "disabled": true},
				map[string]any{"id": "llm7", "base_url": "https://api.llm7.io/v1", "model": "gpt-4o-mini", "response_shape": "response"},
			},
			"quotas": []any{
				map[string]any{"provider": "groq", "model": "llama-3.1-70b", "per_day": 14400, "per_minute": 30},
			},
			"breaker": map[string]any{"cooldown_seconds": 45},
		},
		"learning": map[string]any{
			"state_file": filepath.Join(dir, "state.json"),
			"rules":      map[string]any{"win_rate_low": 0.42, "tp_step": 0.07},
			"bounds":     map[string]any{"leverage_cap": map[string]any{"min": 2, "max": 10}},
		},
		"monitor": map[string]any{"enabled": monitorOn, "poll_interval": "30s"},
		"journal": map[string]any{"path": filepath.Join(dir, "db", "journal.db")},
	}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	cfg, err := tlcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildProviders(t *testing.T) {
	cfg := loadTestConfig(t, false)
	providers, err := buildProviders(cfg.LLM)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "groq", providers[0].ID)
	assert.True(t, providers[0].Primary, "first enabled provider is primary when none is configured")
	assert.False(t, providers[1].Primary)
	assert.Equal(t, "response", string(providers[1].Shape))

	cfg.LLM.Primary = "llm7"
	providers, err = buildProviders(cfg.LLM)
	require.NoError(t, err)
	assert.False(t, providers[0].Primary)
	assert.True(t, providers[1].Primary)
}

func TestConfigMapping(t *testing.T) {
	cfg := loadTestConfig(t, false)

	dc := dispatchConfig(cfg.LLM)
	assert.Equal(t, time.Second, dc.BaseDelay)
	assert.Equal(t, 30*time.Second, dc.MaxDelay)
	assert.Equal(t, 45*time.Second, dc.BreakerCooldown)
	assert.Equal(t, 0.1, dc.PrimaryTolerance)

	lo := ledgerOptions(cfg.LLM)
	assert.Equal(t, 0.85, lo.SafetyBuffer)
	assert.Len(t, lo.Quotas, 1)
	assert.Equal(t, 1000, lo.Default.PerDay)

	lc := learningConfig(cfg.Learning)
	assert.Equal(t, 0.42, lc.Rules.WinRateLow)
	assert.Equal(t, 0.35, lc.Rules.WinRateSevere)
	assert.Equal(t, 0.07, lc.Rules.TPStep)
	assert.Equal(t, 0.6, lc.Rules.ConfSevereCap)
	assert.Equal(t, 0.8, lc.Rules.RiskElevated)
	assert.Equal(t, 50, lc.Metrics.HistoryCap)
	assert.Equal(t, 2.0, lc.Bounds.LeverageCap.Min)
	assert.Equal(t, 10.0, lc.Bounds.LeverageCap.Max)
	assert.Equal(t, 0.7, lc.Bounds.ConfidenceThreshold.Max)
}

func TestAppBuilder_Build(t *testing.T) {
	t.Run("monitor disabled", func(t *testing.T) {
		cfg := loadTestConfig(t, false)
		app, err := NewAppBuilder(cfg).Build(context.Background())
		require.NoError(t, err)
		defer app.Close()

		assert.Nil(t, app.verifier)
		assert.NotNil(t, app.http)
		assert.Equal(t, []string{"groq", "llm7"}, app.Engine().Providers())
		assert.InDelta(t, 0.3, app.Learner().AdjustedParameters().ConfidenceThreshold, 1e-9)
		assert.Empty(t, app.Summary.Monitor.PollInterval)
	})

	t.Run("monitor enabled", func(t *testing.T) {
		cfg := loadTestConfig(t, true)
		app, err := NewAppBuilder(cfg).Build(context.Background())
		require.NoError(t, err)
		defer app.Close()

		assert.NotNil(t, app.verifier)
		assert.Equal(t, "30s", app.Summary.Monitor.PollInterval)
		assert.Equal(t, "2h0m0s", app.Summary.Monitor.Ceiling)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewAppBuilder(nil).Build(context.Background())
		assert.Error(t, err)
	})
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := loadTestConfig(t, false)
	app, err := NewApp(cfg)
	require.NoError(t, err)
	app.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
