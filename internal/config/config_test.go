package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeYAML(t *testing.T, dir, name string, doc map[string]any) string {
	t.Helper()
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func baseDoc() map[string]any {
	return map[string]any{
		"llm": map[string]any{
			"primary": "groq",
			"providers": []any{
				map[string]any{"id": "groq", "base_url": "https://api.groq.com/openai/v1", "model": "llama-3.1-70b", "requires_auth": true, "api_key": "k1"},
				map[string]any{"id": "llm7", "base_url": "https://api.llm7.io/v1", "model": "gpt-4o-mini", "response_shape": "response"},
			},
			"quotas": []any{
				map[string]any{"provider": "groq", "model": "llama-3.1-70b", "per_day": 14400, "per_minute": 30},
			},
		},
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", baseDoc())

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.85, cfg.LLM.SafetyBuffer)
	assert.Equal(t, 1000, cfg.LLM.DefaultBudget.PerDay)
	assert.Equal(t, 100, cfg.LLM.DefaultBudget.PerHour)
	assert.Equal(t, 10, cfg.LLM.DefaultBudget.PerMinute)
	assert.Equal(t, 2, cfg.LLM.Retry.MaxRetriesPerProvider)
	assert.True(t, cfg.LLM.Breaker.Enabled)
	assert.Equal(t, "choices", cfg.LLM.Providers[0].ResponseShape)
	assert.Equal(t, "response", cfg.LLM.Providers[1].ResponseShape)
	assert.Equal(t, "groq", cfg.LLM.Providers[0].Name)

	assert.Equal(t, 50, cfg.Learning.HistoryCap)
	assert.Equal(t, 10, cfg.Learning.MinTrades)
	assert.Equal(t, 20, cfg.Learning.RerankInterval)
	assert.Equal(t, 0.30, cfg.Learning.Rules.SLTierHigh)
	assert.Equal(t, 0.35, cfg.Learning.Rules.WinRateSevere)
	assert.Equal(t, 0.65, cfg.Learning.Rules.WinRateExcellent)
	assert.Equal(t, 0.08, cfg.Learning.Rules.ConfSevereStep)
	assert.Equal(t, 0.15, cfg.Learning.Rules.RiskVolHigh)
	assert.Equal(t, 1.0, cfg.Learning.Rules.RiskNeutral)
	assert.Equal(t, 0.70, cfg.Learning.Rules.TPPrecisionPoor)
	assert.Equal(t, 0.8, cfg.Learning.Rules.TPOvershootScale)
	assert.Equal(t, Range{Min: 0.7, Max: 1.6}, cfg.Learning.Bounds.SLFactor)
	assert.Equal(t, 120, cfg.Monitor.CeilingMinutes)
	assert.Equal(t, "data/journal.db", cfg.Journal.Path)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	doc := baseDoc()
	llm := doc["llm"].(map[string]any)
	llm["safety_buffer"] = 0.5
	llm["default_budget"] = map[string]any{"per_minute": 0}
	doc["monitor"] = map[string]any{"enabled": false}
	path := writeYAML(t, dir, "config.yaml", doc)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.LLM.SafetyBuffer)
	assert.Equal(t, 0, cfg.LLM.DefaultBudget.PerMinute, "explicit zero keeps the window unlimited")
	assert.Equal(t, 1000, cfg.LLM.DefaultBudget.PerDay)
	assert.False(t, cfg.Monitor.Enabled)
}

func TestLoad_RuleOverrides(t *testing.T) {
	doc := baseDoc()
	doc["learning"] = map[string]any{"rules": map[string]any{
		"conf_severe_step":  0.12,
		"risk_neutral":      0.9,
		"tp_precision_high": 1.5,
	}}
	cfg, err := Load(writeYAML(t, t.TempDir(), "c.yaml", doc))
	require.NoError(t, err)
	assert.Equal(t, 0.12, cfg.Learning.Rules.ConfSevereStep)
	assert.Equal(t, 0.9, cfg.Learning.Rules.RiskNeutral)
	assert.Equal(t, 1.5, cfg.Learning.Rules.TPPrecisionHigh)
	assert.Equal(t, 0.05, cfg.Learning.Rules.ConfLowStep)
}

func TestLoad_Includes(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "providers.yaml", baseDoc())
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"include": []any{"providers.yaml"},
		"app":     map[string]any{"log_level": "debug"},
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Len(t, cfg.LLM.Providers, 2)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "a.yaml", map[string]any{"include": []any{"b.yaml"}})
	path := writeYAML(t, dir, "b.yaml", map[string]any{"include": []any{"a.yaml"}})

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_Validation(t *testing.T) {
	t.Run("unknown primary", func(t *testing.T) {
		doc := baseDoc()
		doc["llm"].(map[string]any)["primary"] = "missing"
		_, err := Load(writeYAML(t, t.TempDir(), "c.yaml", doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.primary")
	})
	t.Run("bad response shape", func(t *testing.T) {
		doc := baseDoc()
		providers := doc["llm"].(map[string]any)["providers"].([]any)
		providers[1].(map[string]any)["response_shape"] = "guess"
		_, err := Load(writeYAML(t, t.TempDir(), "c.yaml", doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "response_shape")
	})
	t.Run("inverted bounds", func(t *testing.T) {
		doc := baseDoc()
		doc["learning"] = map[string]any{"bounds": map[string]any{"tp_factor": map[string]any{"min": 2.0, "max": 1.0}}}
		_, err := Load(writeYAML(t, t.TempDir(), "c.yaml", doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tp_factor")
	})
	t.Run("risk tiers out of order", func(t *testing.T) {
		doc := baseDoc()
		doc["learning"] = map[string]any{"rules": map[string]any{"risk_vol_calm": 0.2}}
		_, err := Load(writeYAML(t, t.TempDir(), "c.yaml", doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "risk_vol")
	})
}

func TestProviderConfig_ResolvedAPIKey(t *testing.T) {
	t.Setenv("TRADELOOP_TEST_KEY", "from-env")
	assert.Equal(t, "explicit", ProviderConfig{APIKey: "explicit", APIKeyEnv: "TRADELOOP_TEST_KEY"}.ResolvedAPIKey())
	assert.Equal(t, "from-env", ProviderConfig{APIKeyEnv: "TRADELOOP_TEST_KEY"}.ResolvedAPIKey())
	assert.Equal(t, "", ProviderConfig{}.ResolvedAPIKey())
}
