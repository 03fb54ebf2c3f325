package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTOML = `[ai]
profiles_path = "configs/participants.yaml"

[ai.provider_presets.openai]
api_url = "https://api.openai.com/v1"
api_key = "sk-test"

[[ai.models]]
id = "gpt-main"
preset = "openai"
model = "gpt-4o"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", minimalTOML))
	require.NoError(t, err)

	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Venue.Name)
	assert.Equal(t, "https://api.binance.com", cfg.Venue.RESTBaseURL)
	assert.Equal(t, 3, cfg.Council.MaxRounds)
	assert.Equal(t, 2, cfg.Council.MaxResubmissions)
	assert.Equal(t, 30, cfg.Monitor.PollIntervalSeconds)
	assert.InDelta(t, 0.02, cfg.Monitor.TrailingTriggerPct, 1e-9)
	assert.InDelta(t, 100, cfg.Trading.MaxTradeAmountUSD, 1e-9)
	assert.Equal(t, "USDT", cfg.Trading.QuoteCurrency)
	assert.Equal(t, "data/parliament.db", cfg.Store.Path)
}

func TestLoadResolvesPresetIntoModel(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", minimalTOML))
	require.NoError(t, err)

	models := cfg.AI.ResolveModelConfigs()
	require.Len(t, models, 1)
	assert.Equal(t, "https://api.openai.com/v1", models[0].APIURL)
	assert.Equal(t, "sk-test", models[0].APIKey)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	main := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(base, []byte("[trading]\nmax_trade_amount_usd = 250.0\n"), 0o644))
	require.NoError(t, os.WriteFile(main, []byte("include = [\"base.toml\"]\n\n"+minimalTOML), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.InDelta(t, 250, cfg.Trading.MaxTradeAmountUSD, 1e-9)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.toml")
	b := filepath.Join(dir, "b.toml")
	require.NoError(t, os.WriteFile(a, []byte("include = [\"b.toml\"]\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("include = [\"a.toml\"]\n"), 0o644))

	_, err := Load(a)
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"无可用模型", "[app]\nenv = \"dev\"\n"},
		{"模型缺少 api_url", "[[ai.models]]\nid = \"m\"\nmodel = \"gpt\"\n"},
		{"回撤间距大于触发线", minimalTOML + "\n[monitor]\ntrailing_trigger_pct = 0.01\ntrailing_distance_pct = 0.02\n"},
		{"telegram 缺少凭据", minimalTOML + "\n[notify.telegram]\nenabled = true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.toml", tc.content))
			assert.Error(t, err)
		})
	}
}
