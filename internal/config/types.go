package config

import (
	"strings"
	"time"
)

// Config 是 Parliament 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Venue   VenueConfig   `toml:"venue"`
	AI      AIConfig      `toml:"ai"`
	Council CouncilConfig `toml:"council"`
	Monitor MonitorConfig `toml:"monitor"`
	Screen  ScreenConfig  `toml:"screen"`
	Trading TradingConfig `toml:"trading"`
	Notify  NotifyConfig  `toml:"notify"`
	Store   StoreConfig   `toml:"store"`
}

type AppConfig struct {
	Env            string `toml:"env"`
	LogLevel       string `toml:"log_level"`
	HTTPAddr       string `toml:"http_addr"`
	LogPath        string `toml:"log_path"`
	TranscriptPath string `toml:"transcript_path"`
	TranscriptDump bool   `toml:"transcript_dump"`
}

// VenueConfig 描述交易所接入方式。
type VenueConfig struct {
	Name           string `toml:"name"`
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	SecretKey      string `toml:"secret_key"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (v VenueConfig) Timeout() time.Duration {
	if v.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// ModelPreset 描述可复用的 API 连接配置。
type ModelPreset struct {
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

// AIModelConfig 代表一个可被参与者绑定的模型条目。
type AIModelConfig struct {
	ID       string            `toml:"id"`
	Preset   string            `toml:"preset"`
	Provider string            `toml:"provider"`
	APIURL   string            `toml:"api_url"`
	APIKey   string            `toml:"api_key"`
	Model    string            `toml:"model"`
	Headers  map[string]string `toml:"headers"`
	Enabled  *bool             `toml:"enabled"`
}

func (m AIModelConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// AIConfig 包含模型条目与参与者 profiles 路径。
type AIConfig struct {
	ProfilesPath    string                 `toml:"profiles_path"`
	TimeoutSeconds  int                    `toml:"timeout_seconds"`
	ProviderPresets map[string]ModelPreset `toml:"provider_presets"`
	Models          []AIModelConfig        `toml:"models"`
}

func (a AIConfig) CallTimeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ResolveModelConfigs 将 preset 合并进每个模型条目。
func (a AIConfig) ResolveModelConfigs() []AIModelConfig {
	out := make([]AIModelConfig, 0, len(a.Models))
	for _, m := range a.Models {
		preset, ok := a.ProviderPresets[strings.TrimSpace(m.Preset)]
		if ok {
			if strings.TrimSpace(m.APIURL) == "" {
				m.APIURL = preset.APIURL
			}
			if strings.TrimSpace(m.APIKey) == "" {
				m.APIKey = preset.APIKey
			}
			if len(m.Headers) == 0 {
				m.Headers = preset.Headers
			}
		}
		out = append(out, m)
	}
	return out
}

// CouncilConfig 控制议事流程的轮次与超时边界。
type CouncilConfig struct {
	MaxRounds          int `toml:"max_rounds"`
	TurnTimeoutSeconds int `toml:"turn_timeout_seconds"`
	MaxResubmissions   int `toml:"max_resubmissions"`
	ContextMessages    int `toml:"context_messages"`
	// ManualVote 置位后提案不自动收票，逐票走命令接口
	ManualVote         bool `toml:"manual_vote"`
	VoteTimeoutSeconds int  `toml:"vote_timeout_seconds"`
}

func (c CouncilConfig) TurnTimeout() time.Duration {
	if c.TurnTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c CouncilConfig) VoteTimeout() time.Duration {
	if c.VoteTimeoutSeconds <= 0 {
		return c.TurnTimeout()
	}
	return time.Duration(c.VoteTimeoutSeconds) * time.Second
}

// MonitorConfig 控制持仓监控循环与自动离场参数。
type MonitorConfig struct {
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	MaxHoldingSeconds   int     `toml:"max_holding_seconds"`
	TrailingTriggerPct  float64 `toml:"trailing_trigger_pct"`
	TrailingDistancePct float64 `toml:"trailing_distance_pct"`
	PartialTPTriggerPct float64 `toml:"partial_tp_trigger_pct"`
	PartialTPRatio      float64 `toml:"partial_tp_ratio"`
	PollFailureWarn     int     `toml:"poll_failure_warn"`
	SnapshotInterval    string  `toml:"snapshot_interval"`
	SnapshotCandles     int     `toml:"snapshot_candles"`
}

func (m MonitorConfig) PollInterval() time.Duration {
	if m.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

func (m MonitorConfig) MaxHolding() time.Duration {
	if m.MaxHoldingSeconds <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(m.MaxHoldingSeconds) * time.Second
}

// ScreenConfig 控制议事前的市场初筛。
type ScreenConfig struct {
	TopN           int      `toml:"top_n"`
	MinQuoteVolume float64  `toml:"min_quote_volume"`
	Intervals      []string `toml:"intervals"`
	CandleLimit    int      `toml:"candle_limit"`
}

// TradingConfig 限定单笔资金规模。
type TradingConfig struct {
	MaxTradeAmountUSD float64 `toml:"max_trade_amount_usd"`
	QuoteCurrency     string  `toml:"quote_currency"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}
