package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9980"
	defaultAppLogPath        = "data/logs/parliament.log"
	defaultAppTranscript     = "data/logs/parliament-transcript.log"
	defaultVenueName         = "binance"
	defaultVenueREST         = "https://api.binance.com"
	defaultVenueRESTTestnet  = "https://testnet.binance.vision"
	defaultProfilesPath      = "configs/participants.yaml"
	defaultCouncilRounds     = 3
	defaultCouncilContext    = 10
	defaultCouncilResubmits  = 2
	defaultMonitorInterval   = 30
	defaultMonitorHolding    = 14400
	defaultTrailingTrigger   = 0.02
	defaultTrailingDistance  = 0.01
	defaultPartialTPTrigger  = 0.5
	defaultPartialTPRatio    = 0.5
	defaultPollFailureWarn   = 5
	defaultSnapshotInterval  = "15m"
	defaultSnapshotCandles   = 50
	defaultScreenTopN        = 10
	defaultScreenMinVolume   = 100000
	defaultScreenCandleLimit = 100
	defaultMaxTradeAmount    = 100
	defaultQuoteCurrency     = "USDT"
	defaultStorePath         = "data/parliament.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = defaultAppEnv
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if strings.TrimSpace(c.App.LogPath) == "" {
		c.App.LogPath = defaultAppLogPath
	}
	if strings.TrimSpace(c.App.TranscriptPath) == "" {
		c.App.TranscriptPath = defaultAppTranscript
	}

	if strings.TrimSpace(c.Venue.Name) == "" {
		c.Venue.Name = defaultVenueName
	}
	if strings.TrimSpace(c.Venue.RESTBaseURL) == "" {
		if c.Venue.Testnet {
			c.Venue.RESTBaseURL = defaultVenueRESTTestnet
		} else {
			c.Venue.RESTBaseURL = defaultVenueREST
		}
	}

	if strings.TrimSpace(c.AI.ProfilesPath) == "" {
		c.AI.ProfilesPath = defaultProfilesPath
	}

	if c.Council.MaxRounds <= 0 {
		c.Council.MaxRounds = defaultCouncilRounds
	}
	if c.Council.ContextMessages <= 0 {
		c.Council.ContextMessages = defaultCouncilContext
	}
	if c.Council.MaxResubmissions <= 0 {
		c.Council.MaxResubmissions = defaultCouncilResubmits
	}

	if c.Monitor.PollIntervalSeconds <= 0 {
		c.Monitor.PollIntervalSeconds = defaultMonitorInterval
	}
	if c.Monitor.MaxHoldingSeconds <= 0 {
		c.Monitor.MaxHoldingSeconds = defaultMonitorHolding
	}
	if c.Monitor.TrailingTriggerPct <= 0 {
		c.Monitor.TrailingTriggerPct = defaultTrailingTrigger
	}
	if c.Monitor.TrailingDistancePct <= 0 {
		c.Monitor.TrailingDistancePct = defaultTrailingDistance
	}
	if c.Monitor.PartialTPTriggerPct <= 0 {
		c.Monitor.PartialTPTriggerPct = defaultPartialTPTrigger
	}
	if c.Monitor.PartialTPRatio <= 0 {
		c.Monitor.PartialTPRatio = defaultPartialTPRatio
	}
	if c.Monitor.PollFailureWarn <= 0 {
		c.Monitor.PollFailureWarn = defaultPollFailureWarn
	}
	if strings.TrimSpace(c.Monitor.SnapshotInterval) == "" {
		c.Monitor.SnapshotInterval = defaultSnapshotInterval
	}
	if c.Monitor.SnapshotCandles <= 0 {
		c.Monitor.SnapshotCandles = defaultSnapshotCandles
	}

	if c.Screen.TopN <= 0 {
		c.Screen.TopN = defaultScreenTopN
	}
	if c.Screen.MinQuoteVolume <= 0 {
		c.Screen.MinQuoteVolume = defaultScreenMinVolume
	}
	if len(c.Screen.Intervals) == 0 {
		c.Screen.Intervals = []string{"15m", "1h", "4h"}
	}
	if c.Screen.CandleLimit <= 0 {
		c.Screen.CandleLimit = defaultScreenCandleLimit
	}

	if c.Trading.MaxTradeAmountUSD <= 0 {
		c.Trading.MaxTradeAmountUSD = defaultMaxTradeAmount
	}
	if strings.TrimSpace(c.Trading.QuoteCurrency) == "" {
		c.Trading.QuoteCurrency = defaultQuoteCurrency
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
}
