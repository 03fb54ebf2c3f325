package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Council.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Trading.MaxTradeAmountUSD < 0 {
		return fmt.Errorf("trading.max_trade_amount_usd must be >= 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	models := a.ResolveModelConfigs()
	enabled := 0
	for _, m := range models {
		if !m.IsEnabled() {
			continue
		}
		enabled++
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("ai.models contains entry without id (model=%s)", m.Model)
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("ai.models.%s missing model", m.ID)
		}
		if strings.TrimSpace(m.APIURL) == "" {
			return fmt.Errorf("ai.models.%s missing api_url (can inherit from preset)", m.ID)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	return nil
}

func (c *CouncilConfig) validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("council.max_rounds must be >= 1")
	}
	if c.MaxResubmissions < 0 {
		return fmt.Errorf("council.max_resubmissions must be >= 0")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if m.TrailingDistancePct >= m.TrailingTriggerPct {
		return fmt.Errorf("monitor.trailing_distance_pct must be less than trailing_trigger_pct")
	}
	if m.PartialTPRatio <= 0 || m.PartialTPRatio >= 1 {
		return fmt.Errorf("monitor.partial_tp_ratio must be in (0, 1)")
	}
	if m.PartialTPTriggerPct <= 0 || m.PartialTPTriggerPct >= 1 {
		return fmt.Errorf("monitor.partial_tp_trigger_pct must be in (0, 1)")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
