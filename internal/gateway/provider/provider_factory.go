package provider

import (
	"fmt"
	"strings"
	"time"

	"parliament/internal/config"
	"parliament/internal/logger"
)

// BuildProvidersFromConfig 把配置中的模型定义转换为 provider 表（provider id -> 实例）。
// 未启用的模型直接跳过。
func BuildProvidersFromConfig(models []config.AIModelConfig, timeout time.Duration) map[string]ModelProvider {
	out := make(map[string]ModelProvider, len(models))
	for _, m := range models {
		if !m.IsEnabled() {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = fmt.Sprintf("%s:%s", strings.TrimSpace(m.Provider), strings.TrimSpace(m.Model))
			logger.Warnf("未配置 ai.models.id，已为 %q 生成 ID: %s", m.Provider, id)
		}
		client := &OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			ExtraHeaders: m.Headers,
		}
		if timeout > 0 {
			client.Timeout = timeout
		}
		// 每个通道独立熔断，单个接口挂掉不拖慢整场议事
		out[id] = Guard(NewOpenAIModelProvider(id, true, client))
	}
	return out
}
