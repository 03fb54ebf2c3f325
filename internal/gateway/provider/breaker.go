package provider

import (
	"context"
	"time"

	"parliament/internal/pkg/circuit"
)

// 单个模型通道连续失败后短路一段时间，
// 避免议事每一轮都在同一个挂掉的接口上空耗超时。
const (
	breakerThreshold = 3
	breakerCooldown  = 2 * time.Minute
)

// guarded 给 ModelProvider 套一层熔断。
type guarded struct {
	inner   ModelProvider
	breaker *circuit.Breaker
}

// Guard 返回带熔断保护的模型通道。
func Guard(p ModelProvider) ModelProvider {
	return &guarded{
		inner:   p,
		breaker: circuit.NewBreaker(p.ID(), breakerThreshold, breakerCooldown),
	}
}

func (g *guarded) ID() string    { return g.inner.ID() }
func (g *guarded) Enabled() bool { return g.inner.Enabled() }

func (g *guarded) Call(ctx context.Context, payload ChatPayload) (string, error) {
	var out string
	err := g.breaker.Do(func() error {
		var callErr error
		out, callErr = g.inner.Call(ctx, payload)
		return callErr
	})
	return out, err
}

func (g *guarded) Probe(ctx context.Context) error {
	return g.breaker.Do(func() error {
		return g.inner.Probe(ctx)
	})
}
