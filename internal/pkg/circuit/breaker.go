package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"parliament/internal/logger"
)

// ErrOpen 熔断器处于断开态，调用被直接拒绝。
var ErrOpen = errors.New("熔断器已断开")

// State 熔断器状态。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker 保护单个外部通道（模型接口、交易所接口）：
// 连续失败达到阈值后断开，冷却期过后半开放行一次试探。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown}
}

// Do 执行受保护的调用。断开态直接返回 ErrOpen，不触达下游。
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return fmt.Errorf("%w（%s）", ErrOpen, b.name)
	}
	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// 试探失败，回到断开态重新计时
		b.transition(StateOpen)
	}
}

// State 返回当前状态（试探窗口的推进只发生在 allow 内）。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("熔断器 %s: %s -> %s（连续失败 %d/%d）", b.name, from, to, b.failures, b.threshold)
}
