// Package session 维护全局唯一的会话聚合：
// 当前阶段、讨论记录，以及同一时刻只允许一个写入方的阶段闸门。
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"parliament/internal/types"
)

// Phase 会话所处阶段。同一时刻只有持有对应阶段的任务在写共享状态。
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseReviewing  Phase = "reviewing"
	PhaseExecuting  Phase = "executing"
	PhaseMonitoring Phase = "monitoring"
)

// 允许的阶段迁移。monitoring 结束回到 idle。
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseDiscussion},
	PhaseDiscussion: {PhaseVoting, PhaseIdle},
	PhaseVoting:     {PhaseReviewing, PhaseDiscussion, PhaseIdle},
	PhaseReviewing:  {PhaseExecuting, PhaseIdle},
	PhaseExecuting:  {PhaseMonitoring, PhaseIdle},
	PhaseMonitoring: {PhaseIdle},
}

// ErrPhaseConflict 阶段闸门拒绝了一次迁移。
type ErrPhaseConflict struct {
	From, To Phase
}

func (e *ErrPhaseConflict) Error() string {
	return fmt.Sprintf("阶段冲突: %s -> %s 不被允许", e.From, e.To)
}

// Session 唯一活跃会话的聚合根。
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	phase    Phase
	round    int
	messages []types.Message

	stopFlag atomic.Bool

	bus *Bus
}

func New(bus *Bus) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		phase:     PhaseIdle,
		bus:       bus,
	}
}

// Bus 返回会话事件总线。
func (s *Session) Bus() *Bus { return s.bus }

// Phase 返回当前阶段。
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// TransitionTo 执行阶段迁移，非法迁移不改变任何状态。
func (s *Session) TransitionTo(next Phase) error {
	s.mu.Lock()
	current := s.phase
	allowed := false
	for _, p := range phaseTransitions[current] {
		if p == next {
			allowed = true
			break
		}
	}
	if !allowed {
		s.mu.Unlock()
		return &ErrPhaseConflict{From: current, To: next}
	}
	s.phase = next
	s.mu.Unlock()
	s.bus.Publish(EventPhaseChanged, map[string]any{"from": current, "to": next})
	return nil
}

// Round 当前讨论轮次（从 1 开始，0 表示尚未开始）。
func (s *Session) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// BeginRound 进入下一轮讨论并返回轮次。
func (s *Session) BeginRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return s.round
}

// Append 追加一条讨论消息。
func (s *Session) Append(msg types.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// Recent 返回最近 n 条消息的副本。n<=0 时返回全部。
func (s *Session) Recent(n int) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n >= len(s.messages) {
		return append([]types.Message(nil), s.messages...)
	}
	return append([]types.Message(nil), s.messages[len(s.messages)-n:]...)
}

// RequestStop 请求停止讨论。在下一个安全边界（当前回合结束）生效。
func (s *Session) RequestStop() {
	s.stopFlag.Store(true)
}

// StopRequested 查询停止标记。
func (s *Session) StopRequested() bool {
	return s.stopFlag.Load()
}

// ClearStop 清除停止标记（新讨论开始时）。
func (s *Session) ClearStop() {
	s.stopFlag.Store(false)
}

// Reset 把会话拉回空闲态并清空讨论记录。
func (s *Session) Reset() {
	s.mu.Lock()
	s.phase = PhaseIdle
	s.round = 0
	s.messages = nil
	s.mu.Unlock()
	s.stopFlag.Store(false)
	s.bus.Publish(EventSessionReset, map[string]any{"session_id": s.ID})
}
