package session

import (
	"sync"
	"time"

	"parliament/internal/logger"
)

// EventType 对外广播的事件类型。
type EventType string

const (
	EventParticipantStatusChanged EventType = "participant_status_changed"
	EventTurnCompleted            EventType = "turn_completed"
	EventPhaseChanged             EventType = "phase_changed"
	EventProposalSubmitted        EventType = "proposal_submitted"
	EventVotingUpdated            EventType = "voting_updated"
	EventProposalFinalized        EventType = "proposal_finalized"
	EventPositionOpened           EventType = "position_opened"
	EventPositionUpdated          EventType = "position_updated"
	EventPartialCloseOccurred     EventType = "partial_close_occurred"
	EventPositionClosed           EventType = "position_closed"
	EventReportGenerated          EventType = "report_generated"
	EventErrorOccurred            EventType = "error_occurred"
	EventSessionReset             EventType = "session_reset"
)

// Event 一条广播事件。Payload 为对应实体的公开字段。
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener 事件监听回调。
type Listener func(Event)

// Bus 进程内事件总线。发布是异步的，慢监听器不阻塞状态机。
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 注册监听器。
func (b *Bus) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Publish 广播一条事件。
func (b *Bus) Publish(kind EventType, payload any) {
	evt := Event{Type: kind, Payload: payload, Timestamp: time.Now()}
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb Listener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("事件监听器 panic (%s): %v", kind, r)
				}
			}()
			cb(evt)
		}(fn)
	}
}

// Emitter 是组件侧需要的最小发布接口。
type Emitter interface {
	Publish(kind EventType, payload any)
}
