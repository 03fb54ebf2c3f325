package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliament/internal/types"
)

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from    Phase
		to      Phase
		allowed bool
	}{
		{PhaseIdle, PhaseDiscussion, true},
		{PhaseIdle, PhaseVoting, false},
		{PhaseIdle, PhaseIdle, false},
		{PhaseDiscussion, PhaseVoting, true},
		{PhaseDiscussion, PhaseIdle, true},
		{PhaseDiscussion, PhaseReviewing, false},
		{PhaseVoting, PhaseReviewing, true},
		{PhaseVoting, PhaseDiscussion, true},
		{PhaseVoting, PhaseIdle, true},
		{PhaseReviewing, PhaseExecuting, true},
		{PhaseReviewing, PhaseVoting, false},
		{PhaseExecuting, PhaseMonitoring, true},
		{PhaseMonitoring, PhaseIdle, true},
		{PhaseMonitoring, PhaseExecuting, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			s := New(NewBus())
			s.mu.Lock()
			s.phase = tc.from
			s.mu.Unlock()

			err := s.TransitionTo(tc.to)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, s.Phase())
				return
			}
			var conflict *ErrPhaseConflict
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tc.from, conflict.From)
			assert.Equal(t, tc.to, conflict.To)
			// 非法迁移不改变状态
			assert.Equal(t, tc.from, s.Phase())
		})
	}
}

func TestTransitionPublishesPhaseChanged(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []Event
	bus.Subscribe(func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	s := New(bus)
	require.NoError(t, s.TransitionTo(PhaseDiscussion))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, evt := range got {
			if evt.Type == EventPhaseChanged {
				payload := evt.Payload.(map[string]any)
				return payload["from"] == PhaseIdle && payload["to"] == PhaseDiscussion
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRecentReturnsCopies(t *testing.T) {
	s := New(NewBus())
	for i := 0; i < 5; i++ {
		s.Append(types.Message{ID: fmt.Sprintf("m-%d", i), Content: fmt.Sprintf("第 %d 条", i)})
	}

	last2 := s.Recent(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "m-3", last2[0].ID)
	assert.Equal(t, "m-4", last2[1].ID)

	all := s.Recent(0)
	assert.Len(t, all, 5)

	// 返回的是副本，改写不影响会话内部记录
	all[0].Content = "篡改"
	assert.Equal(t, "第 0 条", s.Recent(0)[0].Content)
}

func TestStopFlagLifecycle(t *testing.T) {
	s := New(NewBus())
	assert.False(t, s.StopRequested())

	s.RequestStop()
	assert.True(t, s.StopRequested())

	s.ClearStop()
	assert.False(t, s.StopRequested())
}

func TestResetClearsSessionState(t *testing.T) {
	s := New(NewBus())
	require.NoError(t, s.TransitionTo(PhaseDiscussion))
	s.BeginRound()
	s.Append(types.Message{ID: "m-1"})
	s.RequestStop()

	s.Reset()

	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, 0, s.Round())
	assert.Empty(t, s.Recent(0))
	assert.False(t, s.StopRequested())
}

func TestBusRecoverFromPanickingListener(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(Event) { panic("监听器崩了") })

	done := make(chan struct{})
	bus.Subscribe(func(Event) { close(done) })

	bus.Publish(EventSessionReset, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("正常监听器未收到事件")
	}
}
