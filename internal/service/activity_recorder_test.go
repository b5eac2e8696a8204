package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memGate struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (g *memGate) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func touches(m *memSessions) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches
}

func TestActivityRecorderDebouncesPerSession(t *testing.T) {
	clock := newFakeClock()
	sessions := newMemSessions()
	id := seedSession(sessions, clock.Now(), true, time.Hour, 0)

	recorder := NewActivityRecorder(sessions, &memGate{}, ActivityRecorderConfig{Workers: 1, BufferSize: 8}, nil, zap.NewNop())
	recorder.Start(context.Background())
	defer recorder.Stop()

	at := clock.Now().Add(time.Minute)
	recorder.Touch(id, at)
	require.Eventually(t, func() bool { return touches(sessions) == 1 }, time.Second, 5*time.Millisecond)

	recorder.Touch(id, at.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, touches(sessions))
	assert.Equal(t, at, sessions.get(id).LastActivity)
}

func TestActivityRecorderWritesWhenGateUnavailable(t *testing.T) {
	clock := newFakeClock()
	sessions := newMemSessions()
	id := seedSession(sessions, clock.Now(), true, time.Hour, 0)

	recorder := NewActivityRecorder(sessions, &memGate{err: errors.New("redis down")}, ActivityRecorderConfig{Workers: 1, BufferSize: 8}, nil, zap.NewNop())
	recorder.Start(context.Background())
	defer recorder.Stop()

	recorder.Touch(id, clock.Now())
	recorder.Touch(id, clock.Now())
	require.Eventually(t, func() bool { return touches(sessions) == 2 }, time.Second, 5*time.Millisecond)
}

func TestActivityRecorderDropsWhenNotRunning(t *testing.T) {
	sessions := newMemSessions()
	recorder := NewActivityRecorder(sessions, nil, ActivityRecorderConfig{}, nil, zap.NewNop())

	recorder.Touch("session", time.Now())
	var nilRecorder *ActivityRecorder
	nilRecorder.Touch("session", time.Now())

	assert.Zero(t, touches(sessions))
}
