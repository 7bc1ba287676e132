package proxy

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeartbeatPublisher(t *testing.T) {
	p := NewHeartbeatPublisher(nil, "mm-game", 5*time.Second, func() string { return "x" })
	defer p.Stop()

	assert.Equal(t, 5*time.Second, p.interval)
	assert.Equal(t, 2*time.Second, p.timeout)
	assert.Equal(t, 3, p.maxFailures)
	assert.Nil(t, p.sendFunc)
	assert.Equal(t, StatusUnknown, p.Health().Status)
}

func TestHeartbeatPublisherSendsImmediately(t *testing.T) {
	fake := &fakeProxy{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p := NewHeartbeatPublisher(NewClient(srv.URL), "mm-game", time.Hour, func() string {
		return "mm-game|default|NONE|IDLE|0|16|0"
	})
	go p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool { return p.Health().Status == StatusReachable }, time.Second, 10*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.beats, 1)
	assert.Equal(t, "mm-game", fake.beats[0].ServerID)
}

func TestHeartbeatPublisherTicks(t *testing.T) {
	var count atomic.Int32
	p := NewHeartbeatPublisher(nil, "mm-game", 50*time.Millisecond, func() string { return "x" })
	p.SetSendFunction(func(ctx context.Context, hb Heartbeat) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	time.Sleep(180 * time.Millisecond)

	// Initial beat plus at least two ticks.
	assert.GreaterOrEqual(t, count.Load(), int32(3))
	assert.Equal(t, "x", p.Health().LastPayload)
}

func TestHeartbeatPublisherUnreachableAndRecovery(t *testing.T) {
	var mu sync.Mutex
	failing := true
	p := NewHeartbeatPublisher(nil, "mm-game", 20*time.Millisecond, func() string { return "x" })
	p.SetSendFunction(func(ctx context.Context, hb Heartbeat) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("proxy down")
		}
		return nil
	})

	var unreachable atomic.Int32
	p.SetOnUnreachable(func() { unreachable.Add(1) })

	go p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool {
		return p.Health().Status == StatusUnreachable
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, p.Health().ConsecutiveFails, 3)

	mu.Lock()
	failing = false
	mu.Unlock()

	assert.Eventually(t, func() bool { return p.Health().Status == StatusReachable }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.Health().ConsecutiveFails)
	assert.Eventually(t, func() bool { return unreachable.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHeartbeatPublisherStopsOnContext(t *testing.T) {
	p := NewHeartbeatPublisher(nil, "mm-game", 10*time.Millisecond, func() string { return "x" })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
	p.Stop()
}
