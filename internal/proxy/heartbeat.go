package proxy

import (
	"context"
	"log"
	"sync"
	"time"
)

// Publisher states.
const (
	StatusUnknown     = "unknown"
	StatusReachable   = "reachable"
	StatusUnreachable = "unreachable"
)

// PublisherHealth is a copy of the publisher's delivery record.
type PublisherHealth struct {
	LastAttempt      time.Time
	LastDelivered    time.Time
	LastPayload      string
	Status           string
	ConsecutiveFails int
}

// HeartbeatPublisher reports this server's status to the proxy on a fixed
// interval. The first heartbeat goes out as soon as Start is called.
//
// Thread Safety:
// All methods are safe for concurrent use.
type HeartbeatPublisher struct {
	health        PublisherHealth
	sendFunc      func(ctx context.Context, hb Heartbeat) error
	payload       func() string
	onUnreachable func()
	ctx           context.Context
	cancel        context.CancelFunc
	serverID      string
	interval      time.Duration
	timeout       time.Duration
	mu            sync.RWMutex
	wg            sync.WaitGroup
	maxFailures   int
}

// NewHeartbeatPublisher creates a publisher sending payload() for serverID
// through client every interval. A nil client publishes nothing until
// SetSendFunction is called.
func NewHeartbeatPublisher(client *Client, serverID string, interval time.Duration, payload func() string) *HeartbeatPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &HeartbeatPublisher{
		serverID:    serverID,
		interval:    interval,
		payload:     payload,
		timeout:     2 * time.Second,
		maxFailures: 3,
		health:      PublisherHealth{Status: StatusUnknown},
		ctx:         ctx,
		cancel:      cancel,
	}
	if client != nil {
		p.sendFunc = client.Beat
	}
	return p
}

// SetSendFunction replaces how heartbeats are delivered.
func (p *HeartbeatPublisher) SetSendFunction(fn func(ctx context.Context, hb Heartbeat) error) {
	p.mu.Lock()
	p.sendFunc = fn
	p.mu.Unlock()
}

// SetOnUnreachable sets a callback run once each time the proxy is marked
// unreachable.
func (p *HeartbeatPublisher) SetOnUnreachable(fn func()) {
	p.mu.Lock()
	p.onUnreachable = fn
	p.mu.Unlock()
}

// Start publishes until ctx or Stop cancels it. It blocks.
func (p *HeartbeatPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	if ctx == nil {
		ctx = p.ctx
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("[heartbeat] publishing %s every %v", p.serverID, p.interval)
	p.publish()

	for {
		select {
		case <-ticker.C:
			p.publish()
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// Stop cancels Start and waits for it to return.
func (p *HeartbeatPublisher) Stop() {
	p.cancel()
	p.wg.Wait()
	log.Println("[heartbeat] stopped")
}

// Health returns a copy of the delivery record.
func (p *HeartbeatPublisher) Health() PublisherHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *HeartbeatPublisher) publish() {
	p.mu.RLock()
	send := p.sendFunc
	p.mu.RUnlock()
	if send == nil {
		return
	}

	hb := Heartbeat{ServerID: p.serverID, Payload: p.payload(), SentAt: time.Now()}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	err := send(ctx, hb)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.LastAttempt = hb.SentAt
	p.health.LastPayload = hb.Payload

	if err != nil {
		p.health.ConsecutiveFails++
		log.Printf("[heartbeat] delivery failed (attempt %d/%d): %v",
			p.health.ConsecutiveFails, p.maxFailures, err)

		if p.health.ConsecutiveFails >= p.maxFailures && p.health.Status != StatusUnreachable {
			p.health.Status = StatusUnreachable
			log.Printf("[heartbeat] proxy marked unreachable after %d failures", p.health.ConsecutiveFails)
			if p.onUnreachable != nil {
				go p.onUnreachable()
			}
		}
		return
	}

	if p.health.Status == StatusUnreachable {
		log.Printf("[heartbeat] proxy reachable again")
	}
	p.health.Status = StatusReachable
	p.health.ConsecutiveFails = 0
	p.health.LastDelivered = hb.SentAt
}
