package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// connection is the state tied to a single websocket connection, a new one
// is created for every reconnect
type connection struct {
	id   int
	conn Conn
	log  *logrus.Entry

	// set when a heartbeat was sent and cleared by its ack
	awaitingAck int32

	// only touched by the receive loop
	readyReached bool
	hbCancel     context.CancelFunc
	hbDone       chan struct{}

	closeMu  sync.Mutex
	closeErr error
}

// forceClose closes the connection from our side, reason is what the
// receive loop returns
func (c *connection) forceClose(reason error) {
	c.closeMu.Lock()
	if c.closeErr == nil {
		c.closeErr = reason
	}
	c.closeMu.Unlock()

	c.conn.Close()
}

func (c *connection) closeReason() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// startHeartbeat starts the heartbeat loop of c, stopHeartbeat must have
// been called for any previous loop
func (s *Session) startHeartbeat(ctx context.Context, c *connection, interval time.Duration) {
	hbCtx, cancel := context.WithCancel(ctx)
	c.hbCancel = cancel
	c.hbDone = make(chan struct{})
	atomic.StoreInt32(&c.awaitingAck, 0)

	atomic.AddInt32(&s.heartbeatStarts, 1)
	go s.heartbeat(hbCtx, c, interval, c.hbDone)
}

// stopHeartbeat cancels the heartbeat loop of c, if any, and waits for it to exit
func (s *Session) stopHeartbeat(c *connection) {
	if c.hbCancel == nil {
		return
	}

	c.hbCancel()
	<-c.hbDone
	c.hbCancel = nil
	c.hbDone = nil
}

func (s *Session) heartbeat(ctx context.Context, c *connection, interval time.Duration, done chan struct{}) {
	defer close(done)

	n := atomic.AddInt32(&s.heartbeaters, 1)
	for {
		peak := atomic.LoadInt32(&s.heartbeatPeak)
		if n <= peak || atomic.CompareAndSwapInt32(&s.heartbeatPeak, peak, n) {
			break
		}
	}
	if n > 1 {
		c.log.Errorf("%d heartbeat loops running", n)
	}
	defer atomic.AddInt32(&s.heartbeaters, -1)

	for {
		wait := interval
		s.mu.Lock()
		if !s.acked {
			wait = s.cfg.BootstrapInterval
		}
		s.mu.Unlock()

		t := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if !s.cfg.DisableZombieDetection && atomic.LoadInt32(&c.awaitingAck) == 1 {
			c.log.Warn("no heartbeat ack received since the last heartbeat, reconnecting")
			c.forceClose(errZombieConnection)
			return
		}

		if err := s.sendHeartbeat(ctx, c); err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Error("failed sending heartbeat")
				c.forceClose(err)
			}
			return
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context, c *connection) error {
	s.mu.Lock()
	var seq *int64
	if s.sequence != 0 {
		n := s.sequence
		seq = &n
	}
	s.lastHeartbeatSent = s.clock.Now()
	s.mu.Unlock()

	atomic.StoreInt32(&c.awaitingAck, 1)
	return s.writeOp(ctx, c, GatewayOPHeartbeat, seq)
}
