package gateway

import "sync/atomic"

// HeartbeatLoops returns the number of running heartbeat loops, how many
// were ever started and the most that ran at once
func (s *Session) HeartbeatLoops() (running, started, peak int32) {
	return atomic.LoadInt32(&s.heartbeaters), atomic.LoadInt32(&s.heartbeatStarts), atomic.LoadInt32(&s.heartbeatPeak)
}
