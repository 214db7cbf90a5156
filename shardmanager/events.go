package shardmanager

import (
	"fmt"
	"strings"
	"time"

	"github.com/botlabs-gg/dgateway/gateway"
)

// Event holds data for a shard connection event
type Event struct {
	Type EventType

	Shard     int
	NumShards int

	Msg string

	// When this event occurred
	Time time.Time
}

func (e *Event) String() string {
	prefix := ""
	if e.Shard > -1 {
		prefix = fmt.Sprintf("[%d/%d] ", e.Shard, e.NumShards)
	}

	s := prefix + strings.ToUpper(e.Type.String()[:1]) + e.Type.String()[1:]
	if e.Msg != "" {
		s += ": " + e.Msg
	}

	return s
}

type EventType int

const (
	// Sent when the connection to the gateway was established
	EventConnected EventType = iota

	// Sent when the connection is lost
	EventDisconnected

	// Sent when the connection was successfully resumed
	EventResumed

	// Sent on ready
	EventReady

	// Sent when a shard's session is started
	EventOpen

	// Sent when the manager stopped all sessions
	EventClose

	// Sent when a shard was rejected with a fatal close code
	EventFatal
)

var eventStrings = map[EventType]string{
	EventOpen:         "opened",
	EventClose:        "closed",
	EventConnected:    "connected",
	EventDisconnected: "disconnected",
	EventResumed:      "resumed",
	EventReady:        "ready",
	EventFatal:        "fatal",
}

func (t EventType) String() string {
	if s, ok := eventStrings[t]; ok {
		return s
	}
	return "unknown"
}

// statusEvent maps a session status change to a connection event
func statusEvent(from, to gateway.GatewayStatus) (EventType, bool) {
	switch to {
	case gateway.GatewayStatusAwaitingHello:
		return EventConnected, true
	case gateway.GatewayStatusReady:
		if from == gateway.GatewayStatusResuming {
			return EventResumed, true
		}
		return EventReady, true
	case gateway.GatewayStatusReconnecting:
		if from.Connected() {
			return EventDisconnected, true
		}
	case gateway.GatewayStatusFatal:
		return EventFatal, true
	}

	return 0, false
}
