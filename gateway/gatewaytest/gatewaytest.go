// Package gatewaytest provides an in-memory gateway connection for tests
// that drive a gateway.Session frame by frame.
package gatewaytest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/gateway"
)

// DefaultTimeout bounds every wait in this package
var DefaultTimeout = 2 * time.Second

var ErrClosed = errors.NewPlain("connection closed")

// Conn is an in-memory gateway.Conn, the test side feeds it inbound frames
// and reads what the session wrote.
type Conn struct {
	in     chan []byte
	errs   chan error
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

var _ gateway.Conn = (*Conn)(nil)

func NewConn() *Conn {
	return &Conn{
		in:     make(chan []byte, 64),
		errs:   make(chan error, 1),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	select {
	case m := <-c.in:
		return m, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	cop := make([]byte, len(data))
	copy(cop, data)

	select {
	case c.out <- cop:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}

// Closed is closed once the session closed the connection
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Send queues an inbound frame, seq 0 sends a null sequence
func (c *Conn) Send(op gateway.GatewayOP, eventType string, seq int64, data interface{}) {
	frame := map[string]interface{}{
		"op": op,
		"d":  data,
		"s":  nil,
		"t":  nil,
	}
	if seq != 0 {
		frame["s"] = seq
	}
	if eventType != "" {
		frame["t"] = eventType
	}

	encoded, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	c.SendRaw(encoded)
}

// SendRaw queues a raw inbound message
func (c *Conn) SendRaw(data []byte) {
	c.in <- data
}

// Hello sends a HELLO with the given heartbeat interval
func (c *Conn) Hello(interval time.Duration) {
	c.Send(gateway.GatewayOPHello, "", 0, map[string]interface{}{
		"heartbeat_interval": interval.Milliseconds(),
	})
}

// Ack sends a HEARTBEAT_ACK
func (c *Conn) Ack() {
	c.Send(gateway.GatewayOPHeartbeatACK, "", 0, nil)
}

// CloseWith makes the next read return a close frame error
func (c *Conn) CloseWith(code int, reason string) {
	c.errs <- &gateway.CloseError{Code: code, Reason: reason}
}

// Next returns the next frame the session wrote
func (c *Conn) Next(t testing.TB) *gateway.Frame {
	t.Helper()

	select {
	case data := <-c.out:
		frame, err := gateway.DecodeFrame(data)
		if err != nil {
			t.Fatalf("session wrote an invalid frame %q: %v", data, err)
		}
		return frame
	case <-time.After(DefaultTimeout):
		t.Fatal("timed out waiting for an outbound frame")
	}
	return nil
}

// Expect returns the next frame with op. Heartbeats written in between are
// skipped unless op is a heartbeat, any other frame fails the test.
func (c *Conn) Expect(t testing.TB, op gateway.GatewayOP) *gateway.Frame {
	t.Helper()

	for {
		frame := c.Next(t)
		if frame.Operation == op {
			return frame
		}

		if frame.Operation == gateway.GatewayOPHeartbeat {
			continue
		}

		t.Fatalf("expected %s frame, got %s: %s", op, frame.Operation, frame.Data)
		return nil
	}
}

// Handshake plays HELLO, waits for the bootstrap heartbeat and acks it,
// returning the handshake frame (IDENTIFY or RESUME) the session sent.
func (c *Conn) Handshake(t testing.TB, interval time.Duration) *gateway.Frame {
	t.Helper()

	c.Hello(interval)
	c.Expect(t, gateway.GatewayOPHeartbeat)
	c.Ack()

	for {
		frame := c.Next(t)
		if frame.Operation != gateway.GatewayOPHeartbeat {
			return frame
		}
	}
}

// Ready sends a READY dispatch
func (c *Conn) Ready(seq int64, sessionID string, userID int64) {
	c.Send(gateway.GatewayOPDispatch, "READY", seq, map[string]interface{}{
		"v":          10,
		"session_id": sessionID,
		"user": map[string]interface{}{
			"id":       strconv.FormatInt(userID, 10),
			"username": "dgateway",
			"bot":      true,
		},
		"application": map[string]interface{}{
			"id": strconv.FormatInt(userID, 10),
		},
	})
}

// Dialer hands out a new Conn for every Dial
type Dialer struct {
	conns chan *Conn

	mu   sync.Mutex
	urls []string
}

var _ gateway.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{
		conns: make(chan *Conn, 64),
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (gateway.Conn, error) {
	c := NewConn()

	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()

	select {
	case d.conns <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c, nil
}

// Next returns the next dialed connection
func (d *Dialer) Next(t testing.TB) *Conn {
	t.Helper()

	select {
	case c := <-d.conns:
		return c
	case <-time.After(DefaultTimeout):
		t.Fatal("timed out waiting for the session to dial")
	}
	return nil
}

// URLs returns every url dialed so far
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.urls...)
}

// NoopIdentifyRatelimiter never waits
type NoopIdentifyRatelimiter struct{}

func (NoopIdentifyRatelimiter) RatelimitIdentify(ctx context.Context, shardID int) error {
	return nil
}
