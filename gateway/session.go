package gateway

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "gateway")

var (
	ErrNotConnected       = errors.NewPlain("not connected to the gateway")
	ErrAlreadyRunning     = errors.NewPlain("session is already running")
	errReconnectRequested = errors.NewPlain("gateway requested a reconnect")
	errZombieConnection   = errors.NewPlain("no heartbeat ack received since the last heartbeat")
)

// DefaultIdentifyRatelimiter is shared by all sessions that don't configure one
var DefaultIdentifyRatelimiter IdentifyRatelimiter = NewStdIdentifyRatelimiter()

// DefaultBootstrapInterval is how often heartbeats are sent before the first ack
const DefaultBootstrapInterval = 4 * time.Second

// Dispatcher receives every dispatch event in receive order. Implementations
// must not block, the receive loop waits for Dispatch to return.
type Dispatcher interface {
	Dispatch(shardID int, eventType string, data json.RawMessage)
}

// ReadyHandler is called in its own goroutine for every READY
type ReadyHandler interface {
	HandleReady(shardID int, ready *Ready)
}

// Config configures a Session, zero values use defaults
type Config struct {
	Token      string
	Intents    Intent
	GatewayURL string
	APIVersion string
	Properties IdentifyProperties

	Dialer          Dialer
	IdentifyLimiter IdentifyRatelimiter
	Dispatcher      Dispatcher
	ReadyHandler    ReadyHandler

	RatePerMinute     int
	RatePerSecond     int
	BootstrapInterval time.Duration

	// NewBackOff returns the reconnect delay policy, it's reset after every READY
	NewBackOff func() backoff.BackOff

	// OnStatus is called synchronously on every status change
	OnStatus func(shardID int, from, to GatewayStatus)

	DisableZombieDetection bool

	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.Dialer == nil {
		c.Dialer = &WSDialer{}
	}
	if c.IdentifyLimiter == nil {
		c.IdentifyLimiter = DefaultIdentifyRatelimiter
	}
	if c.GatewayURL == "" {
		c.GatewayURL = DefaultGatewayURL
	}
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}
	if c.Properties == (IdentifyProperties{}) {
		c.Properties = DefaultProperties()
	}
	if c.Intents == 0 {
		c.Intents = IntentsDefault
	}
	if c.BootstrapInterval <= 0 {
		c.BootstrapInterval = DefaultBootstrapInterval
	}
	if c.NewBackOff == nil {
		c.NewBackOff = DefaultBackOff
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// DefaultBackOff retries forever, starting at 1 second and capping at 2 minutes
func DefaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Session is a single shard's gateway session. It survives reconnects: the
// session id and sequence are kept so that the next connection can resume.
type Session struct {
	shardID    int
	shardCount int

	cfg   Config
	gate  *RateGate
	clock clock.Clock
	log   *logrus.Entry

	running int32

	mu                 sync.Mutex
	status             GatewayStatus
	sessionID          string
	sequence           int64
	resumeURL          string
	acked              bool
	reconnectRequested bool
	heartbeatInterval  time.Duration
	lastHeartbeatSent  time.Time
	lastHeartbeatAck   time.Time
	current            *connection
	connCounter        int
	handshakeCh        chan<- error

	handshakeOnce sync.Once

	heartbeaters    int32
	heartbeatStarts int32
	heartbeatPeak   int32
}

// NewSession creates a session for shard shardID out of shardCount
func NewSession(shardID, shardCount int, cfg Config) *Session {
	cfg.applyDefaults()

	return &Session{
		shardID:    shardID,
		shardCount: shardCount,
		cfg:        cfg,
		gate:       NewRateGate(cfg.RatePerMinute, cfg.RatePerSecond, WithClock(cfg.Clock)),
		clock:      cfg.Clock,
		log:        logger.WithField("shard", shardID),
	}
}

func (s *Session) ShardID() int    { return s.shardID }
func (s *Session) ShardCount() int { return s.shardCount }

// Status returns the current state of the session
func (s *Session) Status() GatewayStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SessionInfo returns the resumable session id and the last sequence seen
func (s *Session) SessionInfo() (sessionID string, sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.sequence
}

// HeartbeatStats returns when the last heartbeat was sent and acked
func (s *Session) HeartbeatStats() (lastSent, lastAck time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatSent, s.lastHeartbeatAck
}

// NotifyHandshake registers a channel that receives the outcome of the first
// handshake: nil on the first READY or RESUMED, the fatal error otherwise.
// At most one value is sent, and never blocking, so ch should be buffered.
func (s *Session) NotifyHandshake(ch chan<- error) {
	s.mu.Lock()
	s.handshakeCh = ch
	s.mu.Unlock()
}

func (s *Session) reportHandshake(err error) {
	s.handshakeOnce.Do(func() {
		s.mu.Lock()
		ch := s.handshakeCh
		s.mu.Unlock()

		if ch == nil {
			return
		}

		select {
		case ch <- err:
		default:
		}
	})
}

func (s *Session) setStatus(status GatewayStatus) {
	s.mu.Lock()
	from := s.status
	s.status = status
	s.mu.Unlock()

	if from != status && s.cfg.OnStatus != nil {
		s.cfg.OnStatus(s.shardID, from, status)
	}
}

// Run connects and keeps the session connected until ctx is cancelled or
// the gateway rejects the session with a fatal close code, in which case a
// *FatalError is returned.
func (s *Session) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&s.running, 0)

	bo := s.cfg.NewBackOff()
	for {
		ready, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			s.setStatus(GatewayStatusDisconnected)
			return ctx.Err()
		}

		if IsFatal(err) {
			s.log.WithError(err).Error("gateway session failed fatally")
			s.setStatus(GatewayStatusFatal)
			s.reportHandshake(err)
			return err
		}

		if ready {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.setStatus(GatewayStatusDisconnected)
			return errors.WithMessage(err, "giving up reconnecting")
		}

		metricsReconnects.WithLabelValues(reconnectReason(err)).Inc()
		s.log.WithError(err).Warnf("gateway connection lost, reconnecting in %s", wait)

		t := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setStatus(GatewayStatusDisconnected)
			return ctx.Err()
		case <-t.C:
		}
	}
}

func reconnectReason(err error) string {
	var ce *CloseError
	switch {
	case errors.Is(err, errReconnectRequested):
		return "reconnect_op"
	case errors.Is(err, ErrSessionInvalidated):
		return "invalid_session"
	case errors.Is(err, errZombieConnection):
		return "zombie"
	case errors.As(err, &ce):
		return "close_frame"
	}
	return "error"
}

func (s *Session) gatewayURL() string {
	base := s.cfg.GatewayURL

	s.mu.Lock()
	if s.reconnectRequested && s.sessionID != "" && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.Unlock()

	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return base + "?v=" + s.cfg.APIVersion + "&encoding=json"
}

// runConnection runs a single connection until it's closed, ready is true if
// it reached READY (or RESUMED)
func (s *Session) runConnection(ctx context.Context) (ready bool, err error) {
	s.setStatus(GatewayStatusConnecting)

	conn, err := s.cfg.Dialer.Dial(ctx, s.gatewayURL())
	if err != nil {
		s.setStatus(GatewayStatusReconnecting)
		return false, errors.WithMessage(err, "dial gateway")
	}

	s.mu.Lock()
	s.connCounter++
	c := &connection{
		id:   s.connCounter,
		conn: conn,
		log:  s.log.WithField("conn", s.connCounter),
	}
	s.acked = false
	s.current = c
	s.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	defer func() {
		cancel()
		s.stopHeartbeat(c)

		s.mu.Lock()
		if s.current == c {
			s.current = nil
		}
		s.mu.Unlock()

		s.setStatus(GatewayStatusReconnecting)
	}()

	c.log.Info("connected to gateway")
	s.setStatus(GatewayStatusAwaitingHello)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return c.readyReached, s.handleReadError(c, err)
		}

		if err := s.handleMessage(connCtx, c, data); err != nil {
			return c.readyReached, err
		}
	}
}

func (s *Session) handleReadError(c *connection, err error) error {
	var ce *CloseError
	if errors.As(err, &ce) {
		kind, ferr := ClassifyClose(ce.Code)
		if kind == DisconnectFatal {
			return &FatalError{ShardID: s.shardID, Code: ce.Code, Reason: ce.Reason, Err: ferr}
		}

		c.log.Warnf("got close frame, code: %d, msg: %q", ce.Code, ce.Reason)
		s.requestResume()
		return err
	}

	s.requestResume()

	// closed by us, e.g. a zombied connection
	if reason := c.closeReason(); reason != nil {
		return reason
	}

	return errors.WithMessage(err, "read from gateway")
}

func (s *Session) handleMessage(ctx context.Context, c *connection, data []byte) error {
	frame, err := DecodeFrame(data)
	if err != nil {
		c.log.WithError(err).Error("failed decoding gateway frame, dropping it")
		return nil
	}

	metricsFramesReceived.WithLabelValues(frame.Operation.String()).Inc()

	if frame.Sequence != nil {
		s.updateSequence(*frame.Sequence)
	}

	switch frame.Operation {
	case GatewayOPHello:
		s.handleHello(ctx, c, frame)
	case GatewayOPHeartbeatACK:
		return s.handleHeartbeatAck(ctx, c)
	case GatewayOPHeartbeat:
		// the gateway wants a heartbeat right now
		return s.sendHeartbeat(ctx, c)
	case GatewayOPDispatch:
		s.handleDispatch(c, frame)
	case GatewayOPReconnect:
		c.log.Info("gateway requested a reconnect")
		s.requestResume()
		return errReconnectRequested
	case GatewayOPInvalidSession:
		c.log.Warn("got invalid session, reconnecting with a new session")
		s.invalidateSession()
		return ErrSessionInvalidated
	default:
		c.log.Warnf("unhandled gateway op: %s", frame.Operation)
	}

	return nil
}

func (s *Session) handleHello(ctx context.Context, c *connection, frame *Frame) {
	var hello helloData
	if err := jsonCodec.Unmarshal(frame.Data, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		c.log.WithError(err).Errorf("invalid hello payload: %s", string(frame.Data))
		return
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	s.mu.Lock()
	s.heartbeatInterval = interval
	s.mu.Unlock()

	s.stopHeartbeat(c)
	s.startHeartbeat(ctx, c, interval)

	if s.Status() == GatewayStatusAwaitingHello {
		s.setStatus(GatewayStatusHandshaking)
	}
}

func (s *Session) handleHeartbeatAck(ctx context.Context, c *connection) error {
	atomic.StoreInt32(&c.awaitingAck, 0)

	now := s.clock.Now()

	s.mu.Lock()
	if !s.lastHeartbeatSent.IsZero() {
		metricsHeartbeatLatency.Observe(now.Sub(s.lastHeartbeatSent).Seconds())
	}
	s.lastHeartbeatAck = now

	if s.reconnectRequested && s.sessionID != "" {
		s.reconnectRequested = false
		s.acked = true
		data := resumeData{
			Token:     s.cfg.Token,
			SessionID: s.sessionID,
			Sequence:  s.sequence,
		}
		s.mu.Unlock()

		c.log.Infof("resuming session %s at sequence %d", data.SessionID, data.Sequence)
		s.setStatus(GatewayStatusResuming)
		return s.writeOp(ctx, c, GatewayOPResume, data)
	}

	if s.acked {
		s.mu.Unlock()
		return nil
	}

	// a fresh identify starts a brand new session
	s.reconnectRequested = false
	s.acked = true
	s.sessionID = ""
	s.sequence = 0
	s.resumeURL = ""
	s.mu.Unlock()

	if err := s.cfg.IdentifyLimiter.RatelimitIdentify(ctx, s.shardID); err != nil {
		return errors.WithMessage(err, "identify ratelimit")
	}

	c.log.Info("identifying")
	return s.writeOp(ctx, c, GatewayOPIdentify, identifyData{
		Token:      s.cfg.Token,
		Intents:    s.cfg.Intents,
		Properties: s.cfg.Properties,
		Shard:      [2]int{s.shardID, s.shardCount},
	})
}

func (s *Session) handleDispatch(c *connection, frame *Frame) {
	switch frame.Type {
	case "READY":
		var ready Ready
		if err := jsonCodec.Unmarshal(frame.Data, &ready); err != nil {
			c.log.WithError(err).Error("failed decoding ready, dropping it")
			return
		}

		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()

		c.readyReached = true
		c.log.Infof("ready, session %s", ready.SessionID)
		s.setStatus(GatewayStatusReady)
		s.reportHandshake(nil)

		if s.cfg.ReadyHandler != nil {
			go s.runReadyHandler(&ready)
		}
	case "RESUMED":
		c.readyReached = true
		c.log.Info("resumed")
		s.setStatus(GatewayStatusReady)
		s.reportHandshake(nil)
	}

	if s.cfg.Dispatcher != nil {
		s.cfg.Dispatcher.Dispatch(s.shardID, frame.Type, frame.Data)
	}
}

func (s *Session) runReadyHandler(ready *Ready) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("stack", string(debug.Stack())).Errorf("recovered from panic in ready handler: %v", r)
		}
	}()

	s.cfg.ReadyHandler.HandleReady(s.shardID, ready)
}

func (s *Session) updateSequence(seq int64) {
	s.mu.Lock()
	if seq > s.sequence {
		s.sequence = seq
	}
	s.mu.Unlock()
}

func (s *Session) requestResume() {
	s.mu.Lock()
	s.reconnectRequested = true
	s.mu.Unlock()
}

func (s *Session) invalidateSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.sequence = 0
	s.resumeURL = ""
	s.reconnectRequested = false
	s.mu.Unlock()
}

// writeOp sends a frame on c after passing the rate gate
func (s *Session) writeOp(ctx context.Context, c *connection, op GatewayOP, data interface{}) error {
	payload, err := encodeFrame(op, data)
	if err != nil {
		return errors.WithMessage(err, "encode "+op.String())
	}

	started := time.Now()
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	metricsRateGateWait.Observe(time.Since(started).Seconds())

	if err := c.conn.WriteMessage(payload); err != nil {
		return errors.WithMessage(err, "write "+op.String())
	}

	metricsFramesSent.WithLabelValues(op.String()).Inc()
	return nil
}

// SendCommand sends a frame on the current connection, it's only allowed
// once the session is ready
func (s *Session) SendCommand(ctx context.Context, op GatewayOP, data interface{}) error {
	s.mu.Lock()
	c := s.current
	status := s.status
	s.mu.Unlock()

	if c == nil || status != GatewayStatusReady {
		return ErrNotConnected
	}

	return s.writeOp(ctx, c, op, data)
}

// UpdateStatus updates the presence of the bot on this shard
func (s *Session) UpdateStatus(ctx context.Context, data *UpdateStatusData) error {
	return s.SendCommand(ctx, GatewayOPPresenceUpdate, data)
}

// RequestGuildMembers requests members of a guild on this shard, they arrive
// as GUILD_MEMBERS_CHUNK dispatches
func (s *Session) RequestGuildMembers(ctx context.Context, data *RequestGuildMembersData) error {
	return s.SendCommand(ctx, GatewayOPRequestGuildMembers, data)
}
