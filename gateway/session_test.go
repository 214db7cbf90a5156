package gateway_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/gateway/gatewaytest"
	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeartbeatInterval = 41250 * time.Millisecond

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) Dispatch(shardID int, eventType string, data json.RawMessage) {
	d.mu.Lock()
	d.events = append(d.events, eventType)
	d.mu.Unlock()
}

func (d *recordingDispatcher) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

type readyRecorder chan *gateway.Ready

func (r readyRecorder) HandleReady(shardID int, ready *gateway.Ready) {
	r <- ready
}

func testConfig(dialer *gatewaytest.Dialer) gateway.Config {
	return gateway.Config{
		Token:             "Bot.Token",
		Dialer:            dialer,
		IdentifyLimiter:   gatewaytest.NoopIdentifyRatelimiter{},
		BootstrapInterval: 50 * time.Millisecond,
		RatePerMinute:     1000,
		RatePerSecond:     100,
		NewBackOff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
}

type runningSession struct {
	*gateway.Session
	cancel    context.CancelFunc
	err       chan error
	handshake chan error
}

func startSession(t *testing.T, shardID, shardCount int, cfg gateway.Config) *runningSession {
	s := gateway.NewSession(shardID, shardCount, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{
		Session:   s,
		cancel:    cancel,
		err:       make(chan error, 1),
		handshake: make(chan error, 1),
	}
	s.NotifyHandshake(rs.handshake)

	go func() {
		rs.err <- s.Run(ctx)
	}()

	t.Cleanup(cancel)
	return rs
}

func (rs *runningSession) waitExit(t *testing.T) error {
	select {
	case err := <-rs.err:
		return err
	case <-time.After(gatewaytest.DefaultTimeout):
		t.Fatal("session did not exit")
	}
	return nil
}

type identifyPayload struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
	Shard      [2]int            `json:"shard"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

func TestSessionReady(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	dispatcher := &recordingDispatcher{}
	readies := make(readyRecorder, 1)

	cfg := testConfig(dialer)
	cfg.Dispatcher = dispatcher
	cfg.ReadyHandler = readies
	s := startSession(t, 2, 4, cfg)

	conn := dialer.Next(t)
	assert.Equal(t, []string{"wss://gateway.discord.gg/?v=10&encoding=json"}, dialer.URLs())

	frame := conn.Handshake(t, testHeartbeatInterval)
	require.Equal(t, gateway.GatewayOPIdentify, frame.Operation)

	var identify identifyPayload
	require.NoError(t, json.Unmarshal(frame.Data, &identify))
	assert.Equal(t, "Bot.Token", identify.Token)
	assert.Equal(t, 513, identify.Intents)
	assert.Equal(t, [2]int{2, 4}, identify.Shard)
	assert.Equal(t, "dgateway", identify.Properties["browser"])
	assert.Equal(t, gateway.GatewayStatusHandshaking, s.Status())

	conn.Ready(1, "abc", 1234)

	select {
	case err := <-s.handshake:
		assert.NoError(t, err)
	case <-time.After(gatewaytest.DefaultTimeout):
		t.Fatal("no handshake outcome reported")
	}

	select {
	case ready := <-readies:
		assert.Equal(t, "abc", ready.SessionID)
		assert.Equal(t, int64(1234), ready.ApplicationID())
		assert.Equal(t, "dgateway", ready.User.Username)
	case <-time.After(gatewaytest.DefaultTimeout):
		t.Fatal("ready handler not called")
	}

	sessionID, seq := s.SessionInfo()
	assert.Equal(t, "abc", sessionID)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, gateway.GatewayStatusReady, s.Status())
	require.Eventually(t, func() bool {
		return len(dispatcher.Events()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"READY"}, dispatcher.Events())

	lastSent, lastAck := s.HeartbeatStats()
	assert.False(t, lastSent.IsZero())
	assert.False(t, lastAck.IsZero())
}

func TestSessionResumesAfterUnmappedClose(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	dispatcher := &recordingDispatcher{}

	cfg := testConfig(dialer)
	cfg.Dispatcher = dispatcher
	s := startSession(t, 0, 1, cfg)

	conn := dialer.Next(t)
	require.Equal(t, gateway.GatewayOPIdentify, conn.Handshake(t, testHeartbeatInterval).Operation)
	conn.Ready(1, "abc", 1234)
	conn.Send(gateway.GatewayOPDispatch, "MESSAGE_CREATE", 2, map[string]interface{}{"content": "hi"})

	require.Eventually(t, func() bool {
		_, seq := s.SessionInfo()
		return seq == 2
	}, time.Second, time.Millisecond)

	conn.CloseWith(4999, "something went wrong")

	next := dialer.Next(t)
	<-conn.Closed()

	frame := next.Handshake(t, testHeartbeatInterval)
	require.Equal(t, gateway.GatewayOPResume, frame.Operation)

	var resume resumePayload
	require.NoError(t, json.Unmarshal(frame.Data, &resume))
	assert.Equal(t, resumePayload{Token: "Bot.Token", SessionID: "abc", Sequence: 2}, resume)
	assert.Equal(t, gateway.GatewayStatusResuming, s.Status())

	next.Send(gateway.GatewayOPDispatch, "RESUMED", 3, map[string]interface{}{})
	require.Eventually(t, func() bool {
		return len(dispatcher.Events()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, gateway.GatewayStatusReady, s.Status())

	sessionID, seq := s.SessionInfo()
	assert.Equal(t, "abc", sessionID)
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, []string{"READY", "MESSAGE_CREATE", "RESUMED"}, dispatcher.Events())
}

func TestSessionResumeGatewayURL(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.Send(gateway.GatewayOPDispatch, "READY", 1, map[string]interface{}{
		"session_id":         "abc",
		"resume_gateway_url": "wss://resume.example.com",
	})
	conn.CloseWith(1006, "")

	dialer.Next(t)
	urls := dialer.URLs()
	require.Len(t, urls, 2)
	assert.Equal(t, "wss://resume.example.com/?v=10&encoding=json", urls[1])
}

func TestSessionFatalClose(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	s := startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Hello(testHeartbeatInterval)
	conn.CloseWith(4004, "Authentication failed.")

	err := s.waitExit(t)
	require.Error(t, err)
	assert.True(t, gateway.IsFatal(err))
	assert.True(t, errors.Is(err, gateway.ErrBadAuth))

	var fe *gateway.FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 4004, fe.Code)

	assert.Equal(t, gateway.GatewayStatusFatal, s.Status())
	assert.Len(t, dialer.URLs(), 1, "a fatal close must not reconnect")

	select {
	case herr := <-s.handshake:
		assert.Equal(t, err, herr)
	default:
		t.Fatal("fatal error not reported as the handshake outcome")
	}
}

func TestSessionInvalidSessionIdentifiesAgain(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	s := startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.Ready(1, "abc", 1234)
	conn.Send(gateway.GatewayOPInvalidSession, "", 0, false)

	next := dialer.Next(t)
	<-conn.Closed()

	sessionID, seq := s.SessionInfo()
	assert.Equal(t, "", sessionID)
	assert.Equal(t, int64(0), seq)

	assert.Equal(t, gateway.GatewayOPIdentify, next.Handshake(t, testHeartbeatInterval).Operation)
}

func TestSessionReconnectOpResumes(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.Ready(5, "abc", 1234)
	conn.Send(gateway.GatewayOPReconnect, "", 0, nil)

	next := dialer.Next(t)
	frame := next.Handshake(t, testHeartbeatInterval)
	require.Equal(t, gateway.GatewayOPResume, frame.Operation)

	var resume resumePayload
	require.NoError(t, json.Unmarshal(frame.Data, &resume))
	assert.Equal(t, "abc", resume.SessionID)
	assert.Equal(t, int64(5), resume.Sequence)
}

func TestSessionCloseBeforeReadyIdentifiesAgain(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.CloseWith(4000, "")

	// no session id to resume yet
	next := dialer.Next(t)
	assert.Equal(t, gateway.GatewayOPIdentify, next.Handshake(t, testHeartbeatInterval).Operation)
}

func TestSessionSingleHeartbeatLoop(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	cfg := testConfig(dialer)
	cfg.DisableZombieDetection = true
	s := startSession(t, 0, 1, cfg)

	conn := dialer.Next(t)
	for i := 0; i < 3; i++ {
		conn.Hello(testHeartbeatInterval)
		conn.Expect(t, gateway.GatewayOPHeartbeat)
	}

	require.Eventually(t, func() bool {
		_, started, _ := s.HeartbeatLoops()
		return started == 3
	}, time.Second, time.Millisecond)

	running, _, peak := s.HeartbeatLoops()
	assert.Equal(t, int32(1), running)
	assert.Equal(t, int32(1), peak)

	// a reconnect stops the loop of the old connection first
	conn.CloseWith(4000, "")
	next := dialer.Next(t)
	next.Hello(testHeartbeatInterval)
	next.Expect(t, gateway.GatewayOPHeartbeat)

	running, started, peak := s.HeartbeatLoops()
	assert.Equal(t, int32(1), running)
	assert.Equal(t, int32(4), started)
	assert.Equal(t, int32(1), peak)
}

func TestSessionZombieConnection(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Hello(testHeartbeatInterval)
	conn.Expect(t, gateway.GatewayOPHeartbeat)

	// never ack, the next tick notices and reconnects
	next := dialer.Next(t)
	select {
	case <-conn.Closed():
	case <-time.After(gatewaytest.DefaultTimeout):
		t.Fatal("zombied connection not closed")
	}

	assert.Equal(t, gateway.GatewayOPIdentify, next.Handshake(t, testHeartbeatInterval).Operation)
}

func TestSessionDropsMalformedFrames(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	s := startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.SendRaw([]byte("{not json"))
	conn.SendRaw([]byte(`{"op":10,"d":"bad"}`))

	assert.Equal(t, gateway.GatewayOPIdentify, conn.Handshake(t, testHeartbeatInterval).Operation)
	assert.Len(t, dialer.URLs(), 1)
	assert.Equal(t, gateway.GatewayStatusHandshaking, s.Status())
}

func TestSessionHeartbeatRequest(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.Ready(7, "abc", 1234)
	conn.Send(gateway.GatewayOPHeartbeat, "", 0, nil)

	frame := conn.Expect(t, gateway.GatewayOPHeartbeat)
	assert.Equal(t, "7", string(frame.Data))
}

func TestSessionSendCommand(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	s := startSession(t, 0, 1, testConfig(dialer))

	err := s.UpdateStatus(context.Background(), &gateway.UpdateStatusData{Status: "online"})
	assert.Equal(t, gateway.ErrNotConnected, err)

	conn := dialer.Next(t)
	conn.Handshake(t, testHeartbeatInterval)
	conn.Ready(1, "abc", 1234)

	require.Eventually(t, func() bool {
		return s.Status() == gateway.GatewayStatusReady
	}, time.Second, time.Millisecond)

	require.NoError(t, s.UpdateStatus(context.Background(), &gateway.UpdateStatusData{
		Status:     "online",
		Activities: []*gateway.Activity{{Name: "with shards"}},
	}))

	frame := conn.Expect(t, gateway.GatewayOPPresenceUpdate)
	var data gateway.UpdateStatusData
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.Equal(t, "online", data.Status)
	require.Len(t, data.Activities, 1)
	assert.Equal(t, "with shards", data.Activities[0].Name)
}

func TestSessionShutdown(t *testing.T) {
	dialer := gatewaytest.NewDialer()
	s := startSession(t, 0, 1, testConfig(dialer))

	conn := dialer.Next(t)
	conn.Hello(testHeartbeatInterval)
	conn.Expect(t, gateway.GatewayOPHeartbeat)

	s.cancel()
	assert.ErrorIs(t, s.waitExit(t), context.Canceled)
	<-conn.Closed()

	running, _, _ := s.HeartbeatLoops()
	assert.Equal(t, int32(0), running)
	assert.Equal(t, gateway.GatewayStatusDisconnected, s.Status())
}
