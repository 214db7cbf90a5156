// Package shardmanager brings up one gateway session per shard, one
// handshake at a time, and keeps them running until shutdown or until a
// shard is rejected with a fatal close code.
package shardmanager

import (
	"context"
	"strconv"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var logger = logrus.WithField("p", "shardmanager")

var ErrAlreadyStarted = errors.NewPlain("shard manager already started")

// DefaultShardStartDelay is waited between a shard's handshake and starting the next
const DefaultShardStartDelay = time.Second

// ConfigFunc returns the session config for a shard
type ConfigFunc func(shardID int) gateway.Config

type Manager struct {
	sync.RWMutex

	// Name of this node, used as a prefix in event logs
	Name string

	// All the shard sessions, in the order they were started
	Sessions []*gateway.Session

	// Called on events, by default this logs them through logrus.
	// Set it to nil for nothing.
	OnEvent func(e *Event)

	// ConfigFunc provides the session config for each shard
	ConfigFunc ConfigFunc

	ShardStartDelay time.Duration

	numShards int
	started   bool

	// held by the shard currently doing its handshake
	admission *semaphore.Weighted

	errMu       sync.Mutex
	sessionErrs error
}

// New creates a shard manager for numShards shards, Run starts connecting
func New(numShards int, configFunc ConfigFunc) *Manager {
	if numShards < 1 {
		numShards = 1
	}

	m := &Manager{
		ConfigFunc:      configFunc,
		ShardStartDelay: DefaultShardStartDelay,
		numShards:       numShards,
		admission:       semaphore.NewWeighted(1),
	}
	m.OnEvent = m.LogConnectionEventStd

	return m
}

// GetNumShards returns the number of shards managed
func (m *Manager) GetNumShards() int {
	return m.numShards
}

// Run starts every shard in order and blocks until ctx is cancelled or a
// shard fails fatally. Shard n+1 isn't started before shard n is ready.
// A nil error is returned on shutdown, otherwise every fatal session error.
func (m *Manager) Run(ctx context.Context) error {
	m.Lock()
	if m.started {
		m.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.Sessions = make([]*gateway.Session, 0, m.numShards)
	m.Unlock()

	metricsTotalShards.Set(float64(m.numShards))

	g, gctx := errgroup.WithContext(ctx)
	go m.runUpdateMetrics(gctx)

	if err := m.startShards(gctx, g); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("aborted starting shards")
	}

	g.Wait()
	m.handleEvent(EventClose, -1, "")

	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.sessionErrs
}

func (m *Manager) startShards(ctx context.Context, g *errgroup.Group) error {
	for shardID := 0; shardID < m.numShards; shardID++ {
		session := m.initSession(shardID)

		if err := m.admission.Acquire(ctx, 1); err != nil {
			return err
		}

		outcome := make(chan error, 1)
		session.NotifyHandshake(outcome)

		g.Go(func() error {
			return m.runSession(ctx, session)
		})
		m.handleEvent(EventOpen, shardID, "")

		var err error
		select {
		case err = <-outcome:
		case <-ctx.Done():
			err = ctx.Err()
		}

		m.admission.Release(1)
		if err != nil {
			return errors.WithMessage(err, "shard "+strconv.Itoa(shardID))
		}

		if shardID < m.numShards-1 && m.ShardStartDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.ShardStartDelay):
			}
		}
	}

	return nil
}

func (m *Manager) runSession(ctx context.Context, session *gateway.Session) error {
	err := session.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	m.errMu.Lock()
	m.sessionErrs = multierr.Append(m.sessionErrs, err)
	m.errMu.Unlock()

	// cancels every other session
	return err
}

func (m *Manager) initSession(shardID int) *gateway.Session {
	cfg := m.ConfigFunc(shardID)

	userOnStatus := cfg.OnStatus
	cfg.OnStatus = func(shardID int, from, to gateway.GatewayStatus) {
		m.onSessionStatus(shardID, from, to)
		if userOnStatus != nil {
			userOnStatus(shardID, from, to)
		}
	}

	session := gateway.NewSession(shardID, m.numShards, cfg)

	m.Lock()
	m.Sessions = append(m.Sessions, session)
	m.Unlock()

	return session
}

func (m *Manager) onSessionStatus(shardID int, from, to gateway.GatewayStatus) {
	if typ, ok := statusEvent(from, to); ok {
		m.handleEvent(typ, shardID, "")
	}
}

// SessionForGuild returns the session for the specified guild, nil if that
// shard isn't started yet
func (m *Manager) SessionForGuild(guildID int64) *gateway.Session {
	// (guild_id >> 22) % num_shards == shard_id
	return m.Session(int((guildID >> 22) % int64(m.numShards)))
}

// Session returns the session of a shard, nil if it's not started
func (m *Manager) Session(shardID int) *gateway.Session {
	m.RLock()
	defer m.RUnlock()

	if shardID < 0 || shardID >= len(m.Sessions) {
		return nil
	}
	return m.Sessions[shardID]
}

// LogConnectionEventStd is the standard connection event logger
func (m *Manager) LogConnectionEventStd(e *Event) {
	l := logger
	if m.Name != "" {
		l = l.WithField("node", m.Name)
	}

	if e.Type == EventFatal || e.Type == EventDisconnected {
		l.Warn(e.String())
		return
	}
	l.Info(e.String())
}

func (m *Manager) handleEvent(typ EventType, shard int, msg string) {
	if m.OnEvent == nil {
		return
	}

	evt := &Event{
		Type:      typ,
		Shard:     shard,
		NumShards: m.numShards,
		Msg:       msg,
		Time:      time.Now(),
	}

	go m.OnEvent(evt)
}

// GetFullStatus retrieves the status of every shard at this instant
func (m *Manager) GetFullStatus() *Status {
	m.RLock()
	sessions := make([]*gateway.Session, len(m.Sessions))
	copy(sessions, m.Sessions)
	m.RUnlock()

	result := make([]*ShardStatus, m.numShards)
	for i := range result {
		result[i] = &ShardStatus{
			Shard: i,
		}

		if i >= len(sessions) {
			continue
		}

		session := sessions[i]
		result[i].Started = true
		result[i].Status = session.Status()
		result[i].SessionID, result[i].Sequence = session.SessionInfo()
		_, result[i].LastHeartbeatAck = session.HeartbeatStats()
	}

	return &Status{
		Node:      m.Name,
		NumShards: m.numShards,
		Shards:    result,
	}
}

type Status struct {
	Node      string         `json:"node"`
	NumShards int            `json:"num_shards"`
	Shards    []*ShardStatus `json:"shards"`
}

type ShardStatus struct {
	Shard            int                   `json:"shard"`
	Status           gateway.GatewayStatus `json:"status"`
	Started          bool                  `json:"started"`
	SessionID        string                `json:"session_id"`
	Sequence         int64                 `json:"sequence"`
	LastHeartbeatAck time.Time             `json:"last_heartbeat_ack"`
}
