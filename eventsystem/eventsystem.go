// Package eventsystem routes gateway dispatch events to the handler
// registered for their event name.
package eventsystem

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "eventsystem")

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

var metricsHandledEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dgateway_handled_events_total",
	Help: "Dispatch events that had a handler, by event name",
}, []string{"event"})

// HandlerFunc handles an event, returning retry true runs it again after a
// short sleep
type HandlerFunc func(evt *EventData) (retry bool, err error)

type Handler struct {
	Event   string
	F       HandlerFunc
	RunOnce bool

	fired int32
}

type HandlerOption func(h *Handler)

// RunOnce removes the handler after its first event
func RunOnce() HandlerOption {
	return func(h *Handler) {
		h.RunOnce = true
	}
}

type EventData struct {
	ShardID int
	Type    string
	Raw     json.RawMessage

	ctx context.Context
}

func (e *EventData) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}

	return e.ctx
}

func (e *EventData) WithContext(ctx context.Context) *EventData {
	cop := new(EventData)
	*cop = *e
	cop.ctx = ctx
	return cop
}

// Decode decodes the event payload into v
func (e *EventData) Decode(v interface{}) error {
	return jsonCodec.Unmarshal(e.Raw, v)
}

// NormalizeEventName turns names like "on_message_create" into the gateway's
// MESSAGE_CREATE form
func NormalizeEventName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "ON_")
}

// Router holds at most one handler per event name. Dispatch never blocks,
// handlers run in their own goroutine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]*Handler

	// retried handlers run at most this many extra times, sleeping
	// RetrySleep doubled on every attempt
	MaxRetries int
	RetrySleep time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

func NewRouter() *Router {
	return &Router{
		handlers:   make(map[string]*Handler),
		MaxRetries: 4,
		RetrySleep: 500 * time.Millisecond,
		ctx:        context.Background(),
	}
}

// WithContext sets the context handed to handlers through EventData
func (r *Router) WithContext(ctx context.Context) *Router {
	r.ctx = ctx
	return r
}

// AddHandler registers f for event, replacing any existing handler for it
func (r *Router) AddHandler(event string, f HandlerFunc, opts ...HandlerOption) *Handler {
	h := &Handler{
		Event: NormalizeEventName(event),
		F:     f,
	}
	for _, opt := range opts {
		opt(h)
	}

	r.mu.Lock()
	if _, ok := r.handlers[h.Event]; ok {
		logger.Warnf("replacing existing handler for %s", h.Event)
	}
	r.handlers[h.Event] = h
	r.mu.Unlock()

	return h
}

// RemoveHandler removes the handler for event, returning false if there was none
func (r *Router) RemoveHandler(event string) bool {
	event = NormalizeEventName(event)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[event]; !ok {
		return false
	}
	delete(r.handlers, event)
	return true
}

// removeIfCurrent removes h unless it was replaced in the meantime
func (r *Router) removeIfCurrent(h *Handler) {
	r.mu.Lock()
	if r.handlers[h.Event] == h {
		delete(r.handlers, h.Event)
	}
	r.mu.Unlock()
}

// Handler returns the handler registered for event, or nil
func (r *Router) Handler(event string) *Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[NormalizeEventName(event)]
}

// Dispatch implements gateway.Dispatcher
func (r *Router) Dispatch(shardID int, eventType string, data json.RawMessage) {
	r.EmitEvent(&EventData{
		ShardID: shardID,
		Type:    eventType,
		Raw:     data,
		ctx:     r.ctx,
	})
}

// EmitEvent schedules the handler for evt, if any
func (r *Router) EmitEvent(evt *EventData) {
	h := r.Handler(evt.Type)
	if h == nil {
		return
	}

	if h.RunOnce {
		if !atomic.CompareAndSwapInt32(&h.fired, 0, 1) {
			return
		}
		r.removeIfCurrent(h)
	}

	metricsHandledEvents.WithLabelValues(h.Event).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				logger.WithField(logrus.ErrorKey, err).WithField("evt", evt.Type).Error("Recovered from panic in event handler\n" + stack)
			}
		}()

		r.runHandler(h, evt)
	}()
}

func (r *Router) runHandler(h *Handler, evt *EventData) {
	sleepTime := r.RetrySleep
	for attempt := 0; ; attempt++ {
		retry, err := h.F(evt)
		if err != nil {
			logger.WithField("shard", evt.ShardID).WithField("evt", evt.Type).Errorf("An error occurred in an event handler: %+v", err)
		}

		if !retry || attempt >= r.MaxRetries {
			return
		}

		logger.WithField("shard", evt.ShardID).WithField("evt", evt.Type).Errorf("Retrying event handler... %dc", attempt+1)
		time.Sleep(sleepTime)
		sleepTime *= 2
	}
}

// Wait blocks until every running handler has returned
func (r *Router) Wait() {
	r.wg.Wait()
}
