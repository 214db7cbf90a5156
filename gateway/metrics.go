package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsFramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dgateway_gateway_frames_received_total",
	Help: "Gateway frames received, by opcode",
}, []string{"op"})

var metricsFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dgateway_gateway_frames_sent_total",
	Help: "Gateway frames sent, by opcode",
}, []string{"op"})

var metricsReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dgateway_gateway_reconnects_total",
	Help: "Gateway reconnects, by reason",
}, []string{"reason"})

var metricsHeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "dgateway_gateway_heartbeat_latency_seconds",
	Help:    "Time between a heartbeat and its ack",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
})

var metricsRateGateWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "dgateway_gateway_send_wait_seconds",
	Help:    "Time spent waiting on the send rate gate",
	Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
})
