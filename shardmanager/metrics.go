package shardmanager

import (
	"context"
	"time"

	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsShardStatuses = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "dgateway_shards_status",
	Help: "Shard statuses",
}, []string{"status"})

var metricsTotalShards = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dgateway_shards_total",
	Help: "Total number of shards on this node",
})

func (m *Manager) runUpdateMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second * 10)
	defer ticker.Stop()

	for {
		m.updateShardMetrics()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) updateShardMetrics() {
	statuses := map[string]int{
		"LOADING":      0,
		"READY":        0,
		"DISCONNECTED": 0,
		"FATAL":        0,
	}

	for _, shard := range m.GetFullStatus().Shards {
		switch shard.Status {
		case gateway.GatewayStatusReady:
			statuses["READY"]++
		case gateway.GatewayStatusFatal:
			statuses["FATAL"]++
		case gateway.GatewayStatusDisconnected, gateway.GatewayStatusReconnecting:
			statuses["DISCONNECTED"]++
		default:
			statuses["LOADING"]++
		}
	}

	for k, v := range statuses {
		metricsShardStatuses.With(prometheus.Labels{"status": k}).Set(float64(v))
	}
}
