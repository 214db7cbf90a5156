package run

import (
	"bytes"
	"fmt"

	"github.com/botlabs-gg/dgateway/common/config"
)

var (
	ConfToken          = config.RegisterOption("dgateway.token", "Bot token used to identify and for REST requests", "")
	ConfShardCount     = config.RegisterOption("dgateway.shard_count", "Number of shards to run, 0 asks the api for the recommended count", 1)
	ConfIntents        = config.RegisterOption("dgateway.intents", "Gateway intents, comma separated names or a number", "DEFAULT")
	ConfGatewayURL     = config.RegisterOption("dgateway.gateway_url", "Gateway url, the one returned by the api is used if empty", "")
	ConfAPIURL         = config.RegisterOption("dgateway.api_url", "REST api url without the version", "https://discord.com/api")
	ConfAPIVersion     = config.RegisterOption("dgateway.api_version", "Gateway and REST api version", 10)
	ConfRatePerMinute  = config.RegisterOption("dgateway.rate_per_minute", "Outbound gateway frames allowed per minute and shard", 110)
	ConfRatePerSecond  = config.RegisterOption("dgateway.rate_per_second", "Outbound gateway frames allowed per second and shard", 2)
	ConfShardDelay     = config.RegisterOption("dgateway.shard_start_delay_ms", "Milliseconds waited between a shard becoming ready and starting the next", 1000)
	ConfBootstrapHB    = config.RegisterOption("dgateway.heartbeat_bootstrap_ms", "Heartbeat interval in milliseconds until the first ack", 4000)
	ConfRedis          = config.RegisterOption("dgateway.redis", "Redis address, enables the shared identify limiter, redis config and the command cache", "")
	ConfPromListenAddr = config.RegisterOption("dgateway.prom_listen_addr", "Prometheus and status listen host", "")
	ConfPromPortRange  = config.RegisterOption("dgateway.prom_listen_port_range", "Prometheus and status listen port range", "6001-6100")
	ConfSentryDSN      = config.RegisterOption("dgateway.sentry_dsn", "Sentry credentials for sentry logging hook", "")
	ConfNodeID         = config.RegisterOption("dgateway.node_id", "The id of this node, a random one is generated if empty", "")
)

// ConfigDocs describes every registered option and the environment
// variable that sets it
func ConfigDocs(manager *config.ConfigManager) string {
	var out bytes.Buffer

	for _, v := range manager.Sorted() {
		out.WriteString("**" + v.Description + "**")

		typeStr := ""
		def := ""
		switch t := v.DefaultValue.(type) {
		case string:
			typeStr = "string"
			def = t
		case bool:
			typeStr = "true/false"
			def = fmt.Sprint(t)
		case int:
			typeStr = "number"
			def = fmt.Sprint(t)
		}

		if typeStr != "" {
			out.WriteString(" (" + typeStr)
			if def != "" {
				out.WriteString(", default: " + def)
			}
			out.WriteString(")")
		}
		out.WriteString("\n")

		out.WriteString(config.EnvKey(v.Name) + "\n\n")
	}

	return out.String()
}
