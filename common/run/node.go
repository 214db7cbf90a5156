package run

import (
	"context"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/commands"
	"github.com/botlabs-gg/dgateway/common/prom"
	"github.com/botlabs-gg/dgateway/eventsystem"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/rest"
	"github.com/botlabs-gg/dgateway/shardmanager"
	"github.com/google/uuid"
	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("p", "run")

var ErrNoToken = errors.NewPlain("no token configured, set DGATEWAY_TOKEN")

// NodeConfig is everything a node needs, normally loaded from the config options
type NodeConfig struct {
	Token      string
	ShardCount int
	Intents    gateway.Intent
	GatewayURL string
	APIURL     string
	APIVersion string

	RatePerMinute     int
	RatePerSecond     int
	ShardStartDelay   time.Duration
	BootstrapInterval time.Duration

	PromHost      string
	PromPortRange string

	NodeID string

	// the websocket dialer if nil
	Dialer gateway.Dialer
	// overrides the std or redis identify limiter
	IdentifyLimiter gateway.IdentifyRatelimiter
}

// LoadNodeConfig reads the node config from the loaded config options
func LoadNodeConfig() (NodeConfig, error) {
	intents, err := gateway.ParseIntents(ConfIntents.GetString())
	if err != nil {
		return NodeConfig{}, errors.WithMessage(err, "dgateway.intents")
	}

	return NodeConfig{
		Token:             ConfToken.GetString(),
		ShardCount:        ConfShardCount.GetInt(),
		Intents:           intents,
		GatewayURL:        ConfGatewayURL.GetString(),
		APIURL:            ConfAPIURL.GetString(),
		APIVersion:        strconv.Itoa(ConfAPIVersion.GetInt()),
		RatePerMinute:     ConfRatePerMinute.GetInt(),
		RatePerSecond:     ConfRatePerSecond.GetInt(),
		ShardStartDelay:   time.Duration(ConfShardDelay.GetInt()) * time.Millisecond,
		BootstrapInterval: time.Duration(ConfBootstrapHB.GetInt()) * time.Millisecond,
		PromHost:          ConfPromListenAddr.GetString(),
		PromPortRange:     ConfPromPortRange.GetString(),
		NodeID:            ConfNodeID.GetString(),
	}, nil
}

// Node runs every shard of one process along with the REST client, the
// event router and command registration
type Node struct {
	ID     string
	Config NodeConfig

	Redis     radix.Client
	Rest      *rest.Client
	Router    *eventsystem.Router
	Registrar *commands.Registrar

	// set once Run resolved the shard count
	Manager *shardmanager.Manager

	identifyLimiter gateway.IdentifyRatelimiter
}

// NewNode wires a node, redisClient is optional and enables the shared
// identify limiter and the command cache
func NewNode(conf NodeConfig, redisClient radix.Client) (*Node, error) {
	if conf.Token == "" {
		return nil, ErrNoToken
	}

	if conf.NodeID == "" {
		conf.NodeID = uuid.New().String()
	}
	if conf.APIURL == "" {
		conf.APIURL = rest.DefaultAPIURL
	}
	if conf.APIVersion == "" {
		conf.APIVersion = rest.APIVersion
	}

	restClient := rest.New(conf.Token)
	restClient.BaseURL = rest.EndpointAPI(conf.APIURL, conf.APIVersion)

	n := &Node{
		ID:              conf.NodeID,
		Config:          conf,
		Redis:           redisClient,
		Rest:            restClient,
		Router:          eventsystem.NewRouter(),
		Registrar:       commands.NewRegistrar(restClient),
		identifyLimiter: gateway.NewStdIdentifyRatelimiter(),
	}

	if redisClient != nil {
		n.identifyLimiter = gateway.NewRedisIdentifyRatelimiter(redisClient)
		n.Registrar.Cache = redisClient
	}

	if conf.IdentifyLimiter != nil {
		n.identifyLimiter = conf.IdentifyLimiter
	}

	n.Registrar.AttachTo(n.Router)
	n.Registrar.Add(PingCommand())

	return n, nil
}

// SessionConfig returns the gateway config for a shard
func (n *Node) SessionConfig(shardID int) gateway.Config {
	return gateway.Config{
		Token:             n.Config.Token,
		Intents:           n.Config.Intents,
		GatewayURL:        n.Config.GatewayURL,
		APIVersion:        n.Config.APIVersion,
		Dialer:            n.Config.Dialer,
		IdentifyLimiter:   n.identifyLimiter,
		Dispatcher:        n.Router,
		ReadyHandler:      n.Registrar,
		RatePerMinute:     n.Config.RatePerMinute,
		RatePerSecond:     n.Config.RatePerSecond,
		BootstrapInterval: n.Config.BootstrapInterval,
	}
}

// resolveGateway fills in the shard count and gateway url from the api when
// they're not configured
func (n *Node) resolveGateway(ctx context.Context) error {
	if n.Config.ShardCount > 0 && n.Config.GatewayURL != "" {
		return nil
	}

	resp, err := n.Rest.GatewayBot(ctx)
	if err != nil {
		if n.Config.ShardCount > 0 {
			logger.WithError(err).Warn("failed retrieving the gateway url, using the default")
			return nil
		}
		return errors.WithMessage(err, "retrieving the recommended shard count")
	}

	if n.Config.ShardCount < 1 {
		n.Config.ShardCount = resp.Shards
	}
	if n.Config.GatewayURL == "" {
		n.Config.GatewayURL = resp.URL
	}

	logger.Infof("Gateway %s, running %d shards, %d identifies left", n.Config.GatewayURL, n.Config.ShardCount, resp.SessionStartLimit.Remaining)
	return nil
}

// Run connects every shard and blocks until ctx is done or a shard failed
// fatally
func (n *Node) Run(ctx context.Context) error {
	if err := n.resolveGateway(ctx); err != nil {
		return err
	}

	manager := shardmanager.New(n.Config.ShardCount, n.SessionConfig)
	manager.Name = n.ID
	if n.Config.ShardStartDelay > 0 {
		manager.ShardStartDelay = n.Config.ShardStartDelay
	}
	n.Manager = manager

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.Router.WithContext(runCtx)

	promDone := make(chan struct{})
	if n.Config.PromPortRange != "" {
		server := prom.NewServer(n.Config.PromHost, n.Config.PromPortRange, func() interface{} {
			return manager.GetFullStatus()
		})

		go func() {
			defer close(promDone)
			if err := server.Run(runCtx); err != nil {
				logger.WithError(err).Error("prom server stopped")
			}
		}()
	} else {
		close(promDone)
	}

	err := manager.Run(runCtx)
	cancel()

	<-promDone
	n.Router.Wait()

	return err
}

// PingCommand is registered on every node
func PingCommand() *commands.Command {
	return &commands.Command{
		Name:        "ping",
		Description: "Checks if the bot is alive",
		Type:        commands.ApplicationCommandTypeChatInput,
		Run: func(ctx context.Context, interaction *commands.Interaction) (*commands.InteractionResponse, error) {
			return &commands.InteractionResponse{
				Type: commands.InteractionResponseChannelMessageWithSource,
				Data: &commands.InteractionResponseData{Content: "Pong!"},
			}, nil
		},
	}
}
