// Package run bootstraps a dgateway process: logging, config sources,
// sentry and the node running the shards.
package run

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/common/config"
	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

const VERSION = "1.0.0"

type Flags struct {
	LogTimestamp bool
	LogFile      string
	Syslog       bool
	LogAppName   string
	Debug        bool
	NodeID       string
}

func (f *Flags) Register(fs *flag.FlagSet) {
	fs.BoolVar(&f.LogTimestamp, "ts", false, "Set to include timestamps in log")
	fs.StringVar(&f.LogFile, "logfile", "", "Also log to this file, rotated at 100MB")
	fs.BoolVar(&f.Syslog, "syslog", false, "Set to log to syslog (only linux)")
	fs.StringVar(&f.LogAppName, "logappname", "dgateway", "When using syslog, the application name will be set to this")
	fs.BoolVar(&f.Debug, "debug", false, "Set to enable debug logging")
	fs.StringVar(&f.NodeID, "nodeid", "", "The id of this node, overrides dgateway.node_id")
}

// Init sets up logging and loads the config, the returned redis client is
// nil unless dgateway.redis is set
func Init(flags *Flags) (radix.Client, error) {
	setupLogging(flags)

	config.AddSource(&config.EnvSource{})
	config.Load()

	var redisClient radix.Client
	if addr := ConfRedis.GetString(); addr != "" {
		pool, err := radix.NewPool("tcp", addr, 4)
		if err != nil {
			return nil, errors.WithMessage(err, "connecting to redis")
		}
		redisClient = pool

		// env stays on top of redis
		config.Singleton.AddSource(config.NewRedisConfigStore(pool))
		config.AddSource(&config.EnvSource{})
		config.Load()
	}

	if flags.NodeID != "" {
		ConfNodeID.LoadedValue = flags.NodeID
	}

	if dsn := ConfSentryDSN.GetString(); dsn != "" {
		addSentryHook(dsn, ConfNodeID.GetString())
	}

	return redisClient, nil
}

// Run initializes and runs a node until SIGINT/SIGTERM
func Run(flags *Flags) error {
	logrus.Info("Starting dgateway version " + VERSION)

	redisClient, err := Init(flags)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	conf, err := LoadNodeConfig()
	if err != nil {
		return err
	}

	node, err := NewNode(conf, redisClient)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listenSignal(ctx, cancel)

	err = node.Run(ctx)
	logrus.Info("Bye..")
	return err
}

func listenSignal(ctx context.Context, cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case <-c:
		logrus.Info("SHUTTING DOWN... ")
		cancel()
	case <-ctx.Done():
	}
}
