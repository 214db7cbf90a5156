package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/botlabs-gg/dgateway/common/config"
	"github.com/botlabs-gg/dgateway/common/run"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/shardmanager"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/jedib0t/go-pretty/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/cli"
)

type RunCommand struct {
	Ui cli.Ui
}

func (c *RunCommand) Help() string {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	(&run.Flags{}).Register(fs)

	var help strings.Builder
	help.WriteString("Usage: dgateway run [options]\n\n  " + c.Synopsis() + ", configured through DGATEWAY_* environment variables (see dgateway config).\n\nOptions:\n")
	fs.SetOutput(&help)
	fs.PrintDefaults()
	return help.String()
}

func (c *RunCommand) Run(args []string) int {
	var flags run.Flags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.Usage = func() { c.Ui.Output(c.Help()) }
	flags.Register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	err := run.Run(&flags)
	if err == nil {
		return 0
	}

	var fatal *gateway.FatalError
	if errors.As(err, &fatal) {
		c.Ui.Error(fmt.Sprintf("shard %d was rejected by the gateway (close code %d): %v", fatal.ShardID, fatal.Code, fatal.Err))
		return 2
	}

	c.Ui.Error("Error: " + err.Error())
	return 1
}

func (c *RunCommand) Synopsis() string {
	return "connects and runs every shard of this node"
}

type StatusCommand struct {
	Ui   cli.Ui
	Addr string
}

func (c *StatusCommand) Help() string {
	return "Usage: dgateway status [address]\n\n  " + c.Synopsis() + ", address defaults to $DGATEWAY_STATUS_ADDR or http://127.0.0.1:6001"
}

func (c *StatusCommand) Run(args []string) int {
	addr := c.Addr
	if len(args) > 0 && args[0] != "" {
		addr = args[0]
	}
	if addr == "" {
		addr = "http://127.0.0.1:6001"
	}

	status, err := fetchStatus(addr)
	if err != nil {
		c.Ui.Error("Error: " + err.Error())
		return 1
	}

	c.Ui.Output(renderStatus(status))
	return 0
}

func (c *StatusCommand) Synopsis() string {
	return "display the status of every shard of a running node"
}

func fetchStatus(addr string) (*shardmanager.Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequest("GET", strings.TrimSuffix(addr, "/")+"/status", nil)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}
	httpReq = httpReq.WithContext(ctx)

	resp, err := cleanhttp.DefaultClient().Do(httpReq)
	if err != nil {
		return nil, errors.WithMessage(err, "status request")
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("status request: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status shardmanager.Status
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &status); err != nil {
		return nil, errors.WithMessage(err, "decode status")
	}
	return &status, nil
}

func renderStatus(status *shardmanager.Status) string {
	tb := table.NewWriter()
	tb.AppendHeader(table.Row{"shard", "status", "session", "sequence", "last ack"})

	ready := 0
	for _, s := range status.Shards {
		if s.Status == gateway.GatewayStatusReady {
			ready++
		}

		if !s.Started {
			tb.AppendRow(table.Row{s.Shard, "not started", "", "", ""})
			continue
		}

		lastAck := ""
		if !s.LastHeartbeatAck.IsZero() {
			lastAck = s.LastHeartbeatAck.Format(time.RFC3339)
		}

		tb.AppendRow(table.Row{s.Shard, s.Status.String(), s.SessionID, s.Sequence, lastAck})
	}

	tb.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d ready", ready, status.NumShards), "node " + status.Node, "", ""})
	return tb.Render()
}

type IntentsCommand struct {
	Ui cli.Ui
}

func (c *IntentsCommand) Help() string {
	return "Usage: dgateway intents [names or mask]\n\n  " + c.Synopsis() + ", lists every intent if none are given"
}

func (c *IntentsCommand) Run(args []string) int {
	tb := table.NewWriter()
	tb.AppendHeader(table.Row{"bit", "value", "intent"})

	if len(args) == 0 {
		for i, name := range gateway.IntentNames {
			tb.AppendRow(table.Row{i, 1 << i, name})
		}
		c.Ui.Output(tb.Render())
		return 0
	}

	intents, err := gateway.ParseIntents(strings.Join(args, ","))
	if err != nil {
		c.Ui.Error("Error: " + err.Error())
		return 1
	}

	for i, name := range gateway.IntentNames {
		if intents&(1<<i) != 0 {
			tb.AppendRow(table.Row{i, 1 << i, name})
		}
	}
	tb.AppendFooter(table.Row{"", strconv.Itoa(int(intents)), "mask"})

	c.Ui.Output(tb.Render())
	return 0
}

func (c *IntentsCommand) Synopsis() string {
	return "computes the intent mask for a set of intent names"
}

type ConfigCommand struct {
	Ui cli.Ui
}

func (c *ConfigCommand) Help() string {
	return c.Synopsis()
}

func (c *ConfigCommand) Run(args []string) int {
	c.Ui.Output(run.ConfigDocs(config.Singleton))
	return 0
}

func (c *ConfigCommand) Synopsis() string {
	return "describes every config option and its environment variable"
}

type VersionCommand struct {
	Ui cli.Ui
}

func (c *VersionCommand) Help() string {
	return c.Synopsis()
}

func (c *VersionCommand) Run(args []string) int {
	c.Ui.Output("dgateway " + run.VERSION + " (api v" + gateway.APIVersion + ")")
	return 0
}

func (c *VersionCommand) Synopsis() string {
	return "prints the version"
}
