package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/shardmanager"
	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentsCommand(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &IntentsCommand{Ui: ui}

	require.Equal(t, 0, cmd.Run([]string{"GUILDS", "GUILD_MESSAGES"}))
	out := ui.OutputWriter.String()
	assert.Contains(t, out, "GUILDS")
	assert.Contains(t, out, "GUILD_MESSAGES")
	assert.Contains(t, out, "513")
	assert.NotContains(t, out, "GUILD_BANS")

	ui = cli.NewMockUi()
	cmd = &IntentsCommand{Ui: ui}
	assert.Equal(t, 1, cmd.Run([]string{"NOT_AN_INTENT"}))
	assert.Contains(t, ui.ErrorWriter.String(), "unknown intent")

	ui = cli.NewMockUi()
	cmd = &IntentsCommand{Ui: ui}
	require.Equal(t, 0, cmd.Run(nil))
	assert.Contains(t, ui.OutputWriter.String(), "DIRECT_MESSAGE_TYPING")
}

func TestStatusCommand(t *testing.T) {
	ack := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(&shardmanager.Status{
			Node:      "node-a",
			NumShards: 2,
			Shards: []*shardmanager.ShardStatus{
				{Shard: 0, Started: true, Status: gateway.GatewayStatusReady, SessionID: "abc", Sequence: 42, LastHeartbeatAck: ack},
				{Shard: 1},
			},
		})
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &StatusCommand{Ui: ui}
	require.Equal(t, 0, cmd.Run([]string{srv.URL}), ui.ErrorWriter.String())

	out := ui.OutputWriter.String()
	assert.Contains(t, out, "Ready")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "not started")
	// footers are upper cased by the default table style
	assert.Contains(t, strings.ToLower(out), "1/2 ready")
	assert.Contains(t, strings.ToLower(out), "node-a")
}

func TestStatusCommandUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no status available", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ui := cli.NewMockUi()
	cmd := &StatusCommand{Ui: ui, Addr: srv.URL}
	assert.Equal(t, 1, cmd.Run(nil))
	assert.Contains(t, ui.ErrorWriter.String(), "503")
}

func TestVersionCommand(t *testing.T) {
	ui := cli.NewMockUi()
	require.Equal(t, 0, (&VersionCommand{Ui: ui}).Run(nil))
	assert.Contains(t, ui.OutputWriter.String(), "dgateway 1.0.0")
}

func TestCommands(t *testing.T) {
	cmds := Commands(cli.NewMockUi())
	for _, name := range []string{"run", "status", "intents", "config", "version"} {
		factory, ok := cmds[name]
		require.True(t, ok, name)

		cmd, err := factory()
		require.NoError(t, err)
		assert.NotEmpty(t, cmd.Synopsis())
	}
}
