package run

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/botlabs-gg/dgateway/common/config"
	"github.com/botlabs-gg/dgateway/gateway"
	"github.com/botlabs-gg/dgateway/gateway/gatewaytest"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeRequiresToken(t *testing.T) {
	_, err := NewNode(NodeConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestNewNodeDefaults(t *testing.T) {
	n, err := NewNode(NodeConfig{Token: "my.token"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "https://discord.com/api/v10", n.Rest.BaseURL)
	assert.Len(t, n.Registrar.Pending(), 1)
	assert.NotNil(t, n.Router.Handler("INTERACTION_CREATE"))

	cfg := n.SessionConfig(3)
	assert.Equal(t, "my.token", cfg.Token)
	assert.Equal(t, n.Router, cfg.Dispatcher)
	assert.Equal(t, n.Registrar, cfg.ReadyHandler)
	assert.IsType(t, &gateway.StdIdentifyRatelimiter{}, cfg.IdentifyLimiter)
}

func TestLogSorting(t *testing.T) {
	fields := []string{"shard", "msg", "b", "stck", "level", "p", "time", "a"}
	logrusSortingFunc(fields)
	assert.Equal(t, []string{"time", "level", "p", "msg", "stck", "a", "b", "shard"}, fields)
}

func TestConfigDocs(t *testing.T) {
	m := config.NewConfigManager()
	m.RegisterOption("dgateway.shard_count", "Number of shards", 1)
	m.RegisterOption("dgateway.token", "Bot token", "")

	docs := ConfigDocs(m)
	assert.Equal(t, "**Number of shards** (number, default: 1)\nDGATEWAY_SHARD_COUNT\n\n**Bot token** (string)\nDGATEWAY_TOKEN\n\n", docs)
}

func TestNodeRun(t *testing.T) {
	dialer := gatewaytest.NewDialer()

	n, err := NewNode(NodeConfig{
		Token:             "my.token",
		ShardCount:        0,
		Intents:           gateway.IntentsDefault,
		BootstrapInterval: 50 * time.Millisecond,
		ShardStartDelay:   10 * time.Millisecond,
		RatePerMinute:     1000,
		RatePerSecond:     100,
		Dialer:            dialer,
		IdentifyLimiter:   gatewaytest.NoopIdentifyRatelimiter{},
	}, nil)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(n.Rest.HTTPClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://discord.com/api/v10/gateway/bot",
		httpmock.NewStringResponder(200, `{"url":"wss://gateway.test","shards":2,"session_start_limit":{"total":1000,"remaining":999}}`))
	httpmock.RegisterResponder("POST", "https://discord.com/api/v10/applications/1234/commands",
		httpmock.NewStringResponder(201, `{}`))

	callback := make(chan string, 1)
	httpmock.RegisterResponder("POST", "https://discord.com/api/v10/interactions/99/tok/callback",
		func(req *http.Request) (*http.Response, error) {
			var resp struct {
				Data struct {
					Content string `json:"content"`
				} `json:"data"`
			}
			json.NewDecoder(req.Body).Decode(&resp)
			callback <- resp.Data.Content
			return httpmock.NewStringResponse(204, ""), nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()

	var conns []*gatewaytest.Conn
	for i := 0; i < 2; i++ {
		conn := dialer.Next(t)
		conns = append(conns, conn)

		frame := conn.Handshake(t, time.Minute)
		require.Equal(t, gateway.GatewayOPIdentify, frame.Operation)

		var identify struct {
			Token   string `json:"token"`
			Intents int    `json:"intents"`
			Shard   [2]int `json:"shard"`
		}
		require.NoError(t, json.Unmarshal(frame.Data, &identify))
		assert.Equal(t, "my.token", identify.Token)
		assert.Equal(t, 513, identify.Intents)
		assert.Equal(t, [2]int{i, 2}, identify.Shard)

		conn.Ready(1, "session"+strings.Repeat("x", i), 1234)
	}

	assert.Eventually(t, func() bool {
		return httpmock.GetCallCountInfo()["POST https://discord.com/api/v10/applications/1234/commands"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	for _, u := range dialer.URLs() {
		assert.Equal(t, "wss://gateway.test/?v=10&encoding=json", u)
	}

	conns[1].Send(gateway.GatewayOPDispatch, "INTERACTION_CREATE", 2, map[string]interface{}{
		"id":    "99",
		"type":  2,
		"token": "tok",
		"data":  map[string]interface{}{"id": "5", "name": "ping", "type": 1},
	})

	select {
	case content := <-callback:
		assert.Equal(t, "Pong!", content)
	case <-time.After(2 * time.Second):
		t.Fatal("ping was not answered")
	}

	status := n.Manager.GetFullStatus()
	assert.Equal(t, 2, status.NumShards)
	assert.Equal(t, n.ID, status.Node)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}

	// the commands are registered once, not per shard
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["POST https://discord.com/api/v10/applications/1234/commands"])
}
