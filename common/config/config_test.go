package config

import (
	"testing"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]interface{}

func (m mapSource) GetValue(key string) interface{} { return m[key] }
func (m mapSource) Name() string                    { return "map" }

func TestLoadPrecedence(t *testing.T) {
	c := NewConfigManager()
	count := c.RegisterOption("dgateway.shard_count", "", 1)
	token := c.RegisterOption("dgateway.token", "", nil)
	enabled := c.RegisterOption("dgateway.enabled", "", false)
	delay := c.RegisterOption("dgateway.shard_start_delay", "", time.Second)

	c.Load()
	assert.Equal(t, 1, count.GetInt())
	assert.Equal(t, "", token.GetString())
	assert.Equal(t, "default", count.SourceName())
	assert.Equal(t, time.Second, delay.GetDuration())

	c.AddSource(mapSource{"dgateway.shard_count": "4", "dgateway.token": "a"})
	c.AddSource(mapSource{"dgateway.token": "b", "dgateway.enabled": "yes", "dgateway.shard_start_delay": "250"})
	c.Load()

	assert.Equal(t, 4, count.GetInt())
	assert.Equal(t, "b", token.GetString())
	assert.True(t, enabled.GetBool())
	assert.Equal(t, 250*time.Millisecond, delay.GetDuration())
	assert.Equal(t, "map", token.SourceName())

	names := []string{}
	for _, v := range c.Sorted() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"dgateway.enabled", "dgateway.shard_count", "dgateway.shard_start_delay", "dgateway.token"}, names)
}

func TestEnvSource(t *testing.T) {
	env := map[string]string{"DGATEWAY_SHARD_COUNT": "8", "DGATEWAY_TOKEN": ""}
	src := &EnvSource{LookupEnv: func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}}

	assert.Equal(t, "DGATEWAY_SHARD_COUNT", EnvKey("dgateway.shard_count"))
	assert.Equal(t, "8", src.GetValue("dgateway.shard_count"))
	assert.Nil(t, src.GetValue("dgateway.token"))
	assert.Nil(t, src.GetValue("dgateway.intents"))
}

func TestRedisConfigStore(t *testing.T) {
	hash := map[string]string{}
	stub := radix.Stub("tcp", "127.0.0.1:6379", func(args []string) interface{} {
		switch args[0] {
		case "HGET":
			if !assert.Equal(t, DefaultRedisConfigKey, args[1]) {
				return nil
			}
			if v, ok := hash[args[2]]; ok {
				return v
			}
			return nil
		case "HSET":
			hash[args[2]] = args[3]
			return 1
		}
		return nil
	})

	store := NewRedisConfigStore(stub)
	assert.Nil(t, store.GetValue("dgateway.intents"))

	require.NoError(t, store.SaveValue("dgateway.intents", "GUILDS,GUILD_MESSAGES"))
	assert.Equal(t, "GUILDS,GUILD_MESSAGES", hash["intents"])
	assert.Equal(t, "GUILDS,GUILD_MESSAGES", store.GetValue("dgateway.intents"))
}
