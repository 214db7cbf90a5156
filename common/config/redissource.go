package config

import (
	"strings"

	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

const DefaultRedisConfigKey = "dgateway_config"

// RedisConfigStore reads options from a redis hash, fields are the option
// names without the "dgateway." prefix
type RedisConfigStore struct {
	Client radix.Client
	Key    string
}

func NewRedisConfigStore(client radix.Client) *RedisConfigStore {
	return &RedisConfigStore{
		Client: client,
		Key:    DefaultRedisConfigKey,
	}
}

func (rs *RedisConfigStore) field(key string) string {
	return strings.TrimPrefix(key, "dgateway.")
}

func (rs *RedisConfigStore) GetValue(key string) interface{} {
	var v string
	err := rs.Client.Do(radix.Cmd(&v, "HGET", rs.Key, rs.field(key)))
	if err != nil {
		logrus.WithError(err).Error("[redis_config_source] failed retrieving value")
		return nil
	}

	if v == "" {
		return nil
	}

	return v
}

func (rs *RedisConfigStore) SaveValue(key, value string) error {
	return rs.Client.Do(radix.Cmd(nil, "HSET", rs.Key, rs.field(key), value))
}

func (rs *RedisConfigStore) Name() string {
	return "redis"
}
