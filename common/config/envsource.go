package config

import (
	"os"
	"strings"
)

// EnvSource maps "dgateway.shard_count" to DGATEWAY_SHARD_COUNT
type EnvSource struct {
	// lookup, os.LookupEnv if nil
	LookupEnv func(key string) (string, bool)
}

func EnvKey(key string) string {
	return strings.Replace(strings.ToUpper(key), ".", "_", -1)
}

func (e *EnvSource) GetValue(key string) interface{} {
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	v, ok := lookup(EnvKey(key))
	if !ok || v == "" {
		return nil
	}
	return v
}

func (e *EnvSource) Name() string {
	return "env"
}
