// Package config holds the process wide option registry. Options are
// registered with a default and resolved against the added sources, the
// last added source that has a value wins.
package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type ConfigSource interface {
	GetValue(key string) interface{}
	Name() string
}

type ConfigOption struct {
	Name         string
	Description  string
	DefaultValue interface{}
	LoadedValue  interface{}
	Manager      *ConfigManager

	// source the loaded value came from, nil for the default
	ConfigSource ConfigSource
}

func (opt *ConfigOption) LoadValue() {
	newVal := opt.DefaultValue
	opt.ConfigSource = nil

	sources := opt.Manager.Sources()
	for i := len(sources) - 1; i >= 0; i-- {
		source := sources[i]

		v := source.GetValue(opt.Name)
		if v != nil {
			newVal = v
			opt.ConfigSource = source
			break
		}
	}

	// parse ahead of time
	switch opt.DefaultValue.(type) {
	case int:
		newVal = intVal(newVal)
	case bool:
		newVal = boolVal(newVal)
	case time.Duration:
		newVal = durationVal(newVal)
	}

	opt.LoadedValue = newVal
}

func (opt *ConfigOption) GetString() string {
	return strVal(opt.LoadedValue)
}

func (opt *ConfigOption) GetInt() int {
	return intVal(opt.LoadedValue)
}

func (opt *ConfigOption) GetBool() bool {
	return boolVal(opt.LoadedValue)
}

func (opt *ConfigOption) GetDuration() time.Duration {
	return durationVal(opt.LoadedValue)
}

// SourceName returns the name of the source the value was loaded from
func (opt *ConfigOption) SourceName() string {
	if opt.ConfigSource == nil {
		return "default"
	}
	return opt.ConfigSource.Name()
}

type ConfigManager struct {
	mu      sync.RWMutex
	sources []ConfigSource
	Options map[string]*ConfigOption
}

func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		Options: make(map[string]*ConfigOption),
	}
}

func (c *ConfigManager) AddSource(source ConfigSource) {
	c.mu.Lock()
	c.sources = append(c.sources, source)
	c.mu.Unlock()
}

func (c *ConfigManager) Sources() []ConfigSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ConfigSource(nil), c.sources...)
}

func (c *ConfigManager) RegisterOption(name, desc string, defaultValue interface{}) *ConfigOption {
	opt := &ConfigOption{
		Name:         name,
		Description:  desc,
		DefaultValue: defaultValue,
		Manager:      c,
	}

	c.mu.Lock()
	c.Options[name] = opt
	c.mu.Unlock()
	return opt
}

func (c *ConfigManager) Load() {
	for _, v := range c.Sorted() {
		v.LoadValue()
	}
}

// Sorted returns every registered option ordered by name
func (c *ConfigManager) Sorted() []*ConfigOption {
	c.mu.RLock()
	out := make([]*ConfigOption, 0, len(c.Options))
	for _, v := range c.Options {
		out = append(out, v)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func strVal(i interface{}) string {
	switch t := i.(type) {
	case string:
		return t
	case int:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case Stringer:
		return t.String()
	}

	return ""
}

type Stringer interface {
	String() string
}

func intVal(i interface{}) int {
	switch t := i.(type) {
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return int(n)
	case int:
		return t
	case time.Duration:
		return int(t)
	}

	return 0
}

func boolVal(i interface{}) bool {
	switch t := i.(type) {
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "true" || lower == "yes" || lower == "on" || lower == "enabled" || lower == "1" {
			return true
		}

		return false
	case int:
		return t > 0
	case bool:
		return t
	}

	return false
}

// durationVal accepts go durations ("1.5s") and plain integers as milliseconds
func durationVal(i interface{}) time.Duration {
	switch t := i.(type) {
	case string:
		t = strings.TrimSpace(t)
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
		n, _ := strconv.ParseInt(t, 10, 64)
		return time.Duration(n) * time.Millisecond
	case int:
		return time.Duration(t) * time.Millisecond
	case time.Duration:
		return t
	}

	return 0
}

// Singleton is the manager the package level helpers operate on
var Singleton = NewConfigManager()

func AddSource(source ConfigSource) {
	Singleton.AddSource(source)
}

func RegisterOption(name, desc string, defaultValue interface{}) *ConfigOption {
	return Singleton.RegisterOption(name, desc, defaultValue)
}

func Load() {
	Singleton.Load()
}
