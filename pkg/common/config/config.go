/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config provides lookup of event-hub defaults from an optional
// configuration file and/or environment variables. All values have built-in
// defaults so that a configuration source is not required.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	envPrefix = "EVENTHUB"

	// configuration keys
	keyStreamStartTimeout = "eventhub.streamStartTimeout"
	keyResponseTimeout    = "eventhub.responseTimeout"
	keyConsumerBufferSize = "eventhub.consumerBufferSize"
	keyReconnectDelay     = "eventhub.reconnectInitialDelay"
	keyConnectTimeout     = "eventhub.connectTimeout"
	keyKeepAliveTime      = "eventhub.keepAliveTime"
	keyKeepAliveTimeout   = "eventhub.keepAliveTimeout"
	keyFailFast           = "eventhub.failFast"
	keyAllowInsecure      = "eventhub.allowInsecure"
)

var defaults = map[string]interface{}{
	keyStreamStartTimeout: "15s",
	keyResponseTimeout:    "5s",
	keyConsumerBufferSize: 100,
	keyReconnectDelay:     "2s",
	keyConnectTimeout:     "10s",
	keyKeepAliveTime:      "0s",
	keyKeepAliveTimeout:   "20s",
	keyFailFast:           false,
	keyAllowInsecure:      false,
}

// Config provides access to event-hub configuration values
type Config struct {
	backend *viper.Viper
}

// New returns a Config populated with built-in defaults,
// overridable through EVENTHUB_* environment variables.
func New() *Config {
	backend := viper.New()
	backend.SetEnvPrefix(envPrefix)
	backend.AutomaticEnv()
	backend.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		backend.SetDefault(key, value)
	}
	return &Config{backend: backend}
}

// FromFile returns a Config that merges the given configuration file over the
// built-in defaults.
func FromFile(path string) (*Config, error) {
	config := New()
	config.backend.SetConfigFile(path)
	if err := config.backend.MergeInConfig(); err != nil {
		return nil, errors.WithMessagef(err, "error reading config file %s", path)
	}
	return config, nil
}

// StreamStartTimeout is the maximum time to wait for the first message
// after a stream has been started.
func (c *Config) StreamStartTimeout() time.Duration {
	return cast.ToDuration(c.backend.Get(keyStreamStartTimeout))
}

// ResponseTimeout is the timeout when waiting for a response from the hub's
// processing loop.
func (c *Config) ResponseTimeout() time.Duration {
	return cast.ToDuration(c.backend.Get(keyResponseTimeout))
}

// ConsumerBufferSize is the size of the stream event buffer.
func (c *Config) ConsumerBufferSize() uint {
	return cast.ToUint(c.backend.Get(keyConsumerBufferSize))
}

// ReconnectInitialDelay is the delay before a forced reconnect is attempted.
func (c *Config) ReconnectInitialDelay() time.Duration {
	return cast.ToDuration(c.backend.Get(keyReconnectDelay))
}

// ConnectTimeout is the timeout for establishing the underlying connection.
func (c *Config) ConnectTimeout() time.Duration {
	return cast.ToDuration(c.backend.Get(keyConnectTimeout))
}

// KeepAliveTime is the gRPC keepalive interval (0 disables keepalive pings).
func (c *Config) KeepAliveTime() time.Duration {
	return cast.ToDuration(c.backend.Get(keyKeepAliveTime))
}

// KeepAliveTimeout is the gRPC keepalive timeout.
func (c *Config) KeepAliveTimeout() time.Duration {
	return cast.ToDuration(c.backend.Get(keyKeepAliveTimeout))
}

// FailFast indicates whether gRPC calls should fail fast.
func (c *Config) FailFast() bool {
	return cast.ToBool(c.backend.Get(keyFailFast))
}

// AllowInsecure indicates whether connections without TLS are permitted.
func (c *Config) AllowInsecure() bool {
	return cast.ToBool(c.backend.Get(keyAllowInsecure))
}
