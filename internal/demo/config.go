// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package demo wires the saga engine into a runnable demonstration: a
// configurable store backend, simulated order collaborators, Prometheus
// metrics, and the recovery scheduler.
package demo

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the demo's full configuration, loadable from sagaflow.yaml.
type Config struct {
	Storage struct {
		// Backend selects the execution store: memory, mysql, or redis.
		Backend string `json:"backend" yaml:"backend"`
		MySQL   struct {
			DSN string `json:"dsn" yaml:"dsn"`
		} `json:"mysql" yaml:"mysql"`
		Redis struct {
			Addr      string `json:"addr" yaml:"addr"`
			Password  string `json:"password" yaml:"password"`
			DB        int    `json:"db" yaml:"db"`
			KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
		} `json:"redis" yaml:"redis"`
	} `json:"storage" yaml:"storage"`

	Recovery struct {
		Schedule  string        `json:"schedule" yaml:"schedule"`
		OlderThan time.Duration `json:"older_than" yaml:"older_than"`
	} `json:"recovery" yaml:"recovery"`

	Metrics struct {
		// Addr is the listen address for the Prometheus scrape endpoint.
		// Empty disables the endpoint.
		Addr string `json:"addr" yaml:"addr"`
	} `json:"metrics" yaml:"metrics"`

	Logging struct {
		Level string `json:"level" yaml:"level"`
	} `json:"logging" yaml:"logging"`

	Demo struct {
		// Orders is the number of demo orders to submit.
		Orders int `json:"orders" yaml:"orders"`

		// DeclineEvery makes every Nth payment decline so the
		// compensation path is exercised. Zero disables declines.
		DeclineEvery int `json:"decline_every" yaml:"decline_every"`
	} `json:"demo" yaml:"demo"`
}

// LoadConfig reads sagaflow.yaml from the working directory, falling back to
// defaults for anything unset. A missing file is not an error.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("sagaflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key_prefix", "sagaflow:")
	v.SetDefault("recovery.schedule", "@every 1m")
	v.SetDefault("recovery.older_than", 5*time.Minute)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("logging.level", "info")
	v.SetDefault("demo.orders", 5)
	v.SetDefault("demo.decline_every", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "redis":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Demo.Orders < 1 {
		return fmt.Errorf("demo.orders must be >= 1, got %d", c.Demo.Orders)
	}
	return nil
}
