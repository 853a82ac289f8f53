// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
)

const (
	// DefaultHealthCheckInterval is the default period of the root health
	// check.
	DefaultHealthCheckInterval = 5 * time.Second
	// DefaultTopologyFile is the default topology document location.
	DefaultTopologyFile = "topology.yml"
)

// Duration is a time.Duration that marshals as text, e.g. "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Service is the stackd service configuration.
type Service struct {
	General General       `toml:"general,omitempty"`
	Logging log.Config    `toml:"log,omitempty"`
	Metrics MetricsConfig `toml:"metrics,omitempty"`
	API     APIConfig     `toml:"api,omitempty"`
	Events  EventsConfig  `toml:"events,omitempty"`
	Rules   RulesConfig   `toml:"rules,omitempty"`
}

// General holds the topology and probing settings.
type General struct {
	// TopologyFile is the path of the topology document.
	TopologyFile string `toml:"topology_file,omitempty"`
	// ProbeSocket is the unix socket keepalive probes are read from.
	ProbeSocket string `toml:"probe_socket,omitempty"`
	// ProbeInterval is the time between keepalive probes per stack port.
	ProbeInterval Duration `toml:"probe_interval,omitempty"`
	// MaxProbeLost is the number of probe intervals without a keepalive
	// after which a stack port is considered gone.
	MaxProbeLost int `toml:"max_probe_lost,omitempty"`
	// HealthCheckInterval is the period of the root health check.
	HealthCheckInterval Duration `toml:"health_check_interval,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the address to serve prometheus metrics on. Empty disables
	// the endpoint.
	Addr string `toml:"addr,omitempty"`
}

// APIConfig configures the status API.
type APIConfig struct {
	// Addr is the address to serve the status API on. Empty disables the
	// API.
	Addr string `toml:"addr,omitempty"`
}

// RulesConfig configures the flow rule delta sink.
type RulesConfig struct {
	// Socket is the unix socket rule deltas are written to. Empty means
	// deltas are only logged.
	Socket string `toml:"socket,omitempty"`
}

// EventsConfig configures the notification sink.
type EventsConfig struct {
	// Socket is the unix socket notifications are written to. Empty
	// disables external notifications.
	Socket string `toml:"socket,omitempty"`
}

// InitDefaults populates unset fields with default values.
func (cfg *Service) InitDefaults() {
	if cfg.General.TopologyFile == "" {
		cfg.General.TopologyFile = DefaultTopologyFile
	}
	if cfg.General.ProbeInterval.Duration == 0 {
		cfg.General.ProbeInterval.Duration = linkstate.DefaultProbeInterval
	}
	if cfg.General.MaxProbeLost == 0 {
		cfg.General.MaxProbeLost = linkstate.DefaultMaxProbeLost
	}
	if cfg.General.HealthCheckInterval.Duration == 0 {
		cfg.General.HealthCheckInterval.Duration = DefaultHealthCheckInterval
	}
	cfg.Logging.InitDefaults()
}

// Validate checks the configuration.
func (cfg *Service) Validate() error {
	cfg.InitDefaults()
	if err := cfg.Logging.Validate(); err != nil {
		return serrors.Wrap("validating log config", err)
	}
	if cfg.General.ProbeInterval.Duration < 0 {
		return serrors.New("negative probe interval")
	}
	if cfg.General.MaxProbeLost < 0 {
		return serrors.New("negative max probe lost")
	}
	if cfg.General.HealthCheckInterval.Duration < 0 {
		return serrors.New("negative health check interval")
	}
	return nil
}

// LinkStateConfig returns the link state configuration derived from the
// general section.
func (cfg *Service) LinkStateConfig() linkstate.Config {
	return linkstate.Config{
		ProbeInterval: cfg.General.ProbeInterval.Duration,
		MaxProbeLost:  cfg.General.MaxProbeLost,
	}
}

// LoadService reads and validates a service configuration file.
func LoadService(path string) (*Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading config file", err, "file", path)
	}
	var cfg Service
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, serrors.Wrap("parsing config file", err, "file", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, serrors.Wrap("validating config file", err, "file", path)
	}
	return &cfg, nil
}

// Sample returns a commented sample configuration.
func Sample() string {
	return `[general]
# Path of the stack topology document.
topology_file = "topology.yml"
# Unix socket keepalive probes are read from.
probe_socket = "/run/stackd/probes.sock"
# Time between keepalive probes per stack port.
probe_interval = "1s"
# Probe intervals without a keepalive after which a port is gone.
max_probe_lost = 3
# Period of the root health check.
health_check_interval = "5s"

[log]
# Log level, one of "debug", "info", "error".
level = "info"
# Log format, either "human" or "json".
format = "human"

[metrics]
# Address to serve prometheus metrics on, empty disables.
addr = "127.0.0.1:9602"

[api]
# Address to serve the status API on, empty disables.
addr = "127.0.0.1:8602"

[events]
# Unix socket notifications are written to, empty disables.
socket = "/run/stackd/events.sock"

[rules]
# Unix socket rule deltas are written to, empty means log only.
socket = "/run/stackd/rules.sock"
`
}
