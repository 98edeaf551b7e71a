// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the log's tunable parameters. It is a plain,
// YAML-loaded struct rather than a process-wide global: callers construct
// one and thread it through explicitly (see Design Note on global state).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the spec enumerates, plus the clock-skew
// bound that resolves the open question on STH timestamp selection.
type Config struct {
	// LogID identifies this log instance; used as a metric label and as
	// the root of the consistent-store key namespace.
	LogID string `yaml:"log_id"`

	// MMDSeconds is the maximum merge delay: the deadline by which every
	// SCT-issued entry must appear under a published STH.
	MMDSeconds int `yaml:"mmd_seconds"`

	// SigningBatchLimit bounds how many pending entries one sequencing
	// iteration will drain and assign.
	SigningBatchLimit int `yaml:"signing_batch_limit"`

	// SigningIntervalMillis is the sleep between sequencing iterations.
	SigningIntervalMillis int `yaml:"signing_interval_ms"`

	// ServingFreshnessWindowMillis bounds how stale an STH may be and
	// still be eligible to become the serving STH.
	ServingFreshnessWindowMillis int `yaml:"serving_freshness_window_ms"`

	// ClusterQuorum is the minimum number of nodes that must hold an
	// entry before it counts toward the serving STH.
	ClusterQuorum int `yaml:"cluster_quorum"`

	// LeaderLeaseMillis is the election lease TTL.
	LeaderLeaseMillis int `yaml:"leader_lease_ms"`

	// LeaderRefreshMillis is the configured lease renewal interval;
	// Validate requires it to be at most a third of LeaderLeaseMillis.
	// cluster/election does not read it: its etcd session renews the
	// lease on the client library's own keepalive schedule.
	LeaderRefreshMillis int `yaml:"leader_refresh_ms"`

	// FetcherParallelism bounds concurrent mirror-fetch windows.
	FetcherParallelism int `yaml:"fetcher_parallelism"`

	// FetcherWindowSize is the number of entries fetched per window.
	FetcherWindowSize int `yaml:"fetcher_window_size"`

	// MaxClockSkewMillis bounds how far behind the previous STH's
	// timestamp the leader's own clock may be before it refuses to sign
	// (see spec §9's open question on STH timestamp selection).
	MaxClockSkewMillis int `yaml:"max_clock_skew_ms"`

	// GuardWindowMillis excludes entries queued more recently than this
	// from a sequencing pass, so that slow writers to the pending queue
	// can't race ahead of their own queue timestamp.
	GuardWindowMillis int `yaml:"guard_window_ms"`
}

// Default returns a Config with conservative, spec-consistent defaults.
func Default() Config {
	return Config{
		MMDSeconds:                   86400,
		SigningBatchLimit:            1000,
		SigningIntervalMillis:        1000,
		ServingFreshnessWindowMillis: 10 * 60 * 1000,
		ClusterQuorum:                2,
		LeaderLeaseMillis:            15000,
		LeaderRefreshMillis:          3000,
		FetcherParallelism:           10,
		FetcherWindowSize:            1000,
		MaxClockSkewMillis:           1000,
		GuardWindowMillis:            0,
	}
}

// Load reads and parses a YAML config file, applying Default() for any
// zero-valued field left unset.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would violate the system's
// invariants (e.g. a refresh interval too close to the lease TTL risking
// lease loss under normal scheduling jitter).
func (c Config) Validate() error {
	if c.LeaderRefreshMillis*3 > c.LeaderLeaseMillis {
		return fmt.Errorf("config: leader_refresh_ms (%d) too close to leader_lease_ms (%d)", c.LeaderRefreshMillis, c.LeaderLeaseMillis)
	}
	if c.ClusterQuorum < 1 {
		return fmt.Errorf("config: cluster_quorum must be >= 1")
	}
	if c.SigningBatchLimit < 1 {
		return fmt.Errorf("config: signing_batch_limit must be >= 1")
	}
	return nil
}

// MMD returns the maximum merge delay as a time.Duration.
func (c Config) MMD() time.Duration { return time.Duration(c.MMDSeconds) * time.Second }

// SigningInterval returns the inter-iteration sleep as a time.Duration.
func (c Config) SigningInterval() time.Duration {
	return time.Duration(c.SigningIntervalMillis) * time.Millisecond
}

// ServingFreshnessWindow returns the serving-STH freshness bound.
func (c Config) ServingFreshnessWindow() time.Duration {
	return time.Duration(c.ServingFreshnessWindowMillis) * time.Millisecond
}

// LeaderLease returns the election lease TTL.
func (c Config) LeaderLease() time.Duration {
	return time.Duration(c.LeaderLeaseMillis) * time.Millisecond
}

// LeaderRefresh returns the election lease refresh interval.
func (c Config) LeaderRefresh() time.Duration {
	return time.Duration(c.LeaderRefreshMillis) * time.Millisecond
}

// MaxClockSkew returns the bound beyond which the signer refuses to sign.
func (c Config) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewMillis) * time.Millisecond
}

// GuardWindow returns the dequeue guard window.
func (c Config) GuardWindow() time.Duration {
	return time.Duration(c.GuardWindowMillis) * time.Millisecond
}
