// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads the run configuration an operator hands cmd/profuzz:
// an optional YAML file layered under CLI flag overrides. Every field has a
// contractual default matching spec.md's engine-fixed tunables; a config
// file or flag only narrows from there, it never invents new behavior.
package config

import (
	"os"
	"time"

	"github.com/bbfuzz/profuzz/pkg/fuzzer"
	"github.com/bbfuzz/profuzz/pkg/traits"
	"gopkg.in/yaml.v3"
)

// Config is the full set of operator-facing knobs: the fixed CLI surface
// (input/output directories, UI visibility, resume behavior, verbosity) plus
// the engine's overridable tunables.
type Config struct {
	InputDir   string `yaml:"input_dir"`
	OutputDir  string `yaml:"output_dir"`
	HideUI     bool   `yaml:"hide_ui"`
	AutoResume bool   `yaml:"auto_resume"`
	Verbose    int    `yaml:"verbose"`

	RootIterations        int           `yaml:"root_iterations"`
	MutationsPerRoot       int           `yaml:"mutations_per_root"`
	WindowHighWater        int           `yaml:"window_high_water"`
	WindowTruncateTo       int           `yaml:"window_truncate_to"`
	HealthCheckSkipWindow  time.Duration `yaml:"health_check_skip_window"`
	BackoffBase            time.Duration `yaml:"backoff_base"`
	BackoffCap             time.Duration `yaml:"backoff_cap"`
	BackoffAttempts        int           `yaml:"backoff_attempts"`
}

// Default returns a Config whose tunables match the engine's contractual
// defaults; InputDir/OutputDir are left empty for the caller to fill in.
func Default() Config {
	d := fuzzer.DefaultConfig()
	return Config{
		RootIterations:        d.RootIterations,
		MutationsPerRoot:      d.MutationsPerRoot,
		WindowHighWater:       d.WindowHighWater,
		WindowTruncateTo:      d.WindowTruncateTo,
		HealthCheckSkipWindow: d.HealthCheckSkipWindow,
		BackoffBase:           d.BackoffBase,
		BackoffCap:            d.BackoffCap,
		BackoffAttempts:       d.BackoffAttempts,
	}
}

// LoadFile reads a YAML config file on top of Default(). A missing path is
// not an error — callers pass "" when no -config flag was given.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, traits.IO("read config file", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, traits.Serialize("parse config file", err)
	}
	return cfg, nil
}

// EngineConfig projects the overridable tunables onto a fuzzer.Config,
// starting from fuzzer.DefaultConfig() for the fields this package does not
// expose (read buffer size, corpus-count bonus, post-reset sleep).
func (c Config) EngineConfig() fuzzer.Config {
	ec := fuzzer.DefaultConfig()
	ec.RootIterations = c.RootIterations
	ec.MutationsPerRoot = c.MutationsPerRoot
	ec.WindowHighWater = c.WindowHighWater
	ec.WindowTruncateTo = c.WindowTruncateTo
	ec.HealthCheckSkipWindow = c.HealthCheckSkipWindow
	ec.BackoffBase = c.BackoffBase
	ec.BackoffCap = c.BackoffCap
	ec.BackoffAttempts = c.BackoffAttempts
	return ec
}
