package rrplugin

import (
	"time"

	"github.com/your-org/sentrykit"
)

// PluginName is the configuration section the plugin reads.
const PluginName = "sentrykit"

// Config is the plugin configuration section.
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled"`

	// DSN of the ingestion endpoint
	DSN string `mapstructure:"dsn"`

	// Event field defaults
	Release     string `mapstructure:"release"`
	Environment string `mapstructure:"environment"`

	// Sampling
	SampleRate       float64 `mapstructure:"sample_rate"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`

	// Structured log capture
	EnableLogs bool `mapstructure:"enable_logs"`

	// Transport settings
	BufferSize      int           `mapstructure:"buffer_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Compression     bool          `mapstructure:"compression"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// InitDefaults initializes default configuration values.
func (cfg *Config) InitDefaults() {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 30
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
}

// clientOptions converts the section into SDK client options.
func (cfg *Config) clientOptions() sentrykit.ClientOptions {
	return sentrykit.ClientOptions{
		Dsn:                cfg.DSN,
		Release:            cfg.Release,
		Environment:        cfg.Environment,
		SampleRate:         cfg.SampleRate,
		TracesSampleRate:   cfg.TracesSampleRate,
		EnableLogs:         cfg.EnableLogs,
		BufferSize:         cfg.BufferSize,
		Timeout:            cfg.Timeout,
		DisableCompression: !cfg.Compression,
		ShutdownTimeout:    cfg.ShutdownTimeout,
	}
}
