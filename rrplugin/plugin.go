package rrplugin

import (
	"context"

	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/your-org/sentrykit"
)

// Plugin hosts a sentrykit client inside a RoadRunner/endure container so
// worker processes can submit telemetry over RPC.
type Plugin struct {
	config *Config
	logger *zap.Logger
	client *sentrykit.Client
	hub    *sentrykit.Hub

	metrics *sentrykit.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for the config plugin.
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for the logger plugin.
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Init initializes the plugin.
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("sentrykit_plugin_init")

	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}
	config.InitDefaults()

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)
	p.metrics = sentrykit.NewMetrics()

	options := config.clientOptions()
	options.DebugLogger = p.logger
	options.Metrics = p.metrics

	p.client = sentrykit.NewClient(options)
	p.hub = sentrykit.NewHub(p.client, sentrykit.NewScope())

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("sentrykit plugin initialized",
		zap.Bool("dsn_configured", config.DSN != ""),
		zap.Int("buffer_size", config.BufferSize))

	return nil
}

// Serve starts the plugin.
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E("sentrykit_plugin_serve", errors.Str("plugin not initialized"))
		return errCh
	}

	go func() {
		defer close(p.doneCh)
		<-p.stopCh
		p.client.Close(p.config.ShutdownTimeout)
	}()

	return errCh
}

// Stop stops the plugin, flushing within the configured deadline.
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		p.logger.Warn("plugin stop timed out")
		return ctx.Err()
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface.
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// Provides returns the dependencies this plugin provides.
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*EventSubmitter)(nil), p.Submitter),
	}
}

// Metrics returns the prometheus collector counting deliveries.
func (p *Plugin) Metrics() *sentrykit.Metrics {
	return p.metrics
}

// Submitter returns the submission interface bound into the container.
func (p *Plugin) Submitter() EventSubmitter {
	return p
}

// EventSubmitter is the capability other plugins consume.
type EventSubmitter interface {
	SubmitEvent(event *sentrykit.Event) sentrykit.EventID
	SubmitMessage(message string, level sentrykit.Level) sentrykit.EventID
}

// SubmitEvent runs an event through the hosted client's pipeline.
func (p *Plugin) SubmitEvent(event *sentrykit.Event) sentrykit.EventID {
	return p.hub.CaptureEvent(event)
}

// SubmitMessage captures a plain message.
func (p *Plugin) SubmitMessage(message string, level sentrykit.Level) sentrykit.EventID {
	return p.hub.CaptureMessage(message, level)
}
