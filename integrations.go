package sentrykit

import (
	"runtime"
)

// Integration is a capability object that plugs into the event pipeline.
// Setup runs once at client construction; ProcessEvent is invoked per event
// in registration order, and returning nil drops the event.
type Integration interface {
	Name() string
	Setup(options *ClientOptions)
	ProcessEvent(event *Event, options *ClientOptions) *Event
}

// environmentIntegration fills in runtime and device contexts on events that
// do not already carry them.
type environmentIntegration struct{}

func (environmentIntegration) Name() string { return "Environment" }

func (environmentIntegration) Setup(options *ClientOptions) {}

func (environmentIntegration) ProcessEvent(event *Event, options *ClientOptions) *Event {
	if event.Contexts == nil {
		event.Contexts = make(map[string]Context)
	}
	if _, ok := event.Contexts["runtime"]; !ok {
		event.Contexts["runtime"] = Context{
			"name":    "go",
			"version": runtime.Version(),
		}
	}
	if _, ok := event.Contexts["os"]; !ok {
		event.Contexts["os"] = Context{"name": runtime.GOOS}
	}
	if _, ok := event.Contexts["device"]; !ok {
		event.Contexts["device"] = Context{
			"arch":    runtime.GOARCH,
			"num_cpu": runtime.NumCPU(),
		}
	}
	return event
}

func defaultIntegrations() []Integration {
	return []Integration{environmentIntegration{}}
}
