package rrplugin

import (
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/your-org/sentrykit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SubmitResult reports the outcome of an RPC submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"event_id"`
	Error    string `json:"error,omitempty"`
}

// RPC exposes event submission to out-of-process workers.
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance.
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// SubmitEvent decodes an event payload produced by a worker and runs it
// through the pipeline.
func (r *RPC) SubmitEvent(payload []byte, result *SubmitResult) error {
	event := sentrykit.NewEvent()
	if err := json.Unmarshal(payload, event); err != nil {
		r.logger.Error("failed to decode event payload", zap.Error(err))
		*result = SubmitResult{Error: err.Error()}
		return nil
	}

	eventID := r.plugin.SubmitEvent(event)
	*result = SubmitResult{
		Accepted: true,
		EventID:  string(eventID),
	}

	r.logger.Debug("event queued for processing",
		zap.String("event_id", string(eventID)))
	return nil
}

// SubmitBatch decodes and submits a batch of event payloads.
func (r *RPC) SubmitBatch(payloads [][]byte, result *[]*SubmitResult) error {
	results := make([]*SubmitResult, len(payloads))
	for i, payload := range payloads {
		results[i] = &SubmitResult{}
		if err := r.SubmitEvent(payload, results[i]); err != nil {
			results[i].Error = err.Error()
		}
	}
	*result = results
	return nil
}
