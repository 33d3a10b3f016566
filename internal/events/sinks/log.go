// Package sinks ships the built-in consumers for vault events.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/events"
)

// LogSink mirrors the event stream into structured logs. Useful during
// development and audits where a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("vault event",
			zap.ByteString("batch_id", evt.BatchID[:]),
			zap.String("stage", string(evt.Stage)),
			zap.String("shard", evt.Shard),
			zap.String("source", evt.Source),
			zap.String("outcome", evt.Outcome),
			zap.Int64("rows", evt.Rows),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
