package audit

import (
	"context"
	"log/slog"
)

// Sink receives streamed attempts. The Kafka producer implements this; so
// does Store for tests.
type Sink interface {
	Append(ctx context.Context, attempt Attempt) error
}

// Worker drains streamed attempts into a sink. A failed delivery is logged
// and dropped rather than retried: the store copy written by the Publisher is
// the durable record, the stream is for downstream consumers.
type Worker struct {
	sink   Sink
	inbox  <-chan Attempt
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Attempt, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case attempt := <-w.inbox:
			if err := w.sink.Append(ctx, attempt); err != nil && w.logger != nil {
				w.logger.WarnContext(ctx, "audit sink delivery failed",
					"attempt_id", attempt.ID,
					"error", err,
				)
			}
		}
	}
}
