package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher records admission attempts. The store append is synchronous so an
// attempt is durable before the coordinator returns; the optional stream is a
// best-effort fan-out to Kafka drained by the Worker.
type Publisher struct {
	store  Store
	stream chan<- Attempt
	logger *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithStream fans recorded attempts out to the given channel. Sends never
// block: if the channel is full the streamed copy is dropped and logged, and
// the durable store copy remains authoritative.
func WithStream(stream chan<- Attempt) Option {
	return func(p *Publisher) {
		p.stream = stream
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Record(ctx context.Context, attempt Attempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}

	if err := p.store.Append(ctx, attempt); err != nil {
		return err
	}

	if p.stream != nil {
		select {
		case p.stream <- attempt:
		default:
			if p.logger != nil {
				p.logger.WarnContext(ctx, "audit stream full, dropping streamed attempt",
					"attempt_id", attempt.ID,
				)
			}
		}
	}
	return nil
}

// List returns attempts for one registration.
func (p *Publisher) List(ctx context.Context, registrationID uuid.UUID) ([]Attempt, error) {
	return p.store.ListByRegistration(ctx, registrationID)
}

// Recent returns the most recent attempts across all registrations.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	return p.store.ListRecent(ctx, limit)
}
