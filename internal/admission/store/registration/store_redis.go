package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"turnstile/internal/admission/models"
	"turnstile/internal/admission/ports"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

const redisKeyPrefix = "registration:"

// RedisStore persists registrations as JSON values. Commits run inside
// WATCH/MULTI: if the key changes between load and commit the transaction
// fails, which maps onto the same conflict semantics as the version column in
// PostgreSQL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// redisRegistration is the stored JSON shape.
type redisRegistration struct {
	ID               uuid.UUID      `json:"id"`
	AttendeeID       int64          `json:"attendee_id"`
	ConferenceID     int64          `json:"conference_id"`
	SessionID        *int64         `json:"session_id,omitempty"`
	Status           models.Status  `json:"status"`
	LastTransitionAt int64          `json:"last_transition_at,omitempty"`
	LastTransitionBy string         `json:"last_transition_by,omitempty"`
	Version          int64          `json:"version"`
}

func redisKey(key models.RegistrationKey) string {
	return redisKeyPrefix + key.String()
}

func (s *RedisStore) Create(ctx context.Context, registration *models.Registration) error {
	value, err := marshalRegistration(registration)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisKey(registration.Key()), value, 0).Result()
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	value, err := s.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return unmarshalRegistration([]byte(value))
}

func (s *RedisStore) LoadForUpdate(ctx context.Context, key models.RegistrationKey) (ports.Guard, error) {
	reg, err := s.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return &redisGuard{
		store:    s,
		key:      redisKey(key),
		snapshot: reg,
		version:  reg.Version,
	}, nil
}

type redisGuard struct {
	store    *RedisStore
	key      string
	snapshot *models.Registration
	version  int64
	released bool
}

func (g *redisGuard) Registration() *models.Registration {
	return g.snapshot
}

func (g *redisGuard) Commit(ctx context.Context, newStatus models.Status, actor string) (*models.Registration, error) {
	if g.released {
		return nil, sentinel.ErrGuardReleased
	}
	g.released = true

	var committed *models.Registration
	err := g.store.client.Watch(ctx, func(tx *redis.Tx) error {
		value, err := tx.Get(ctx, g.key).Result()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}

		current, err := unmarshalRegistration([]byte(value))
		if err != nil {
			return err
		}
		if current.Version != g.version {
			return sentinel.ErrConflict
		}

		current.Status = newStatus
		current.LastTransitionAt = requestcontext.Now(ctx)
		current.LastTransitionBy = actor
		current.Version++

		updated, err := marshalRegistration(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, g.key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = current
		return nil
	}, g.key)

	if errors.Is(err, redis.TxFailedErr) {
		// The key changed between WATCH and EXEC: another station won.
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return committed, nil
}

func (g *redisGuard) Abort(_ context.Context) error {
	g.released = true
	return nil
}

func marshalRegistration(reg *models.Registration) ([]byte, error) {
	wire := redisRegistration{
		ID:               reg.ID,
		AttendeeID:       reg.AttendeeID,
		ConferenceID:     reg.ConferenceID,
		SessionID:        reg.SessionID,
		Status:           reg.Status,
		LastTransitionBy: reg.LastTransitionBy,
		Version:          reg.Version,
	}
	if !reg.LastTransitionAt.IsZero() {
		wire.LastTransitionAt = reg.LastTransitionAt.UnixNano()
	}
	value, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}
	return value, nil
}

func unmarshalRegistration(value []byte) (*models.Registration, error) {
	var wire redisRegistration
	if err := json.Unmarshal(value, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal registration: %w", err)
	}
	reg := &models.Registration{
		ID:               wire.ID,
		AttendeeID:       wire.AttendeeID,
		ConferenceID:     wire.ConferenceID,
		SessionID:        wire.SessionID,
		Status:           wire.Status,
		LastTransitionBy: wire.LastTransitionBy,
		Version:          wire.Version,
	}
	if wire.LastTransitionAt != 0 {
		reg.LastTransitionAt = time.Unix(0, wire.LastTransitionAt)
	}
	return reg, nil
}
