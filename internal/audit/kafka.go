package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink streams attempts to a Kafka topic, keyed by registration id so a
// single registration's attempts stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// kafkaAttempt is the wire encoding of one streamed attempt.
type kafkaAttempt struct {
	ID               string  `json:"id"`
	RegistrationID   *string `json:"registration_id,omitempty"`
	Method           string  `json:"method"`
	Outcome          string  `json:"outcome"`
	Reason           string  `json:"reason,omitempty"`
	Station          string  `json:"station"`
	Timestamp        string  `json:"timestamp"`
	CredentialDigest string  `json:"credential_digest,omitempty"`
	Security         bool    `json:"security,omitempty"`
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", err)
	}
	if topicResp, ok := resp[topic]; ok && topicResp.Err != nil && !errors.Is(topicResp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", topicResp.Err)
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

// Append produces one attempt synchronously.
func (s *KafkaSink) Append(ctx context.Context, attempt Attempt) error {
	value, err := encodeKafkaAttempt(attempt)
	if err != nil {
		return err
	}

	key := attempt.ID[:]
	if attempt.RegistrationID != nil {
		key = attempt.RegistrationID[:]
	}

	record := &kgo.Record{Topic: s.topic, Key: key, Value: value}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce attempt: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}

func encodeKafkaAttempt(attempt Attempt) ([]byte, error) {
	wire := kafkaAttempt{
		ID:               attempt.ID.String(),
		Method:           string(attempt.Method),
		Outcome:          string(attempt.Outcome),
		Reason:           attempt.Reason,
		Station:          attempt.Station,
		Timestamp:        attempt.Timestamp.Format(time.RFC3339Nano),
		CredentialDigest: attempt.CredentialDigest,
		Security:         attempt.Security,
	}
	if attempt.RegistrationID != nil {
		rid := attempt.RegistrationID.String()
		wire.RegistrationID = &rid
	}

	value, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt: %w", err)
	}
	return value, nil
}

// DecodeKafkaAttempt parses a streamed record back into an Attempt. Used by
// consumers and the integration tests.
func DecodeKafkaAttempt(value []byte) (Attempt, error) {
	var wire kafkaAttempt
	if err := json.Unmarshal(value, &wire); err != nil {
		return Attempt{}, fmt.Errorf("unmarshal attempt: %w", err)
	}

	id, err := uuid.Parse(wire.ID)
	if err != nil {
		return Attempt{}, fmt.Errorf("parse attempt id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return Attempt{}, fmt.Errorf("parse attempt timestamp: %w", err)
	}

	attempt := Attempt{
		ID:               id,
		Method:           Method(wire.Method),
		Outcome:          Outcome(wire.Outcome),
		Reason:           wire.Reason,
		Station:          wire.Station,
		Timestamp:        ts,
		CredentialDigest: wire.CredentialDigest,
		Security:         wire.Security,
	}
	if wire.RegistrationID != nil {
		rid, err := uuid.Parse(*wire.RegistrationID)
		if err != nil {
			return Attempt{}, fmt.Errorf("parse registration id: %w", err)
		}
		attempt.RegistrationID = &rid
	}
	return attempt, nil
}
