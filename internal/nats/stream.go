package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

const (
	// StreamName is the name of the fleet audit stream.
	StreamName = "FLEET"

	// SubjectPrefix is the prefix for all fleet event subjects.
	SubjectPrefix = "fleet"
)

// Record is one audited fleet event.
type Record struct {
	Sequence  uint64          `json:"sequence"`
	Type      model.EventType `json:"type"`
	BotID     string          `json:"bot_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (a *AuditLog) ensureStream(ctx context.Context) error {
	if _, err := a.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := a.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      a.maxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Fleet state changes and lead events",
	})
	if err != nil {
		return fmt.Errorf("failed to create audit stream: %w", err)
	}
	a.log.Info("audit stream created", zap.Duration("max_age", a.maxAge))
	return nil
}

// subjectToken makes a bot id safe for use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// EventSubject returns the subject for a bot's event.
func EventSubject(botID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(botID), eventType)
}

// BotFilter returns the filter subject for all events of a bot.
func BotFilter(botID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(botID))
}

// PublishEvent appends a viewer envelope to the audit stream.
func (a *AuditLog) PublishEvent(ctx context.Context, env model.Envelope) (uint64, error) {
	data, err := json.Marshal(env.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}
	rec, err := json.Marshal(Record{
		Type:      env.Type,
		BotID:     env.BotID,
		Data:      data,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	ack, err := a.js.Publish(ctx, EventSubject(env.BotID, env.Type), rec)
	if err != nil {
		metrics.NATSPublishTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.NATSPublishTotal.WithLabelValues("ok").Inc()

	return ack.Sequence, nil
}

// History retrieves a bot's audited events starting after a sequence.
func (a *AuditLog) History(ctx context.Context, botID string, afterSequence uint64, limit int) ([]Record, uint64, bool, error) {
	consumerConfig := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{BotFilter(botID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := a.js.OrderedConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	var records []Record
	var lastSequence uint64
	for msg := range batch.Messages() {
		var rec Record
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			rec.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		records = append(records, rec)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return records, lastSequence, len(records) == limit, nil
}
