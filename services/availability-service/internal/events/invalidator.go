package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/openhours/libs/kafkax"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Invalidator consumes WindowsChanged events and drops the entity's cached
// results. Every instance needs its own consumer group so each sees every
// event.
type Invalidator struct {
	reader messageReader
	cache  cache.Cache
	logger *slog.Logger
}

type InvalidatorConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

func NewInvalidator(c cache.Cache, logger *slog.Logger, cfg InvalidatorConfig) *Invalidator {
	if cfg.Topic == "" {
		cfg.Topic = TopicWindowsChanged
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Invalidator{reader: reader, cache: c, logger: logger}
}

func (i *Invalidator) Run(ctx context.Context) {
	defer i.reader.Close()

	for {
		msg, err := i.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := i.Handle(ctxSpan, msg); err != nil {
			meta := kafkax.ExtractEventMeta(msg)
			i.logger.Error("invalidation failed", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Handle applies one message. Malformed payloads are logged and skipped so
// they never block the partition.
func (i *Invalidator) Handle(ctx context.Context, msg kafka.Message) error {
	evt, err := DecodeWindowsChanged(msg.Value)
	if err != nil {
		i.logger.Warn("invalid windows changed event", "err", err, "key", string(msg.Key))
		return nil
	}
	i.cache.InvalidatePrefix(ctx, cache.EntityPrefix(evt.EntityKind, evt.EntityID))
	i.logger.Debug("cache invalidated", "entity_kind", evt.EntityKind, "entity_id", evt.EntityID)
	return nil
}
