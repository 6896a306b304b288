package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
)

// EventPublisher delivers reply events to the event stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ReplyEvent) (uint64, error)
}

// EventSink publishes events without letting failures reach the caller.
// A nil publisher disables publishing.
type EventSink struct {
	publisher EventPublisher
	logger    *logger.Logger
}

// NewEventSink creates a new event sink.
func NewEventSink(publisher EventPublisher, log *logger.Logger) *EventSink {
	return &EventSink{publisher: publisher, logger: log.Named("events")}
}

// Emit publishes event. Failures are logged and counted.
func (s *EventSink) Emit(ctx context.Context, event *model.ReplyEvent) {
	if s == nil || s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishEvent(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		s.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Int64("business_id", event.BusinessID),
			zap.Error(err))
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "ok").Inc()
}
